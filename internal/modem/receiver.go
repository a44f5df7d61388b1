package modem

import "fmt"

// Reception is the output of the receiver pipeline.
type Reception struct {
	// ChannelEstimate holds H(k) for every OFDM symbol back to back.
	ChannelEstimate []complex128
	// Equalized holds the equalized data symbols in stream order, pilots removed.
	Equalized []complex128
	// DecodedBits holds one hard-decision bit per equalized symbol.
	DecodedBits []byte
}

// Receive strips the cyclic prefix of every OFDM symbol, transforms it,
// estimates the channel from the pilots, equalizes and hard-decides.
// The layout is the shared configuration produced by BuildFrame.
func Receive(samples []complex128, layout Layout) (*Reception, error) {
	if layout.FFTSize < 2 || len(layout.DataBins) == 0 {
		return nil, fmt.Errorf("%w: empty layout", ErrInvalidParams)
	}
	symLen := layout.SymbolLen()
	if len(samples) < layout.NumSymbols*symLen {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrInvalidParams, len(samples), layout.NumSymbols*symLen)
	}

	rx := &Reception{
		ChannelEstimate: make([]complex128, 0, layout.NumSymbols*layout.FFTSize),
		Equalized:       make([]complex128, 0, layout.StreamLen()),
	}
	eq := NewEqualizer(layout.FFTSize)

	for sym := 0; sym < layout.NumSymbols; sym++ {
		segment := samples[sym*symLen : (sym+1)*symLen]
		spectrum := FFT(RemoveCyclicPrefix(segment, layout.CPLength))

		start, end := layout.Chunk(sym)
		mask := layout.Pilots[start:end]
		bins := layout.DataBins[:end-start]

		var pilotBins []int
		for i, isPilot := range mask {
			if isPilot {
				pilotBins = append(pilotBins, bins[i])
			}
		}
		eq.EstimateChannel(spectrum, pilotBins)
		rx.ChannelEstimate = append(rx.ChannelEstimate, eq.ChannelResponse()...)

		equalized := eq.Equalize(spectrum, bins)
		rx.Equalized = append(rx.Equalized, ExtractData(equalized, mask)...)
	}

	rx.DecodedBits = Demodulate(rx.Equalized)
	return rx, nil
}
