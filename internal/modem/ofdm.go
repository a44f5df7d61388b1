package modem

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is returned for malformed OFDM parameters or inputs.
var ErrInvalidParams = errors.New("invalid ofdm parameters")

// Frame builder constants
const (
	// CPMargin is added to the worst multipath spread when sizing the prefix.
	CPMargin = 10
	// AvoidanceHalfWidth is the number of bins on each side of the spectral
	// center withheld from data when a strong interferer is active.
	AvoidanceHalfWidth = 10
)

// Params holds the OFDM configuration of one transmission.
type Params struct {
	FFTSize            int        `json:"fftSize" yaml:"fft_size"`
	NumSubcarriers     int        `json:"numSubcarriers" yaml:"num_subcarriers"`
	CyclicPrefixLength int        `json:"cyclicPrefixLength" yaml:"cyclic_prefix_length"`
	Modulation         Modulation `json:"modulation" yaml:"-"`
}

// DefaultParams returns a 64-point, fully loaded QPSK configuration.
func DefaultParams() Params {
	return Params{
		FFTSize:            64,
		NumSubcarriers:     64,
		CyclicPrefixLength: 16,
		Modulation:         ModQPSK,
	}
}

// Validate checks the structural invariants of p.
func (p Params) Validate() error {
	if p.FFTSize < 2 {
		return fmt.Errorf("%w: fftSize %d < 2", ErrInvalidParams, p.FFTSize)
	}
	if p.NumSubcarriers < 1 {
		return fmt.Errorf("%w: numSubcarriers %d < 1", ErrInvalidParams, p.NumSubcarriers)
	}
	if p.NumSubcarriers > p.FFTSize {
		return fmt.Errorf("%w: numSubcarriers %d > fftSize %d", ErrInvalidParams, p.NumSubcarriers, p.FFTSize)
	}
	if p.CyclicPrefixLength < 0 {
		return fmt.Errorf("%w: cyclicPrefixLength %d < 0", ErrInvalidParams, p.CyclicPrefixLength)
	}
	if !p.Modulation.Valid() {
		return fmt.Errorf("%w: unsupported modulation %d", ErrInvalidParams, int(p.Modulation))
	}
	return nil
}

// FrameOptions carries the channel knowledge the transmitter adapts to.
type FrameOptions struct {
	// AvoidCenter withholds the bins around the spectral center.
	AvoidCenter bool
	// MaxDelaySeconds is the largest multipath tap delay.
	MaxDelaySeconds float64
	// SampleRate converts delays to samples.
	SampleRate float64
}

// Layout describes where the pilot-bearing stream sits in the time-frequency
// grid. Transmitter and receiver share it.
type Layout struct {
	FFTSize    int    `json:"fftSize"`
	CPLength   int    `json:"cpLength"`
	NumSymbols int    `json:"numSymbols"`
	DataBins   []int  `json:"dataBins"`
	Withheld   []int  `json:"withheld,omitempty"`
	Pilots     []bool `json:"pilots"`
}

// SymbolLen returns the number of time samples per OFDM symbol, prefix included.
func (l Layout) SymbolLen() int {
	return l.FFTSize + l.CPLength
}

// StreamLen returns the number of pilot and data symbols carried.
func (l Layout) StreamLen() int {
	return len(l.Pilots)
}

// Chunk returns the stream index range carried by OFDM symbol sym.
func (l Layout) Chunk(sym int) (start, end int) {
	start = sym * len(l.DataBins)
	end = start + len(l.DataBins)
	if end > len(l.Pilots) {
		end = len(l.Pilots)
	}
	if start > end {
		start = end
	}
	return start, end
}

// Frame is the output of the frame builder.
type Frame struct {
	Layout Layout
	// Subcarriers holds the frequency grid of every OFDM symbol back to back.
	Subcarriers []complex128
	// TimeDomain holds the transmitted samples, cyclic prefixes included.
	TimeDomain []complex128
}

// ActiveBins returns the numSubcarriers bins centered in the FFT grid.
func ActiveBins(fftSize, numSubcarriers int) []int {
	start := (fftSize - numSubcarriers) / 2
	bins := make([]int, numSubcarriers)
	for i := range bins {
		bins[i] = start + i
	}
	return bins
}

// MapBins splits the active bins into data bins and bins withheld for
// interference avoidance.
func MapBins(fftSize, numSubcarriers int, avoidCenter bool) (data, withheld []int) {
	center := fftSize / 2
	for _, k := range ActiveBins(fftSize, numSubcarriers) {
		if avoidCenter && k >= center-AvoidanceHalfWidth && k <= center+AvoidanceHalfWidth {
			withheld = append(withheld, k)
			continue
		}
		data = append(data, k)
	}
	return data, withheld
}

// CyclicPrefixLength sizes the prefix to cover the worst multipath spread plus
// CPMargin, never going below the configured length.
func CyclicPrefixLength(configured int, maxDelaySeconds, sampleRate float64) int {
	spread := 0
	if maxDelaySeconds > 0 && sampleRate > 0 {
		spread = int(math.Ceil(maxDelaySeconds * sampleRate))
	}
	if need := spread + CPMargin; need > configured {
		return need
	}
	return configured
}

// BuildFrame inserts pilots, maps the stream onto subcarriers and produces
// the time-domain frame with a cyclic prefix on every OFDM symbol.
func BuildFrame(symbols []complex128, p Params, opts FrameOptions) (*Frame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to frame", ErrInvalidParams)
	}

	cpLen := CyclicPrefixLength(p.CyclicPrefixLength, opts.MaxDelaySeconds, opts.SampleRate)

	dataBins, withheld := MapBins(p.FFTSize, p.NumSubcarriers, opts.AvoidCenter)
	if len(dataBins) == 0 {
		return nil, fmt.Errorf("%w: every subcarrier is withheld", ErrInvalidParams)
	}

	stream, mask := InsertPilots(symbols, PilotSpacing(p.NumSubcarriers))
	numSymbols := (len(stream) + len(dataBins) - 1) / len(dataBins)

	layout := Layout{
		FFTSize:    p.FFTSize,
		CPLength:   cpLen,
		NumSymbols: numSymbols,
		DataBins:   dataBins,
		Withheld:   withheld,
		Pilots:     mask,
	}

	frame := &Frame{
		Layout:      layout,
		Subcarriers: make([]complex128, 0, numSymbols*p.FFTSize),
		TimeDomain:  make([]complex128, 0, numSymbols*layout.SymbolLen()),
	}
	for sym := 0; sym < numSymbols; sym++ {
		start, end := layout.Chunk(sym)
		grid := MapSubcarriers(stream[start:end], dataBins, p.FFTSize)
		frame.Subcarriers = append(frame.Subcarriers, grid...)
		frame.TimeDomain = append(frame.TimeDomain, AddCyclicPrefix(IFFT(grid), cpLen)...)
	}
	return frame, nil
}

// MapSubcarriers packs symbols into bins in order; unused bins stay zero.
func MapSubcarriers(symbols []complex128, bins []int, fftSize int) []complex128 {
	grid := make([]complex128, fftSize)
	for i, s := range symbols {
		if i >= len(bins) {
			break
		}
		grid[bins[i]] = s
	}
	return grid
}

// AddCyclicPrefix prepends the last cpLen samples of x. A prefix longer
// than x wraps around, so the result stays periodic in len(x).
func AddCyclicPrefix(x []complex128, cpLen int) []complex128 {
	n := len(x)
	if n == 0 || cpLen <= 0 {
		return append([]complex128(nil), x...)
	}
	out := make([]complex128, cpLen, n+cpLen)
	for i := range out {
		out[i] = x[((i-cpLen)%n+n)%n]
	}
	return append(out, x...)
}

// RemoveCyclicPrefix drops the first cpLen samples.
func RemoveCyclicPrefix(x []complex128, cpLen int) []complex128 {
	if len(x) <= cpLen {
		return nil
	}
	return x[cpLen:]
}
