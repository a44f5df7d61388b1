package modem

import (
	"math/cmplx"
	"sort"
)

// MinChannelPower is the |H|² below which a bin is treated as faded out.
const MinChannelPower = 0.01

// Equalizer performs pilot-based channel estimation and zero-forcing
// equalization for one OFDM symbol.
type Equalizer struct {
	fftSize     int
	channelResp []complex128 // H(k) channel frequency response
}

// NewEqualizer creates an equalizer with a unity channel response.
func NewEqualizer(fftSize int) *Equalizer {
	eq := &Equalizer{fftSize: fftSize}
	eq.reset()
	return eq
}

func (eq *Equalizer) reset() {
	eq.channelResp = make([]complex128, eq.fftSize)
	for k := range eq.channelResp {
		eq.channelResp[k] = complex(1, 0)
	}
}

// EstimateChannel estimates H at the given pilot bins from the received
// spectrum and interpolates between them. Bins outside the pilot span keep
// unity gain.
func (eq *Equalizer) EstimateChannel(received []complex128, pilotBins []int) {
	eq.reset()

	bins := make([]int, 0, len(pilotBins))
	for _, k := range pilotBins {
		if k >= 0 && k < len(received) && k < eq.fftSize {
			bins = append(bins, k)
		}
	}
	sort.Ints(bins)

	for _, k := range bins {
		// H(k) = Y(k) / X(k), X(k) = PilotValue
		eq.channelResp[k] = received[k] / PilotValue
	}

	eq.interpolateChannel(bins)
}

// interpolateChannel fills the bins between consecutive pilots linearly.
func (eq *Equalizer) interpolateChannel(pilotBins []int) {
	for i := 0; i < len(pilotBins)-1; i++ {
		k1, k2 := pilotBins[i], pilotBins[i+1]
		v1, v2 := eq.channelResp[k1], eq.channelResp[k2]

		for k := k1 + 1; k < k2; k++ {
			t := float64(k-k1) / float64(k2-k1)
			realPart := real(v1)*(1-t) + real(v2)*t
			imagPart := imag(v1)*(1-t) + imag(v2)*t
			eq.channelResp[k] = complex(realPart, imagPart)
		}
	}
}

// Equalize performs zero-forcing equalization on the given bins and returns
// the equalized symbols in bin order. Bins with |H|² < MinChannelPower are
// forced to zero.
func (eq *Equalizer) Equalize(receivedSpectrum []complex128, bins []int) []complex128 {
	out := make([]complex128, len(bins))
	for i, k := range bins {
		if k < 0 || k >= len(receivedSpectrum) || k >= eq.fftSize {
			continue
		}
		out[i] = ZeroForce(receivedSpectrum[k], eq.channelResp[k])
	}
	return out
}

// ZeroForce divides y by h as y·conj(h)/|h|², returning zero for a faded h.
func ZeroForce(y, h complex128) complex128 {
	hPow := Power(h)
	if hPow < MinChannelPower {
		return 0
	}
	return y * cmplx.Conj(h) / complex(hPow, 0)
}

// ChannelResponse returns a copy of the estimated channel response.
func (eq *Equalizer) ChannelResponse() []complex128 {
	out := make([]complex128, len(eq.channelResp))
	copy(out, eq.channelResp)
	return out
}
