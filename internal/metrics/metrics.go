// Package metrics scores a completed transmission: error rates, waveform
// peakiness, Shannon capacity and simulation throughput.
package metrics

import (
	"math"
)

// SymbolErrorFactor approximates SER from BER with the 64-QAM bits-per-symbol
// multiplier, whatever scheme was used.
const SymbolErrorFactor = 6

// Record holds the quality metrics of one transmission.
type Record struct {
	BitErrors            int     `json:"bitErrors"`
	InputBits            int     `json:"inputBits"`
	BitErrorRate         float64 `json:"bitErrorRate"`
	SymbolErrorRate      float64 `json:"symbolErrorRate"`
	PAPRDB               float64 `json:"paprDb"`
	ChannelCapacity      float64 `json:"channelCapacity"`
	SpectralEfficiency   float64 `json:"spectralEfficiency"`
	ThroughputBps        float64 `json:"throughputBps"`
	ProcessingDurationMs float64 `json:"processingDurationMs"`
}

// Input bundles what Compute needs.
type Input struct {
	InputBits            []byte
	ReceivedBits         []byte
	Transmitted          []complex128
	ProcessingDurationMs float64
	SNRDB                float64
	// BitsPerSymbol and DataFraction feed the spectral efficiency estimate.
	BitsPerSymbol int
	DataFraction  float64
}

// Compute derives the metrics record of one transmission.
func Compute(in Input) Record {
	errs := BitErrors(in.InputBits, in.ReceivedBits)
	ber := BitErrorRate(errs, len(in.InputBits))

	return Record{
		BitErrors:            errs,
		InputBits:            len(in.InputBits),
		BitErrorRate:         ber,
		SymbolErrorRate:      ber * SymbolErrorFactor,
		PAPRDB:               PAPR(in.Transmitted),
		ChannelCapacity:      Capacity(in.SNRDB),
		SpectralEfficiency:   float64(in.BitsPerSymbol) * in.DataFraction * (1 - ber),
		ThroughputBps:        Throughput(len(in.InputBits), in.ProcessingDurationMs),
		ProcessingDurationMs: in.ProcessingDurationMs,
	}
}

// BitErrors counts position-wise mismatches over the common prefix and adds
// the length difference.
func BitErrors(sent, received []byte) int {
	n := len(sent)
	if len(received) < n {
		n = len(received)
	}
	errs := 0
	for i := 0; i < n; i++ {
		if sent[i]&1 != received[i]&1 {
			errs++
		}
	}
	diff := len(sent) - len(received)
	if diff < 0 {
		diff = -diff
	}
	return errs + diff
}

// BitErrorRate returns errors/inputBits, or 0 without input.
func BitErrorRate(errs, inputBits int) float64 {
	if inputBits == 0 {
		return 0
	}
	return float64(errs) / float64(inputBits)
}

// PAPR returns the peak-to-average power ratio of x in dB, 0 for silence.
func PAPR(x []complex128) float64 {
	if len(x) == 0 {
		return 0
	}
	var peak, sum float64
	for _, v := range x {
		p := real(v)*real(v) + imag(v)*imag(v)
		sum += p
		if p > peak {
			peak = p
		}
	}
	avg := sum / float64(len(x))
	if avg == 0 {
		return 0
	}
	return 10 * math.Log10(peak/avg)
}

// Capacity returns the Shannon capacity log2(1+SNR) in bits/s/Hz.
func Capacity(snrDB float64) float64 {
	return math.Log2(1 + math.Pow(10, snrDB/10))
}

// Throughput returns simulated bits per second of wall-clock processing.
func Throughput(bits int, durationMs float64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return float64(bits) / durationMs * 1000
}
