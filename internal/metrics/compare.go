package metrics

import "math"

// Projection factors for the enhanced waveform. These are illustrative
// constants, not the output of a second pipeline.
const (
	EnhancedBERFactor          = 0.7
	EnhancedDopplerFactor      = 3.0
	BaselineDopplerToleranceHz = 100.0
	// MaxDopplerHz normalizes the Doppler impact to [0,1].
	MaxDopplerHz = 1000.0
)

// SchemeMetrics summarizes one waveform in a comparison.
type SchemeMetrics struct {
	Name               string  `json:"name"`
	ThroughputBps      float64 `json:"throughputBps"`
	BitErrorRate       float64 `json:"bitErrorRate"`
	DopplerToleranceHz float64 `json:"dopplerToleranceHz"`
}

// Comparison contrasts the simulated OFDM run with the projected enhanced waveform.
type Comparison struct {
	Baseline       SchemeMetrics `json:"baseline"`
	Enhanced       SchemeMetrics `json:"enhanced"`
	DopplerImpact  float64       `json:"dopplerImpact"`
	ThroughputGain float64       `json:"throughputGain"`
}

// DopplerImpact maps |doppler| onto [0,1].
func DopplerImpact(dopplerHz float64) float64 {
	return math.Min(1, math.Abs(dopplerHz)/MaxDopplerHz)
}

// Compare projects the enhanced waveform's metrics from a baseline record.
func Compare(r Record, dopplerHz float64) Comparison {
	impact := DopplerImpact(dopplerHz)
	gain := 1 + impact*0.5

	return Comparison{
		Baseline: SchemeMetrics{
			Name:               "ofdm",
			ThroughputBps:      r.ThroughputBps,
			BitErrorRate:       r.BitErrorRate,
			DopplerToleranceHz: BaselineDopplerToleranceHz,
		},
		Enhanced: SchemeMetrics{
			Name:               "enhanced",
			ThroughputBps:      r.ThroughputBps * gain,
			BitErrorRate:       r.BitErrorRate * EnhancedBERFactor,
			DopplerToleranceHz: BaselineDopplerToleranceHz * EnhancedDopplerFactor,
		},
		DopplerImpact:  impact,
		ThroughputGain: gain,
	}
}
