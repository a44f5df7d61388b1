package sim

import (
	"math"

	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/metrics"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
)

// Quality buckets
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// Doppler severity buckets
const (
	DopplerLow  = "low"
	DopplerHigh = "high"
)

// Quality estimate constants
const (
	// DopplerSeverityHz separates low from high Doppler.
	DopplerSeverityHz = 100.0
	// HighDopplerPenalty scales the throughput estimate under high Doppler.
	HighDopplerPenalty = 0.7
	// InterfererPenalty is the throughput loss per active interferer.
	InterfererPenalty = 0.2
)

// QualitySummary is the quick channel assessment shown between full runs.
type QualitySummary struct {
	Quality                string           `json:"quality"`
	DopplerSeverity        string           `json:"dopplerSeverity"`
	EstimatedThroughputBps float64          `json:"estimatedThroughputBps"`
	ActiveInterferers      int              `json:"activeInterferers"`
	RecommendedModulation  modem.Modulation `json:"recommendedModulation"`
	ChannelCapacity        float64          `json:"channelCapacity"`
	EffectiveSNRDB         float64          `json:"effectiveSnrDb"`
}

// AnalyzeChannelQuality rates the channel without running the pipeline.
// Every transmitting agent counts as an interferer.
func AnalyzeChannelQuality(p channel.Params, interferers []channel.Agent) QualitySummary {
	active := 0
	for _, a := range interferers {
		if a.IsTransmitting {
			active++
		}
	}

	capacity := metrics.Capacity(p.SNRDB)
	severity := DopplerLow
	dopplerFactor := 1.0
	if math.Abs(p.DopplerShiftHz) > DopplerSeverityHz {
		severity = DopplerHigh
		dopplerFactor = HighDopplerPenalty
	}
	interferenceFactor := 1 / (1 + InterfererPenalty*float64(active))

	return QualitySummary{
		Quality:                QualityBucket(p.SNRDB),
		DopplerSeverity:        severity,
		EstimatedThroughputBps: p.BandwidthHz * capacity * dopplerFactor * interferenceFactor,
		ActiveInterferers:      active,
		RecommendedModulation:  modem.SelectModulation(p.SNRDB, p.DopplerShiftHz),
		ChannelCapacity:        capacity,
		EffectiveSNRDB:         modem.EffectiveSNR(p.SNRDB, p.DopplerShiftHz),
	}
}

// QualityBucket maps an SNR in dB to a qualitative bucket.
func QualityBucket(snrDB float64) string {
	switch {
	case snrDB > 25:
		return QualityExcellent
	case snrDB > 20:
		return QualityGood
	case snrDB > 15:
		return QualityFair
	default:
		return QualityPoor
	}
}
