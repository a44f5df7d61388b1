package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/metrics"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
)

func TestQualityBucket(t *testing.T) {
	tests := []struct {
		snr  float64
		want string
	}{
		{40, QualityExcellent},
		{25.01, QualityExcellent},
		{25, QualityGood},
		{20, QualityFair},
		{15.5, QualityFair},
		{15, QualityPoor},
		{-3, QualityPoor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QualityBucket(tt.snr), "snr=%v", tt.snr)
	}
}

func TestAnalyzeChannelQuality(t *testing.T) {
	p := channel.Params{SNRDB: 28, DopplerShiftHz: 50, BandwidthHz: 1e6}

	q := AnalyzeChannelQuality(p, nil)
	assert.Equal(t, QualityExcellent, q.Quality)
	assert.Equal(t, DopplerLow, q.DopplerSeverity)
	assert.Equal(t, 0, q.ActiveInterferers)
	assert.Equal(t, modem.Mod64QAM, q.RecommendedModulation)
	assert.InDelta(t, 27.5, q.EffectiveSNRDB, 1e-12)
	assert.InDelta(t, metrics.Capacity(28)*1e6, q.EstimatedThroughputBps, 1e-6)
}

func TestAnalyzeChannelQuality_Penalties(t *testing.T) {
	p := channel.Params{SNRDB: 18, DopplerShiftHz: -250, BandwidthHz: 1e6}
	agents := []channel.Agent{
		{ID: "a", Kind: channel.KindMobile, IsTransmitting: true},
		{ID: "b", Kind: channel.KindMobile, IsTransmitting: true},
		{ID: "c", Kind: channel.KindStationary, IsTransmitting: false},
	}

	q := AnalyzeChannelQuality(p, agents)
	assert.Equal(t, QualityFair, q.Quality)
	assert.Equal(t, DopplerHigh, q.DopplerSeverity)
	assert.Equal(t, 2, q.ActiveInterferers)
	assert.Equal(t, modem.ModQPSK, q.RecommendedModulation)

	want := 1e6 * metrics.Capacity(18) * HighDopplerPenalty / 1.4
	assert.InDelta(t, want, q.EstimatedThroughputBps, 1e-6)

	clean := AnalyzeChannelQuality(channel.Params{SNRDB: 18, BandwidthHz: 1e6}, nil)
	assert.Greater(t, clean.EstimatedThroughputBps, q.EstimatedThroughputBps)
}
