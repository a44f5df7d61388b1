package sim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
)

func bpskJob(snr float64) TransmissionJob {
	return TransmissionJob{
		InputBits: modem.AlternatingBits(64),
		OFDM: modem.Params{
			FFTSize:            64,
			NumSubcarriers:     64,
			CyclicPrefixLength: 16,
			Modulation:         modem.ModBPSK,
		},
		Channel: channel.Params{SNRDB: snr, BandwidthHz: 20e6},
	}
}

func seeded(seed int64) Runner {
	return Runner{Source: channel.NewSeededSource(seed)}
}

func TestRun_EndToEndBPSK(t *testing.T) {
	job := bpskJob(30)

	res, fail := seeded(42).Run(job)
	require.Nil(t, fail)
	require.NotNil(t, res)

	assert.Equal(t, job.InputBits, res.DecodedBits)
	assert.Equal(t, 0.0, res.Metrics.BitErrorRate)
	assert.Equal(t, 0, res.Metrics.BitErrors)
	assert.Equal(t, modem.ModBPSK, res.Modulation)

	l := res.Layout
	assert.Equal(t, 16, l.CPLength)
	assert.Len(t, res.Transmitted, l.NumSymbols*l.SymbolLen())
	assert.Len(t, res.Received, len(res.Transmitted))
	assert.Len(t, res.Subcarriers, l.NumSymbols*64)
	assert.Len(t, res.ChannelEstimate, l.NumSymbols*64)
	assert.Len(t, res.Equalized, 64)
	assert.Greater(t, res.Metrics.PAPRDB, 0.0)
	assert.InDelta(t, 0.7*res.Metrics.BitErrorRate, res.Comparison.Enhanced.BitErrorRate, 1e-12)
}

func TestRun_DegradedChannel(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		res, fail := seeded(seed).Run(bpskJob(5))
		require.Nil(t, fail)
		assert.Greater(t, res.Metrics.BitErrorRate, 0.0, "seed %d", seed)
	}
	assert.Equal(t, QualityPoor, AnalyzeChannelQuality(bpskJob(5).Channel, nil).Quality)
}

func TestRun_MobileDopplerIsEqualized(t *testing.T) {
	job := bpskJob(300)
	job.Channel.DopplerShiftHz = 50
	job.Agents = []channel.Agent{{ID: "ue", Kind: channel.KindMobile, IsTransmitting: true}}
	job.TransmitterID = "ue"

	res, fail := seeded(3).Run(job)
	require.Nil(t, fail)
	assert.Equal(t, job.InputBits, res.DecodedBits)
}

func TestRun_LongMultipathTapExtendsPrefix(t *testing.T) {
	job := bpskJob(30)
	job.Agents = []channel.Agent{{ID: "ue", Kind: channel.KindMobile, IsTransmitting: true}}
	job.TransmitterID = "ue"
	job.Channel.Multipath = []channel.Tap{{DelaySeconds: 5e-6, Amplitude: 0.3}}

	res, fail := seeded(42).Run(job)
	require.Nil(t, fail)
	require.NotNil(t, res)

	l := res.Layout
	assert.Equal(t, modem.CyclicPrefixLength(16, 5e-6, 20e6), l.CPLength)
	assert.GreaterOrEqual(t, l.CPLength, 100+modem.CPMargin)
	assert.Greater(t, l.CPLength, job.OFDM.FFTSize)
	assert.Len(t, res.Transmitted, l.NumSymbols*l.SymbolLen())
	assert.Len(t, res.DecodedBits, len(job.InputBits))
}

func TestRun_PrefixLongerThanSymbol(t *testing.T) {
	job := bpskJob(300)
	job.OFDM.CyclicPrefixLength = 80

	res, fail := seeded(1).Run(job)
	require.Nil(t, fail)
	assert.Equal(t, 80, res.Layout.CPLength)
	assert.Equal(t, job.InputBits, res.DecodedBits)
}

func TestRun_HigherOrderUsesOneBitPerSymbol(t *testing.T) {
	job := bpskJob(300)
	job.OFDM.Modulation = modem.ModQPSK

	res, fail := seeded(1).Run(job)
	require.Nil(t, fail)
	// 32 QPSK symbols hard-decide to 32 bits; the missing half counts as errors
	assert.Len(t, res.DecodedBits, 32)
	assert.GreaterOrEqual(t, res.Metrics.BitErrors, 32)
}

func TestRun_Repetition(t *testing.T) {
	job := bpskJob(300)
	job.Repetition = 3

	res, fail := seeded(1).Run(job)
	require.Nil(t, fail)
	assert.Equal(t, job.InputBits, res.DecodedBits)
	assert.Len(t, res.Equalized, 3*64)
}

func TestRun_AdaptiveModulation(t *testing.T) {
	job := bpskJob(22)
	job.AdaptiveModulation = true

	res, fail := seeded(1).Run(job)
	require.Nil(t, fail)
	assert.Equal(t, modem.Mod16QAM, res.Modulation)

	job = bpskJob(10)
	job.OFDM.Modulation = 0
	res, fail = seeded(1).Run(job)
	require.Nil(t, fail)
	assert.Equal(t, modem.ModBPSK, res.Modulation)
}

func TestRun_InterferenceAvoidance(t *testing.T) {
	job := bpskJob(300)
	job.Agents = []channel.Agent{
		{ID: "ue", Kind: channel.KindMobile, IsTransmitting: true},
		{ID: "jammer", Kind: channel.KindStationary, IsTransmitting: true, InterferenceLevel: 0.8, Position: channel.Vec2{X: 1000}},
	}
	job.TransmitterID = "ue"

	res, fail := seeded(1).Run(job)
	require.Nil(t, fail)
	assert.Len(t, res.Layout.Withheld, 2*modem.AvoidanceHalfWidth+1)
	for _, k := range res.Layout.Withheld {
		for sym := 0; sym < res.Layout.NumSymbols; sym++ {
			assert.Equal(t, complex128(0), res.Subcarriers[sym*64+k])
		}
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TransmissionJob)
		reason string
	}{
		{"empty input", func(j *TransmissionJob) { j.InputBits = nil }, ErrEmptyInput.Error()},
		{"too many subcarriers", func(j *TransmissionJob) { j.OFDM.NumSubcarriers = 128 }, "numSubcarriers"},
		{"bad bandwidth", func(j *TransmissionJob) { j.Channel.BandwidthHz = 0 }, "bandwidth"},
		{"bad bit", func(j *TransmissionJob) { j.InputBits = Bits{0, 2} }, "input bit"},
		{"bad agent", func(j *TransmissionJob) { j.Agents = []channel.Agent{{ID: "x", Kind: "drone"}} }, "drone"},
		{"negative repetition", func(j *TransmissionJob) { j.Repetition = -1 }, "repetition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := bpskJob(30)
			tt.mutate(&job)

			res, fail := seeded(1).Run(job)
			assert.Nil(t, res)
			require.NotNil(t, fail)
			assert.Contains(t, fail.Reason, tt.reason)
			assert.GreaterOrEqual(t, fail.ProcessingDurationMs, 0.0)
		})
	}
}

type panicSource struct{}

func (panicSource) Float64() float64 { panic("source exhausted") }

func TestRun_RecoversPanics(t *testing.T) {
	res, fail := Runner{Source: panicSource{}}.Run(bpskJob(30))
	assert.Nil(t, res)
	require.NotNil(t, fail)
	assert.Contains(t, fail.Reason, "source exhausted")
	assert.Contains(t, fail.Error(), "transmission failed")
}

func TestRun_ReportsStages(t *testing.T) {
	var stages []Stage
	r := seeded(1)
	r.Progress = func(s Stage) { stages = append(stages, s) }

	_, fail := r.Run(bpskJob(30))
	require.Nil(t, fail)
	assert.Equal(t, []Stage{StageModulating, StageChannel, StageReceiving, StageMetrics}, stages)
}

func TestRunTransmission_Unseeded(t *testing.T) {
	res, fail := RunTransmission(bpskJob(300))
	require.Nil(t, fail)
	assert.Equal(t, 0.0, res.Metrics.BitErrorRate)
}

func TestTransmissionJob_JSON(t *testing.T) {
	raw := `{
		"inputBits": "0110 1001",
		"ofdm": {"fftSize": 64, "numSubcarriers": 48, "cyclicPrefixLength": 8, "modulation": "QPSK"},
		"channel": {"snrDb": 20, "dopplerShiftHz": -50, "bandwidthHz": 1e6,
			"multipath": [{"delaySeconds": 2e-6, "amplitude": 0.3}]},
		"agents": [{"id": "ue", "kind": "mobile", "isTransmitting": true, "interferenceLevel": 0.2}],
		"transmitterId": "ue"
	}`
	var job TransmissionJob
	require.NoError(t, json.Unmarshal([]byte(raw), &job))

	assert.Equal(t, Bits{0, 1, 1, 0, 1, 0, 0, 1}, job.InputBits)
	assert.Equal(t, modem.ModQPSK, job.OFDM.Modulation)
	assert.Equal(t, 48, job.OFDM.NumSubcarriers)
	require.Len(t, job.Channel.Multipath, 1)
	assert.Equal(t, "ue", job.TransmitterID)

	var arr Bits
	require.NoError(t, json.Unmarshal([]byte(`[1,0,1]`), &arr))
	assert.Equal(t, Bits{1, 0, 1}, arr)
	assert.Error(t, json.Unmarshal([]byte(`"01x"`), &arr))
	assert.Error(t, json.Unmarshal([]byte(`[3]`), &arr))
}

func TestSampleVector_JSON(t *testing.T) {
	v := SampleVector{complex(1, -2), complex(0.5, 0)}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,-2],[0.5,0]]`, string(data))

	var back SampleVector
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v, back)
}
