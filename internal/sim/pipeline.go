package sim

import (
	"fmt"
	"time"

	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/fec"
	"github.com/jeongseonghan/ofdm-sim/internal/metrics"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
)

// Stage names a pipeline step reported to progress observers.
type Stage string

// Pipeline stages in execution order.
const (
	StageModulating Stage = "modulating"
	StageChannel    Stage = "channel"
	StageReceiving  Stage = "receiving"
	StageMetrics    Stage = "metrics"
)

// Runner executes transmissions. The zero value is ready to use and draws
// channel noise from a clock-seeded source.
type Runner struct {
	// Source feeds the channel noise. Nil means a fresh unseeded source per job.
	Source channel.RandomSource
	// Progress, if set, is called synchronously before each stage.
	Progress func(Stage)
}

// RunTransmission runs job with an unseeded noise source.
func RunTransmission(job TransmissionJob) (*TransmissionResult, *Failure) {
	return Runner{}.Run(job)
}

// Run executes the full pipeline. Exactly one of the return values is non-nil.
// Validation errors and panics inside any stage become a Failure.
func (r Runner) Run(job TransmissionJob) (result *TransmissionResult, failure *Failure) {
	start := time.Now()
	fail := func(reason string) *Failure {
		return &Failure{Reason: reason, ProcessingDurationMs: elapsedMs(start)}
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			failure = fail(fmt.Sprintf("internal error: %v", p))
		}
	}()

	plan, err := prepare(job)
	if err != nil {
		return nil, fail(err.Error())
	}

	r.report(StageModulating)
	coded := fec.RepeatEncode(job.InputBits, plan.repetition)
	symbols, err := modem.Modulate(coded, plan.ofdm.Modulation)
	if err != nil {
		return nil, fail(fmt.Sprintf("modulate: %v", err))
	}

	ctx := channel.NewContext(job.Agents, job.TransmitterID)
	frame, err := modem.BuildFrame(symbols, plan.ofdm, modem.FrameOptions{
		AvoidCenter:     ctx.NeedsAvoidance(),
		MaxDelaySeconds: job.Channel.MaxDelay(),
		SampleRate:      job.Channel.BandwidthHz,
	})
	if err != nil {
		return nil, fail(fmt.Sprintf("build frame: %v", err))
	}

	r.report(StageChannel)
	src := r.Source
	if src == nil {
		src = channel.NewSource()
	}
	received := channel.NewSimulator(src).Apply(frame.TimeDomain, job.Channel, ctx)

	r.report(StageReceiving)
	rx, err := modem.Receive(received, frame.Layout)
	if err != nil {
		return nil, fail(fmt.Sprintf("receive: %v", err))
	}
	decoded := fec.RepeatDecode(rx.DecodedBits, plan.repetition)

	r.report(StageMetrics)
	record := metrics.Compute(metrics.Input{
		InputBits:            job.InputBits,
		ReceivedBits:         decoded,
		Transmitted:          frame.TimeDomain,
		ProcessingDurationMs: elapsedMs(start),
		SNRDB:                job.Channel.SNRDB,
		BitsPerSymbol:        plan.ofdm.Modulation.BitsPerSymbol(),
		DataFraction:         dataFraction(frame.Layout, len(symbols)),
	})

	return &TransmissionResult{
		Transmitted:     frame.TimeDomain,
		Subcarriers:     frame.Subcarriers,
		Received:        received,
		Equalized:       rx.Equalized,
		ChannelEstimate: rx.ChannelEstimate,
		DecodedBits:     decoded,
		Layout:          frame.Layout,
		Modulation:      plan.ofdm.Modulation,
		Metrics:         record,
		Comparison:      metrics.Compare(record, job.Channel.DopplerShiftHz),
	}, nil
}

func (r Runner) report(s Stage) {
	if r.Progress != nil {
		r.Progress(s)
	}
}

// plan is the validated, resolved form of a job.
type plan struct {
	ofdm       modem.Params
	repetition int
}

func prepare(job TransmissionJob) (plan, error) {
	if len(job.InputBits) == 0 {
		return plan{}, ErrEmptyInput
	}
	for i, b := range job.InputBits {
		if b > 1 {
			return plan{}, fmt.Errorf("input bit %d is %d, want 0 or 1", i, b)
		}
	}
	if job.Repetition < 0 {
		return plan{}, fmt.Errorf("repetition %d < 0", job.Repetition)
	}
	if err := job.Channel.Validate(); err != nil {
		return plan{}, err
	}
	for _, a := range job.Agents {
		if err := a.Validate(); err != nil {
			return plan{}, err
		}
	}

	p := job.OFDM
	if job.AdaptiveModulation || p.Modulation == 0 {
		p.Modulation = modem.SelectModulation(job.Channel.SNRDB, job.Channel.DopplerShiftHz)
	}
	if err := p.Validate(); err != nil {
		return plan{}, err
	}

	rep := job.Repetition
	if rep < 1 {
		rep = 1
	}
	return plan{ofdm: p, repetition: rep}, nil
}

// dataFraction is the share of the time-frequency grid carrying data symbols.
func dataFraction(l modem.Layout, dataSymbols int) float64 {
	total := l.NumSymbols * l.FFTSize
	if total == 0 {
		return 0
	}
	return float64(dataSymbols) / float64(total)
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}
