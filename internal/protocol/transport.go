package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/sim"
)

// Dispatcher defaults
const (
	DefaultCooldown  = 2 * time.Second
	DefaultQueueSize = 8
)

// Dispatcher errors
var (
	ErrRateLimited = errors.New("job rejected: cooldown in effect")
	ErrSuperseded  = errors.New("result superseded by a newer request")
	ErrClosed      = errors.New("dispatcher closed")
)

// Stage is a step of a job's life as seen by progress observers.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageModulating Stage = Stage(sim.StageModulating)
	StageChannel    Stage = Stage(sim.StageChannel)
	StageReceiving  Stage = Stage(sim.StageReceiving)
	StageMetrics    Stage = Stage(sim.StageMetrics)
	StageDone       Stage = "done"
)

var stageFractions = map[Stage]float64{
	StageQueued:     0,
	StageModulating: 0.2,
	StageChannel:    0.4,
	StageReceiving:  0.6,
	StageMetrics:    0.8,
	StageDone:       1,
}

// Progress reports that a request reached a stage.
type Progress struct {
	RequestID uint64  `json:"requestId"`
	Stage     Stage   `json:"stage"`
	Fraction  float64 `json:"fraction"`
}

// Outcome is what a finished request resolved to. Exactly one of Result,
// Failure and Err is set.
type Outcome struct {
	RequestID uint64
	Result    *sim.TransmissionResult
	Failure   *sim.Failure
	// Err is ErrSuperseded, ErrClosed or an envelope error.
	Err error
}

// Config configures a Dispatcher.
type Config struct {
	// Cooldown is the minimum spacing between job starts; 0 disables it.
	// Submissions arriving faster than one per Cooldown are rejected.
	Cooldown  time.Duration
	QueueSize int
	// NewSource supplies the channel noise source of each job. Nil means an
	// unseeded source.
	NewSource func() channel.RandomSource
}

// DefaultConfig returns the 2 s cooldown configuration.
func DefaultConfig() Config {
	return Config{Cooldown: DefaultCooldown, QueueSize: DefaultQueueSize}
}

// Ticket is the future of one submitted request.
type Ticket struct {
	ID      uint64
	done    chan struct{}
	outcome Outcome
}

// Done is closed once the outcome is known.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the request resolves or ctx ends. A pipeline failure is
// returned as a *sim.Failure error.
func (t *Ticket) Wait(ctx context.Context) (*sim.TransmissionResult, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	switch {
	case t.outcome.Err != nil:
		return nil, t.outcome.Err
	case t.outcome.Failure != nil:
		return nil, t.outcome.Failure
	default:
		return t.outcome.Result, nil
	}
}

// envelope is an encoded job frame queued for the worker. The id travels
// beside the bytes so an undecodable frame still resolves its ticket.
type envelope struct {
	id   uint64
	data []byte
}

// Dispatcher runs transmission jobs one at a time on a worker goroutine.
// Jobs and outcomes cross the boundary only as encoded frames. Only the
// most recently issued request delivers its outcome; older ones resolve to
// ErrSuperseded.
type Dispatcher struct {
	cfg       Config
	limiter   *rate.Limiter
	queue     chan envelope
	quit      chan struct{}
	wg        sync.WaitGroup
	logger    *zap.Logger
	tracer    trace.Tracer
	collector *Collector

	nextID atomic.Uint64
	latest atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*Ticket
	closed  bool

	// Callbacks, set before the first Submit.
	OnProgress func(Progress)
	OnOutcome  func(Outcome)
}

// NewDispatcher creates a dispatcher and starts its worker. collector may be nil.
func NewDispatcher(cfg Config, logger *zap.Logger, collector *Collector) *Dispatcher {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}

	d := &Dispatcher{
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		queue:     make(chan envelope, cfg.QueueSize),
		quit:      make(chan struct{}),
		logger:    logger.Named("dispatcher"),
		tracer:    otel.Tracer("github.com/jeongseonghan/ofdm-sim/internal/protocol"),
		collector: collector,
		pending:   make(map[uint64]*Ticket),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Submit enqueues job and returns its ticket. It fails with ErrRateLimited
// when submitted within the cooldown of the previous accepted submission,
// and ErrClosed after Close. The worker additionally keeps job starts at
// least one cooldown apart.
func (d *Dispatcher) Submit(ctx context.Context, job sim.TransmissionJob) (*Ticket, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if !d.limiter.Allow() {
		d.mu.Unlock()
		d.collector.countJob(OutcomeRejected)
		return nil, ErrRateLimited
	}
	id := d.nextID.Add(1)
	d.latest.Store(id)
	t := &Ticket{ID: id, done: make(chan struct{})}
	d.pending[id] = t
	d.mu.Unlock()

	frame, err := NewJobFrame(id, job)
	if err != nil {
		d.resolve(Outcome{RequestID: id, Err: err})
		return nil, err
	}

	d.progress(id, StageQueued)
	select {
	case d.queue <- envelope{id: id, data: frame.Encode()}:
	case <-ctx.Done():
		d.resolve(Outcome{RequestID: id, Err: ctx.Err()})
		return nil, ctx.Err()
	case <-d.quit:
		d.resolve(Outcome{RequestID: id, Err: ErrClosed})
		return nil, ErrClosed
	}
	d.setQueueDepth()
	d.logger.Debug("job queued", zap.Uint64("request_id", id), zap.Int("bits", len(job.InputBits)))
	return t, nil
}

// Latest returns the most recently issued request id, 0 before any.
func (d *Dispatcher) Latest() uint64 {
	return d.latest.Load()
}

// Close stops the worker after the job in progress. Queued jobs resolve to
// ErrClosed.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.quit)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	remaining := make([]uint64, 0, len(d.pending))
	for id := range d.pending {
		remaining = append(remaining, id)
	}
	d.mu.Unlock()
	for _, id := range remaining {
		d.resolve(Outcome{RequestID: id, Err: ErrClosed})
	}
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	var lastStart time.Time
	for {
		select {
		case env := <-d.queue:
			d.setQueueDepth()
			if !d.waitCooldown(lastStart) {
				return
			}
			lastStart = time.Now()
			d.process(env)
		case <-d.quit:
			return
		}
	}
}

// waitCooldown blocks until one cooldown has passed since lastStart. It
// returns false when the dispatcher closes first.
func (d *Dispatcher) waitCooldown(lastStart time.Time) bool {
	if d.cfg.Cooldown <= 0 || lastStart.IsZero() {
		return true
	}
	wait := time.Until(lastStart.Add(d.cfg.Cooldown))
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.quit:
		return false
	}
}

// process runs one encoded job and resolves its ticket.
func (d *Dispatcher) process(env envelope) {
	id := env.id
	in, err := DecodeFrame(env.data)
	if err != nil {
		d.logger.Error("undecodable job frame", zap.Uint64("request_id", id), zap.Error(err))
		d.resolve(Outcome{RequestID: id, Err: err})
		return
	}
	if in.RequestID != id {
		d.resolve(Outcome{RequestID: id, Err: fmt.Errorf("job frame for request %d, want %d", in.RequestID, id)})
		return
	}
	job, err := in.Job()
	if err != nil {
		d.resolve(Outcome{RequestID: id, Err: err})
		return
	}

	_, span := d.tracer.Start(context.Background(), "ofdm.transmission",
		trace.WithAttributes(
			attribute.Int64("ofdm.request_id", int64(id)),
			attribute.Int("ofdm.input_bits", len(job.InputBits)),
			attribute.Int("ofdm.fft_size", job.OFDM.FFTSize),
			attribute.Float64("ofdm.snr_db", job.Channel.SNRDB),
		))
	defer span.End()

	runner := sim.Runner{
		Progress: func(s sim.Stage) {
			span.AddEvent(string(s))
			d.progress(id, Stage(s))
		},
	}
	if d.cfg.NewSource != nil {
		runner.Source = d.cfg.NewSource()
	}

	start := time.Now()
	res, fail := runner.Run(job)
	if d.collector != nil {
		d.collector.JobDuration.Observe(time.Since(start).Seconds())
	}

	var out *Frame
	if fail != nil {
		span.SetStatus(codes.Error, fail.Reason)
		out, err = NewFailureFrame(id, fail)
	} else {
		span.SetAttributes(
			attribute.String("ofdm.modulation", res.Modulation.String()),
			attribute.Float64("ofdm.ber", res.Metrics.BitErrorRate),
		)
		out, err = NewResultFrame(id, res)
	}
	if err != nil {
		span.RecordError(err)
		d.resolve(Outcome{RequestID: id, Err: fmt.Errorf("encode outcome: %w", err)})
		return
	}

	d.resolve(receive(id, out.Encode()))
}

// receive decodes an outcome frame coming back from the worker for request id.
func receive(id uint64, data []byte) Outcome {
	f, err := DecodeFrame(data)
	if err != nil {
		return Outcome{RequestID: id, Err: err}
	}
	if f.RequestID != id {
		return Outcome{RequestID: id, Err: fmt.Errorf("outcome for request %d, want %d", f.RequestID, id)}
	}
	res, fail, err := f.Outcome()
	return Outcome{RequestID: id, Result: res, Failure: fail, Err: err}
}

// resolve completes the ticket of o.RequestID. Outcomes of anything but the
// latest request are replaced by ErrSuperseded.
func (d *Dispatcher) resolve(o Outcome) {
	d.mu.Lock()
	t, ok := d.pending[o.RequestID]
	delete(d.pending, o.RequestID)
	d.mu.Unlock()
	if !ok {
		return
	}

	if o.Err == nil && o.RequestID != d.latest.Load() {
		o = Outcome{RequestID: o.RequestID, Err: ErrSuperseded}
	}

	log := d.logger.With(zap.Uint64("request_id", o.RequestID))
	switch {
	case errors.Is(o.Err, ErrSuperseded):
		d.collector.countJob(OutcomeSuperseded)
		log.Debug("discarding stale result", zap.Uint64("latest", d.latest.Load()))
	case o.Err != nil:
		d.collector.countJob(OutcomeFailed)
		log.Warn("job aborted", zap.Error(o.Err))
	case o.Failure != nil:
		d.collector.countJob(OutcomeFailed)
		log.Info("job failed", zap.String("reason", o.Failure.Reason))
	default:
		d.collector.countJob(OutcomeCompleted)
		if d.collector != nil {
			d.collector.BitErrorRate.Observe(o.Result.Metrics.BitErrorRate)
		}
		log.Info("job completed",
			zap.String("modulation", o.Result.Modulation.String()),
			zap.Float64("ber", o.Result.Metrics.BitErrorRate),
			zap.Float64("duration_ms", o.Result.Metrics.ProcessingDurationMs))
	}

	t.outcome = o
	if o.Err == nil {
		d.progress(o.RequestID, StageDone)
	}
	if d.OnOutcome != nil {
		d.OnOutcome(o)
	}
	close(t.done)
}

func (d *Dispatcher) progress(id uint64, s Stage) {
	if d.OnProgress != nil {
		d.OnProgress(Progress{RequestID: id, Stage: s, Fraction: stageFractions[s]})
	}
}

func (d *Dispatcher) setQueueDepth() {
	if d.collector != nil {
		d.collector.QueueDepth.Set(float64(len(d.queue)))
	}
}
