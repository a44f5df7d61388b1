package protocol

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcome labels
const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
	OutcomeRejected   = "rejected"
)

// Collector bundles the dispatcher's Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Jobs         *prometheus.CounterVec
	JobDuration  prometheus.Histogram
	BitErrorRate prometheus.Histogram
	QueueDepth   prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on one registry reuses the existing
// collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	jobs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ofdmsim_jobs_total",
		Help: "Transmission jobs by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ofdmsim_job_duration_seconds",
		Help:    "Wall-clock time of one pipeline run.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}))
	if err != nil {
		return nil, err
	}
	ber, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ofdmsim_bit_error_rate",
		Help:    "Bit error rate of completed transmissions.",
		Buckets: []float64{0, 0.001, 0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1},
	}))
	if err != nil {
		return nil, err
	}
	depth, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ofdmsim_queue_depth",
		Help: "Jobs waiting for the worker.",
	}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:     gatherer,
		Jobs:         jobs,
		JobDuration:  duration,
		BitErrorRate: ber,
		QueueDepth:   depth,
	}, nil
}

// Handler exposes the /metrics endpoint for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) countJob(outcome string) {
	if c != nil {
		c.Jobs.WithLabelValues(outcome).Inc()
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return c, err
	}
	return c, nil
}
