package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects dealflow metrics on a single registry.
type Recorder struct {
	Registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	SequencerOps      *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ReconcileQueue    prometheus.Gauge
}

// New registers every collector on a fresh registry so tests and multiple
// servers in one process do not collide.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		Registry: reg,
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealflow_http_requests_total",
				Help: "HTTP requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealflow_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		SequencerOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealflow_sequencer_operations_total",
				Help: "Stage sequencer operations by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		ReconcileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dealflow_reconcile_duration_seconds",
				Help:    "Time spent persisting one reorder.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
			},
		),
		ReconcileQueue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dealflow_reconcile_queue_depth",
				Help: "Reorders waiting to be persisted.",
			},
		),
	}
}

// ObserveOp counts a sequencer operation. A nil recorder is a no-op.
func (r *Recorder) ObserveOp(op string, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.SequencerOps.WithLabelValues(op, outcome).Inc()
}
