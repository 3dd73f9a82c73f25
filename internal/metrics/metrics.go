package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements tracking.Observer on Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	fixesTotal        *prometheus.CounterVec
	checkpointWrites  *prometheus.CounterVec
	checkpointLatency *prometheus.HistogramVec
	sessionsClosed    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fixesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bravely_fixes_total",
				Help: "Location fixes processed, by outcome",
			},
			[]string{"outcome"},
		),
		checkpointWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bravely_checkpoint_ops_total",
				Help: "Checkpoint store operations, by operation and status",
			},
			[]string{"op", "status"},
		),
		checkpointLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bravely_checkpoint_op_duration_seconds",
				Help:    "Checkpoint store operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		sessionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bravely_sessions_closed_total",
				Help: "Sessions that left the engine, by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(m.fixesTotal, m.checkpointWrites, m.checkpointLatency, m.sessionsClosed)
	return m
}

func (m *Metrics) FixProcessed(outcome string) {
	m.fixesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CheckpointWritten(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.checkpointWrites.WithLabelValues(op, status).Inc()
	m.checkpointLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) SessionClosed(outcome string) {
	m.sessionsClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
