package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk/fmriflow/internal/dag"
)

// metrics holds the collectors of one App on a private registry, so several
// App instances in one process (tests) never collide.
type metrics struct {
	registry *prometheus.Registry
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fmriflow_steps_total",
			Help: "Pipeline nodes by step type and final status.",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fmriflow_step_duration_seconds",
			Help:    "Wall time of executed pipeline nodes.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"type"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fmriflow_runs_in_progress",
			Help: "Pipeline runs currently executing.",
		}),
	}
	m.registry.MustRegister(m.steps, m.duration, m.running)
	return m
}

func (m *metrics) observe(n *dag.Node) {
	m.steps.WithLabelValues(n.Step.Type, n.State().String()).Inc()
	if !n.StartedAt().IsZero() {
		m.duration.WithLabelValues(n.Step.Type).Observe(n.FinishedAt().Sub(n.StartedAt()).Seconds())
	}
}
