// Package metrics defines the Prometheus collectors shared by the dispatch
// gateway and the worker pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's Prometheus collectors.
type Metrics struct {
	TasksSubmitted *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	TasksRetried   prometheus.Counter
	InferDuration  *prometheus.HistogramVec
}

// New registers the collectors on the given registerer. Tests pass a fresh
// registry to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sre_agent_tasks_submitted_total",
			Help: "Tasks accepted by the dispatch gateway, by kind.",
		}, []string{"kind"}),
		TasksCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sre_agent_tasks_completed_total",
			Help: "Tasks that reached the completed state, by kind.",
		}, []string{"kind"}),
		TasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sre_agent_tasks_failed_total",
			Help: "Tasks that reached the failed-terminal state, by kind and failure kind.",
		}, []string{"kind", "failure"}),
		TasksRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "sre_agent_tasks_retried_total",
			Help: "Retry attempts scheduled after transient failures.",
		}),
		InferDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sre_agent_infer_duration_seconds",
			Help:    "Wall-clock duration of inference calls, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"kind"}),
	}
}
