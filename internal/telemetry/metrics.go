// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered instruments of the process.
type Metrics struct {
	registry *prometheus.Registry

	taskOutcomes   *prometheus.CounterVec
	taskRetries    prometheus.Counter
	activeTasks    prometheus.Gauge
	queuedTasks    prometheus.Gauge
	breakerState   *prometheus.GaugeVec
	residentMemory prometheus.Gauge
}

// New creates and registers the service metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		taskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskforge",
			Name:      "task_outcomes_total",
			Help:      "Tasks finalized, by terminal status",
		}, []string{"status"}),
		taskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskforge",
			Name:      "task_retries_total",
			Help:      "Agent attempts retried after a transient failure",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskforge",
			Name:      "active_tasks",
			Help:      "Executors currently in flight",
		}),
		queuedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskforge",
			Name:      "queued_tasks",
			Help:      "Admitted tasks waiting for an executor slot",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskforge",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per key (0 closed, 1 half-open, 2 open)",
		}, []string{"key"}),
		residentMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskforge",
			Name:      "resident_memory_bytes",
			Help:      "Process resident set size",
		}),
	}

	registry.MustRegister(
		m.taskOutcomes,
		m.taskRetries,
		m.activeTasks,
		m.queuedTasks,
		m.breakerState,
		m.residentMemory,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts one finalized task.
func (m *Metrics) RecordOutcome(status string) {
	m.taskOutcomes.WithLabelValues(status).Inc()
}

// RecordRetry counts one retried attempt.
func (m *Metrics) RecordRetry() {
	m.taskRetries.Inc()
}

// SetActiveTasks publishes the in-flight executor count.
func (m *Metrics) SetActiveTasks(n int) {
	m.activeTasks.Set(float64(n))
}

// SetQueuedTasks publishes the queue depth.
func (m *Metrics) SetQueuedTasks(n int) {
	m.queuedTasks.Set(float64(n))
}

// SetBreakerState publishes a breaker's state.
func (m *Metrics) SetBreakerState(key string, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(key).Set(v)
}

// SetResidentMemory publishes the sampled RSS.
func (m *Metrics) SetResidentMemory(bytes float64) {
	m.residentMemory.Set(bytes)
}
