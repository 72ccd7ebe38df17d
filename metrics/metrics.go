// Package metrics exposes batch progress as Prometheus metrics.
//
// Metrics register on their own registry rather than the global default so
// that several pools (and tests) can coexist in one process. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentbatch"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	claims          *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	staleReclaimed  prometheus.Counter
	markerIOErrors  *prometheus.CounterVec

	// Gauges
	workersBusy     prometheus.Gauge
	workersCapacity prometheus.Gauge
	agentsRunning   prometheus.Gauge

	// Histograms
	attemptDuration *prometheus.HistogramVec
	taskDuration    *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry. Go runtime and
// process collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_total",
				Help:      "Claim attempts by result (won, lost)",
			},
			[]string{"result"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Agent launches by agent and result (success, failure, timeout, interrupted)",
			},
			[]string{"agent", "result"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Tasks processed by outcome",
			},
			[]string{"outcome"},
		),
		staleReclaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_markers_reclaimed_total",
				Help:      "In-progress markers reverted to pending by the cleanup pass",
			},
		),
		markerIOErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "marker_io_errors_total",
				Help:      "Marker filesystem operations that failed, by transition",
			},
			[]string{"op"},
		),
		workersBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_busy",
				Help:      "Workers currently holding a task",
			},
		),
		workersCapacity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_capacity",
				Help:      "Configured number of workers",
			},
		),
		agentsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agents_running",
				Help:      "Agent processes currently alive",
			},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Wall time of one agent launch",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"agent"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Wall time from claim to finalize, including retries",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.claims,
		m.attempts,
		m.tasksFinished,
		m.staleReclaimed,
		m.markerIOErrors,
		m.workersBusy,
		m.workersCapacity,
		m.agentsRunning,
		m.attemptDuration,
		m.taskDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ClaimResult records a claim that was won or lost.
func (m *Metrics) ClaimResult(won bool) {
	if m == nil {
		return
	}
	result := "lost"
	if won {
		result = "won"
	}
	m.claims.WithLabelValues(result).Inc()
}

// AttemptStarted marks an agent launch.
func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.agentsRunning.Inc()
}

// AttemptFinished records one agent launch. result is one of success,
// failure, timeout or interrupted.
func (m *Metrics) AttemptFinished(agent, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentsRunning.Dec()
	m.attempts.WithLabelValues(agent, result).Inc()
	m.attemptDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// TaskFinished records a task's batch outcome.
func (m *Metrics) TaskFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// StaleReclaimed adds n reclaimed markers.
func (m *Metrics) StaleReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.staleReclaimed.Add(float64(n))
}

// MarkerIOError counts a failed marker operation.
func (m *Metrics) MarkerIOError(op string) {
	if m == nil {
		return
	}
	m.markerIOErrors.WithLabelValues(op).Inc()
}

// SetCapacity sets the configured worker count.
func (m *Metrics) SetCapacity(workers int) {
	if m == nil {
		return
	}
	m.workersCapacity.Set(float64(workers))
}

// WorkerBusy moves the busy gauge up (true) or down (false).
func (m *Metrics) WorkerBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.workersBusy.Inc()
	} else {
		m.workersBusy.Dec()
	}
}

// AttemptResult maps a return code to the attempt result label.
func AttemptResult(returnCode int, interrupted bool) string {
	switch {
	case interrupted:
		return "interrupted"
	case returnCode == 0:
		return "success"
	case returnCode == 124:
		return "timeout"
	default:
		return "failure"
	}
}

