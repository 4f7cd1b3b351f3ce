// Package qmetrics exposes the Prometheus metrics emitted by the czar and
// the worker: scheduler occupancy, memory-manager reservations, dispatch
// latency, and merge throughput.
package qmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker scheduler metrics (C3/C4/C5).
	TasksQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qserv_tasks_queued",
			Help: "Tasks currently queued, by scan lane",
		},
		[]string{"lane"},
	)

	TasksInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qserv_tasks_inflight",
			Help: "Tasks currently executing, by scan lane",
		},
		[]string{"lane"},
	)

	TasksBootedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_tasks_booted_total",
			Help: "Total tasks booted for exceeding their lane time budget, by lane",
		},
		[]string{"lane"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_tasks_completed_total",
			Help: "Total tasks completed, by lane and outcome",
		},
		[]string{"lane", "outcome"},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qserv_scheduling_latency_seconds",
			Help:    "Time a task waits between queue and dispatch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Memory manager metrics (C2).
	MemManBytesLocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qserv_memman_bytes_locked",
			Help: "Bytes currently mlock'd by the memory reservation manager",
		},
	)

	MemManBytesReserved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qserv_memman_bytes_reserved",
			Help: "Bytes currently reserved (locked or pending lock)",
		},
	)

	MemManLockErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qserv_memman_lock_errors_total",
			Help: "Total memory lock failures",
		},
	)

	// Czar dispatch metrics (C9/C10).
	UberJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qserv_uberjobs_inflight",
			Help: "Uber-jobs currently dispatched and awaiting a result",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qserv_dispatch_latency_seconds",
			Help:    "Time from uber-job assembly to POST acknowledgement",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueriesSquashedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_queries_squashed_total",
			Help: "Total queries squashed, by reason",
		},
		[]string{"reason"},
	)

	// Merger metrics (C11).
	ResultRowsMergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qserv_result_rows_merged_total",
			Help: "Total rows appended to result tables",
		},
	)

	MergeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qserv_merge_errors_total",
			Help: "Total merge failures, by class",
		},
		[]string{"class"},
	)

	// Health monitor metrics (C14).
	WorkersEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qserv_workers_evicted_total",
			Help: "Total workers evicted for silence",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksQueued, TasksInFlight, TasksBootedTotal, TasksCompletedTotal, SchedulingLatency,
		MemManBytesLocked, MemManBytesReserved, MemManLockErrorsTotal,
		UberJobsInFlight, DispatchLatency, QueriesSquashedTotal,
		ResultRowsMergedTotal, MergeErrorsTotal,
		WorkersEvictedTotal,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed duration into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed duration into a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
