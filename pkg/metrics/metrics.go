// Package metrics provides Prometheus metrics for process pools and terraform
// runners. All collectors are registered with the default registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PoolSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tfpool_pool_slots",
			Help: "Total number of execution slots across all process pools",
		},
	)

	PoolSlotsBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tfpool_pool_slots_busy",
			Help: "Number of slots currently occupied by a running process",
		},
	)

	PoolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tfpool_pool_queue_depth",
			Help: "Number of spawn requests waiting for a slot",
		},
	)

	PoolScheduleWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tfpool_pool_schedule_wait_seconds",
			Help:    "Time between a spawn request being queued and its process starting",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	ProcessesStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tfpool_processes_started_total",
			Help: "Total processes started",
		},
	)

	ProcessSpawnFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tfpool_process_spawn_failures_total",
			Help: "Total processes that could not be started",
		},
	)

	ProcessExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tfpool_process_exits_total",
			Help: "Total process exits by exit code",
		},
		[]string{"code"},
	)

	ProcessDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tfpool_process_duration_seconds",
			Help:    "Wall clock run time of processes",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)

	RunnerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tfpool_runner_operations_total",
			Help: "Total terraform operations started by runners, by operation and result",
		},
		[]string{"operation", "result"},
	)

	RunnerInitRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tfpool_runner_init_retries_total",
			Help: "Total automatic initializations triggered by a plan or state pull",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PoolSlots,
		PoolSlotsBusy,
		PoolQueueDepth,
		PoolScheduleWaitSeconds,
		ProcessesStartedTotal,
		ProcessSpawnFailuresTotal,
		ProcessExitsTotal,
		ProcessDurationSeconds,
		RunnerOperationsTotal,
		RunnerInitRetriesTotal,
	)
}

// RecordExit records a process exit and its run time.
func RecordExit(code int, runtime time.Duration) {
	ProcessExitsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	ProcessDurationSeconds.Observe(runtime.Seconds())
}

// RecordOperation records the result of a runner operation.
func RecordOperation(operation, result string) {
	RunnerOperationsTotal.WithLabelValues(operation, result).Inc()
}
