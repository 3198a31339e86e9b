// Package observability declares the Prometheus metrics exported by the
// coordinator and worker binaries, in the flat promauto-global idiom the
// teacher uses throughout control_plane/observability.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth is the gauge for items sitting in each broker's main queue.
	// No loop in this module sets it, so it stays at 0; the processing
	// sublist depth is reported through ProcessingQueueDepth.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskflow_queue_depth",
		Help: "Current number of messages in a broker's main queue",
	}, []string{"priority"})

	// ProcessingQueueDepth tracks items claimed but not yet finalized.
	ProcessingQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskflow_processing_queue_depth",
		Help: "Current number of messages in a broker's processing sublist",
	}, []string{"priority"})

	// SchedulerClaimed counts rows moved from PENDING to QUEUED per tick.
	SchedulerClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_scheduler_claimed_total",
		Help: "Total PENDING rows claimed due and enqueued by the scheduler loop",
	})

	SchedulerLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskflow_scheduler_loop_duration_seconds",
		Help:    "Duration of one scheduler loop iteration",
		Buckets: prometheus.DefBuckets,
	})

	// RecoveryReclaimed counts IN_PROGRESS rows re-queued due to a missing
	// worker heartbeat, split by outcome.
	RecoveryReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_recovery_reclaimed_total",
		Help: "Total orphaned IN_PROGRESS rows handled by the recovery scanner",
	}, []string{"outcome"})

	// ProcessingReclaimed counts stale processing-queue messages reclaimed.
	ProcessingReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_processing_reclaimed_total",
		Help: "Total processing-queue messages reclaimed by the processing reclaimer",
	}, []string{"priority", "reason"})

	// ReconcilerRepaired counts QUEUED rows missing a broker message that
	// were re-enqueued.
	ReconcilerRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_reconciler_repaired_total",
		Help: "Total QUEUED rows re-enqueued by the reconciliation loop",
	})

	// LeaderStatus and LeaderTransitions track this process's leadership state.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskflow_leader_status",
		Help: "1 if this coordinator instance currently holds the leader lease, else 0",
	})
	LeaderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_leader_transitions_total",
		Help: "Total leadership acquire/lose events",
	}, []string{"event"})

	// Worker-side metrics.
	TasksClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_worker_tasks_claimed_total",
		Help: "Total tasks successfully claimed by this worker",
	}, []string{"priority"})
	TaskOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_worker_task_outcomes_total",
		Help: "Total task outcomes observed by this worker",
	}, []string{"outcome"})
	TaskRuntime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskflow_worker_task_runtime_seconds",
		Help:    "Wall-clock duration of handler execution",
		Buckets: prometheus.DefBuckets,
	})
	HandlerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_worker_handler_timeouts_total",
		Help: "Total handler executions that exceeded TASK_TIMEOUT",
	})

	// RedisLatency tracks broker round-trip time for lease operations.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskflow_broker_latency_seconds",
		Help:    "Latency of broker lease operations",
		Buckets: prometheus.DefBuckets,
	})
)
