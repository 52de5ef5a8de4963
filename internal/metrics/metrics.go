package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "simq"

var (
	TaskSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_submitted_total",
			Help:      "Total number of tasks accepted for execution.",
		},
	)

	TaskClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_claimed_total",
			Help:      "Total number of job deliveries claimed by workers.",
		},
	)

	TaskCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_completed_total",
			Help:      "Total number of tasks that reached a terminal state, labeled by status.",
		},
		[]string{"status"},
	)

	TaskRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retried_total",
			Help:      "Total number of job deliveries nacked back for redelivery.",
		},
	)

	TaskOrphanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_orphaned_total",
			Help:      "Total number of submissions whose enqueue failed after the store write.",
		},
	)

	TaskRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_requeued_total",
			Help:      "Total number of stale PENDING tasks requeued by the reconciliation sweep.",
		},
	)

	LeaseExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_expired_total",
			Help:      "Total number of lease expirations detected during claim-time repair.",
		},
	)

	TaskExecutionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_execution_latency_seconds",
			Help:      "End-to-end latency from submission to terminal state (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	RateLimitHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of submissions rejected by the rate limiter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TaskSubmittedTotal,
		TaskClaimedTotal,
		TaskCompletedTotal,
		TaskRetriedTotal,
		TaskOrphanedTotal,
		TaskRequeuedTotal,
		LeaseExpiredTotal,
		TaskExecutionLatencySeconds,
		RateLimitHitsTotal,
	)
}
