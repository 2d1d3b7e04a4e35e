package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_evaluation_runs_total",
			Help: "Total number of rule evaluation runs",
		},
		[]string{"outcome"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opspulse_evaluation_duration_seconds",
			Help:    "Time taken by one full rule evaluation run",
			Buckets: prometheus.DefBuckets,
		},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_alert_transitions_total",
			Help: "Alert lifecycle transitions performed by the evaluator",
		},
		[]string{"transition", "severity"},
	)

	NotificationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_notifications_recorded_total",
			Help: "Total number of notification records written",
		},
		[]string{"kind"},
	)

	NotificationsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opspulse_notifications_suppressed_total",
			Help: "Notifications suppressed by the re-notify window",
		},
	)

	AggregationBlockDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opspulse_aggregation_block_duration_seconds",
			Help:    "Fetch duration per aggregation data source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"block"},
	)

	AggregationBlockDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_aggregation_block_degraded_total",
			Help: "Aggregation blocks served degraded, by block and status",
		},
		[]string{"block", "status"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_cache_hits_total",
			Help: "Cache hits by cache backend",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_cache_misses_total",
			Help: "Cache misses by cache backend",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_cache_errors_total",
			Help: "Cache errors by cache backend and operation",
		},
		[]string{"cache", "operation"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opspulse_worker_pool_active_workers",
			Help: "Number of active workers per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opspulse_worker_pool_queue_size",
			Help: "Number of queued tasks per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opspulse_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed per pool",
		},
		[]string{"pool"},
	)
)
