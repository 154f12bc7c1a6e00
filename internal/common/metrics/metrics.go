// Package metrics defines Prometheus metrics for FileFlow
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Circuit breaker state values for gauges
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)

var (
	// Outbox metrics

	// OutboxRecordsProcessed tracks outbox records by dispatch outcome
	OutboxRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "outbox",
			Name:      "records_processed_total",
			Help:      "Total outbox records processed by the dispatcher",
		},
		[]string{"event_type", "result"}, // result: completed, failed
	)

	// OutboxPendingRecords tracks the pending backlog per event type
	OutboxPendingRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fileflow",
			Subsystem: "outbox",
			Name:      "pending_records",
			Help:      "Number of outbox records waiting for dispatch",
		},
		[]string{"event_type"},
	)

	// OutboxStuckRecovered tracks records reset from PROCESSING back to PENDING
	OutboxStuckRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "outbox",
			Name:      "stuck_recovered_total",
			Help:      "Total outbox records recovered from a stale PROCESSING state",
		},
	)

	// OutboxDispatchDuration tracks delivery latency
	OutboxDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fileflow",
			Subsystem: "outbox",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to deliver one outbox record",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// Consumer metrics

	// ConsumerMessages tracks queue messages by handling outcome
	ConsumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Total queue messages handled by consumers",
		},
		[]string{"consumer", "result"}, // result: success, failed, skipped, malformed
	)

	// ConsumerProcessingDuration tracks message handling latency
	ConsumerProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fileflow",
			Subsystem: "consumer",
			Name:      "processing_duration_seconds",
			Help:      "Time to handle one queue message",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"consumer"},
	)

	// DlqMessages tracks messages that reached the dead letter queue
	DlqMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "consumer",
			Name:      "dlq_messages_total",
			Help:      "Total messages consumed from dead letter queues",
		},
		[]string{"consumer"},
	)

	// Lock metrics

	// LockAcquisitions tracks distributed lock attempts
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Total distributed lock acquisition attempts",
		},
		[]string{"result"}, // result: acquired, contended, error
	)

	// Retry metrics

	// RetryAttempts tracks attempts made by the bounded retry wrapper
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total attempts made by the retry wrapper",
		},
		[]string{"operation", "outcome"}, // outcome: success, retryable, permanent
	)

	// RetryExhausted tracks operations that used their whole attempt budget
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Total operations that exhausted their retry budget",
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics

	// BreakerState tracks circuit breaker state per breaker name
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (probing)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fileflow",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// BreakerTrips tracks transitions into the open state
	BreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total circuit breaker transitions to open",
		},
		[]string{"name"},
	)

	// Storage metrics

	// StorageRequests tracks object store calls
	StorageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "storage",
			Name:      "requests_total",
			Help:      "Total object store requests",
		},
		[]string{"operation", "result"}, // result: success, error
	)

	// StorageRequestDuration tracks object store latency
	StorageRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fileflow",
			Subsystem: "storage",
			Name:      "request_duration_seconds",
			Help:      "Object store request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Crawl scheduler metrics

	// CrawlTasksScheduled counts crawl tasks published to the queue
	CrawlTasksScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "crawl",
			Name:      "tasks_scheduled_total",
			Help:      "Total crawl tasks published to the task queue",
		},
	)

	// CrawlSchedulesSkipped counts runs skipped because the previous task
	// for the schedule was still active
	CrawlSchedulesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "crawl",
			Name:      "schedules_skipped_total",
			Help:      "Total schedule runs skipped due to an active previous task",
		},
	)

	// CrawlSchedulesDue tracks how many schedules are past due
	CrawlSchedulesDue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fileflow",
			Subsystem: "crawl",
			Name:      "schedules_due",
			Help:      "Schedules whose next run time has passed",
		},
	)

	// Session metrics

	// SessionsCreated tracks upload sessions by upload type
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total upload sessions created",
		},
		[]string{"upload_type"},
	)

	// SessionsFinished tracks terminal session outcomes
	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fileflow",
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total upload sessions reaching a terminal state",
		},
		[]string{"upload_type", "status"}, // status: completed, failed, expired
	)
)
