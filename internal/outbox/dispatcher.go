package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"go.fileflow.dev/internal/common/leader"
	"go.fileflow.dev/internal/common/metrics"
)

// DispatcherConfig holds configuration for the outbox dispatcher
type DispatcherConfig struct {
	// Enabled controls whether the dispatcher is active
	Enabled bool

	// PollInterval is how often to poll for pending records
	PollInterval time.Duration

	// BatchSize is the maximum records to claim per poll
	BatchSize int

	// DeliveryRate caps deliveries per second (0 = unlimited)
	DeliveryRate float64

	// StuckAfter is how long a record may sit in PROCESSING before
	// recovery resets it to PENDING
	StuckAfter time.Duration

	// RecoveryInterval is how often to run periodic stuck-record recovery
	RecoveryInterval time.Duration
}

// DefaultDispatcherConfig returns sensible defaults
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		Enabled:          true,
		PollInterval:     time.Second,
		BatchSize:        100,
		DeliveryRate:     200,
		StuckAfter:       5 * time.Minute,
		RecoveryInterval: 60 * time.Second,
	}
}

// Dispatcher drives claimed outbox records to their sinks.
//
// Flow per poll:
//  1. claim a batch of PENDING records (each claim is an atomic
//     PENDING -> PROCESSING conditional update)
//  2. deliver each record via the sink for its event type
//  3. finalize COMPLETED or FAILED
//
// Crash recovery: stale PROCESSING records are reset to PENDING on startup
// and periodically; a redelivered record is deduplicated downstream by the
// queue's deduplication id or the webhook idempotency header.
//
// Leader election keeps a single active dispatcher per deployment. It is an
// optimization, not the correctness mechanism: the atomic claim already
// guarantees one winner per record.
type Dispatcher struct {
	config     *DispatcherConfig
	repo       Repository
	queueSink  Sink
	httpSink   Sink
	limiter    *rate.Limiter
	elector    *leader.RedisLeaderElector
	isPrimary  atomic.Bool
	lastPoll   atomic.Int64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	runningMu  sync.Mutex
	running    bool
}

// NewDispatcher creates a dispatcher routing queue-bound event types to
// queueSink and callback/webhook event types to httpSink.
func NewDispatcher(repo Repository, queueSink, httpSink Sink, config *DispatcherConfig) *Dispatcher {
	if config == nil {
		config = DefaultDispatcherConfig()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.DeliveryRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.DeliveryRate), config.BatchSize)
	}

	d := &Dispatcher{
		config:    config,
		repo:      repo,
		queueSink: queueSink,
		httpSink:  httpSink,
		limiter:   limiter,
	}
	d.isPrimary.Store(true)
	return d
}

// WithLeaderElection gates polling on Redis leader election so only one
// dispatcher instance polls at a time.
func (d *Dispatcher) WithLeaderElection(elector *leader.RedisLeaderElector) *Dispatcher {
	d.elector = elector
	d.isPrimary.Store(false)
	elector.OnBecomeLeader(func() {
		d.isPrimary.Store(true)
		slog.Info("Outbox dispatcher became primary")
	})
	elector.OnLoseLeadership(func() {
		d.isPrimary.Store(false)
		slog.Warn("Outbox dispatcher lost primary status")
	})
	return d
}

// Start begins polling. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.runningMu.Lock()
	defer d.runningMu.Unlock()
	if d.running {
		return nil
	}
	d.running = true

	if !d.config.Enabled {
		slog.Info("Outbox dispatcher is disabled")
		return nil
	}

	ctx, d.cancel = context.WithCancel(ctx)

	// Crash recovery before the first poll
	d.recoverStuck(ctx)

	if d.elector != nil {
		if err := d.elector.Start(ctx); err != nil {
			return err
		}
	}

	d.wg.Add(2)
	go d.runPoller(ctx)
	go d.runRecovery(ctx)

	slog.Info("Outbox dispatcher started",
		"pollInterval", d.config.PollInterval,
		"batchSize", d.config.BatchSize,
		"stuckAfter", d.config.StuckAfter)
	return nil
}

// Stop stops polling and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.runningMu.Lock()
	d.running = false
	d.runningMu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if d.elector != nil {
		d.elector.Stop()
	}
	slog.Info("Outbox dispatcher stopped")
}

// IsRunning returns whether the dispatcher has been started.
func (d *Dispatcher) IsRunning() bool {
	d.runningMu.Lock()
	defer d.runningMu.Unlock()
	return d.running
}

// IsPrimary returns whether this dispatcher currently polls.
func (d *Dispatcher) IsPrimary() bool {
	return d.isPrimary.Load()
}

// LastPollTime returns when the dispatcher last polled, for health checks.
func (d *Dispatcher) LastPollTime() time.Time {
	return time.Unix(0, d.lastPoll.Load())
}

func (d *Dispatcher) runPoller(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.isPrimary.Load() {
				continue
			}
			d.pollOnce(ctx)
		}
	}
}

// pollOnce claims and delivers one batch.
func (d *Dispatcher) pollOnce(ctx context.Context) {
	d.lastPoll.Store(time.Now().UnixNano())

	records, err := d.repo.ClaimPending(ctx, d.config.BatchSize)
	if err != nil {
		slog.Error("Failed to claim pending outbox records", "error", err)
	}
	if len(records) == 0 {
		return
	}

	slog.Debug("Claimed outbox records", "count", len(records))

	for _, record := range records {
		if err := d.limiter.Wait(ctx); err != nil {
			// Shutdown mid-batch: remaining claimed records are picked up
			// later by stuck recovery
			return
		}
		d.deliver(ctx, record)
	}
}

// deliver routes one record to its sink and finalizes it.
func (d *Dispatcher) deliver(ctx context.Context, record *Record) {
	sink := d.httpSink
	if record.EventType.IsQueueBound() {
		sink = d.queueSink
	}

	start := time.Now()
	err := sink.Deliver(ctx, record)
	metrics.OutboxDispatchDuration.WithLabelValues(string(record.EventType)).Observe(time.Since(start).Seconds())

	if err != nil {
		slog.Error("Outbox delivery failed",
			"outboxId", record.ID,
			"eventType", record.EventType,
			"retryCount", record.RetryCount,
			"error", err)
		metrics.OutboxRecordsProcessed.WithLabelValues(string(record.EventType), "failed").Inc()
		if markErr := d.repo.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			slog.Error("Failed to mark outbox record failed", "outboxId", record.ID, "error", markErr)
		}
		return
	}

	metrics.OutboxRecordsProcessed.WithLabelValues(string(record.EventType), "completed").Inc()
	if markErr := d.repo.MarkCompleted(ctx, record.ID); markErr != nil {
		slog.Error("Failed to mark outbox record completed", "outboxId", record.ID, "error", markErr)
	}
}

func (d *Dispatcher) runRecovery(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.isPrimary.Load() {
				continue
			}
			d.recoverStuck(ctx)
			d.reportBacklog(ctx)
		}
	}
}

// recoverStuck resets stale PROCESSING records back to PENDING.
func (d *Dispatcher) recoverStuck(ctx context.Context) {
	recovered, err := d.repo.RecoverStuck(ctx, time.Now().UTC().Add(-d.config.StuckAfter))
	if err != nil {
		slog.Error("Stuck outbox recovery failed", "error", err)
		return
	}
	if recovered > 0 {
		metrics.OutboxStuckRecovered.Add(float64(recovered))
		slog.Warn("Recovered stuck outbox records", "count", recovered)
	}
}

func (d *Dispatcher) reportBacklog(ctx context.Context) {
	counts, err := d.repo.CountPending(ctx)
	if err != nil {
		slog.Error("Failed to count pending outbox records", "error", err)
		return
	}
	for eventType, count := range counts {
		metrics.OutboxPendingRecords.WithLabelValues(string(eventType)).Set(float64(count))
	}
}
