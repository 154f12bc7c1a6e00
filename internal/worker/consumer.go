// Package worker runs the queue consumers. Each consumer turns at-least-once
// queue delivery into effectively-once business effects by serializing work
// on a per-task lock: receive -> try-lock(task key) -> execute -> ack.
//
// The ack contract is the load-bearing part. A message is acknowledged when
// the work succeeded, when it can never succeed (malformed, client error), or
// when a peer worker holds the task lock. It is deliberately not acknowledged
// on infrastructure failures so the queue's visibility timeout drives the
// redelivery, and the queue's own redrive policy escalates to the DLQ.
package worker

import (
	"context"
	"log/slog"
	"time"

	"go.fileflow.dev/internal/common/lock"
	"go.fileflow.dev/internal/common/metrics"
	"go.fileflow.dev/internal/queue"
)

// Lock lease durations per task family. Each must exceed the worst-case
// processing time for its tasks with margin.
const (
	DownloadLease       = 2 * time.Minute
	FileProcessingLease = 5 * time.Minute
	CrawlLease          = 30 * time.Second
)

// Outcome tells the runtime what to do with a handled message.
type Outcome struct {
	// Ack acknowledges the message; the task is finished or unrecoverable.
	Ack bool

	// RetryDelay, when Ack is false, delays the redelivery instead of waiting
	// out the full visibility timeout. Zero means natural redelivery.
	RetryDelay time.Duration
}

// HandlerFunc processes one decoded message under the task lock. A returned
// error means an unexpected infrastructure failure; the message is not
// acknowledged.
type HandlerFunc func(ctx context.Context, msg queue.Message) (Outcome, error)

// KeyFunc derives the lock key from a message. A returned error marks the
// message malformed; it is acknowledged and dropped since redelivery cannot
// fix a payload.
type KeyFunc func(msg queue.Message) (string, error)

// LockedConsumer runs one queue consumer with per-task lock coordination.
type LockedConsumer struct {
	name     string
	consumer queue.Consumer
	locks    lock.Coordinator
	lease    time.Duration
	keyFn    KeyFunc
	handle   HandlerFunc
	logger   *slog.Logger
}

// NewLockedConsumer creates a lock-coordinated consumer.
func NewLockedConsumer(name string, consumer queue.Consumer, locks lock.Coordinator, lease time.Duration, keyFn KeyFunc, handle HandlerFunc) *LockedConsumer {
	return &LockedConsumer{
		name:     name,
		consumer: consumer,
		locks:    locks,
		lease:    lease,
		keyFn:    keyFn,
		handle:   handle,
		logger:   slog.Default().With("consumer", name),
	}
}

// Run consumes until the context is cancelled.
func (c *LockedConsumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer starting", "lease", c.lease)
	return c.consumer.Consume(ctx, func(msg queue.Message) error {
		c.handleMessage(ctx, msg)
		// Never propagate handler errors to the transport loop; the ack
		// decision above already encodes the outcome
		return nil
	})
}

// Close stops the underlying consumer.
func (c *LockedConsumer) Close() error {
	return c.consumer.Close()
}

func (c *LockedConsumer) handleMessage(ctx context.Context, msg queue.Message) {
	start := time.Now()
	defer func() {
		metrics.ConsumerProcessingDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}()

	key, err := c.keyFn(msg)
	if err != nil {
		c.logger.Error("Dropping malformed message", "messageId", msg.ID(), "error", err)
		metrics.ConsumerMessages.WithLabelValues(c.name, "malformed").Inc()
		c.ack(msg)
		return
	}

	held, acquired, err := c.locks.TryLock(ctx, key, c.lease)
	if err != nil {
		// Lock store unavailable: leave the message for redelivery
		c.logger.Error("Lock acquisition failed", "key", key, "error", err)
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		metrics.ConsumerMessages.WithLabelValues(c.name, "failed").Inc()
		return
	}
	if !acquired {
		// A peer worker owns the task; treat as already handled
		c.logger.Debug("Task locked by peer, skipping", "key", key, "messageId", msg.ID())
		metrics.LockAcquisitions.WithLabelValues("contended").Inc()
		metrics.ConsumerMessages.WithLabelValues(c.name, "skipped").Inc()
		c.ack(msg)
		return
	}
	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	defer func() {
		if err := held.Unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("Lock release failed, lease will expire", "key", key, "error", err)
		}
	}()

	outcome, err := c.handle(ctx, msg)
	if err != nil {
		c.logger.Error("Message handling failed", "key", key, "messageId", msg.ID(), "error", err)
		metrics.ConsumerMessages.WithLabelValues(c.name, "failed").Inc()
		return
	}

	if outcome.Ack {
		metrics.ConsumerMessages.WithLabelValues(c.name, "success").Inc()
		c.ack(msg)
		return
	}

	metrics.ConsumerMessages.WithLabelValues(c.name, "failed").Inc()
	if outcome.RetryDelay > 0 {
		if err := msg.NakWithDelay(outcome.RetryDelay); err != nil {
			c.logger.Warn("Failed to delay redelivery", "messageId", msg.ID(), "error", err)
		}
	}
}

func (c *LockedConsumer) ack(msg queue.Message) {
	if err := msg.Ack(); err != nil {
		// The visibility timeout will redeliver; the handler is idempotent
		c.logger.Warn("Ack failed", "messageId", msg.ID(), "error", err)
	}
}
