package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"go.fileflow.dev/internal/faults"
	"go.fileflow.dev/internal/queue"
)

// Sink delivers one claimed outbox record to its destination.
type Sink interface {
	Deliver(ctx context.Context, record *Record) error
}

// QueueSink publishes queue-bound records to the task queue. The record's
// aggregate id doubles as the deduplication id so a record redispatched
// after stuck-recovery cannot enqueue the same task twice within the
// queue's deduplication window.
type QueueSink struct {
	publisher queue.Publisher
	subjects  map[EventType]string
}

// NewQueueSink creates a queue sink with a subject per event type.
func NewQueueSink(publisher queue.Publisher, subjects map[EventType]string) *QueueSink {
	return &QueueSink{
		publisher: publisher,
		subjects:  subjects,
	}
}

// Deliver publishes the record payload to the subject for its event type.
func (s *QueueSink) Deliver(ctx context.Context, record *Record) error {
	subject, ok := s.subjects[record.EventType]
	if !ok {
		return fmt.Errorf("no queue subject configured for event type %s", record.EventType)
	}

	dedupID := record.IdempotencyKey
	if dedupID == "" {
		dedupID = record.ID
	}

	return s.publisher.PublishWithDeduplication(ctx, subject, []byte(record.Payload), dedupID)
}

// MultiQueueSink routes each queue-bound event type to its own publisher.
// An SQS publisher is bound to a single queue URL, so deployments with one
// queue per task family need one publisher each; NATS deployments share a
// stream and can use QueueSink with subjects instead.
type MultiQueueSink struct {
	publishers map[EventType]queue.Publisher
	subjects   map[EventType]string
}

// NewMultiQueueSink creates a sink with a dedicated publisher per event type.
func NewMultiQueueSink(publishers map[EventType]queue.Publisher, subjects map[EventType]string) *MultiQueueSink {
	return &MultiQueueSink{
		publishers: publishers,
		subjects:   subjects,
	}
}

// Deliver publishes the record payload through the publisher for its event
// type, with the same deduplication rule as QueueSink.
func (s *MultiQueueSink) Deliver(ctx context.Context, record *Record) error {
	publisher, ok := s.publishers[record.EventType]
	if !ok {
		return fmt.Errorf("no queue publisher configured for event type %s", record.EventType)
	}

	dedupID := record.IdempotencyKey
	if dedupID == "" {
		dedupID = record.ID
	}

	return publisher.PublishWithDeduplication(ctx, s.subjects[record.EventType], []byte(record.Payload), dedupID)
}

// WebhookSink delivers callback/webhook records over HTTP POST. Deliveries
// share one circuit breaker: a tenant endpoint that is down stops burning
// dispatcher cycles until the breaker half-opens.
type WebhookSink struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebhookSink creates an HTTP delivery sink.
func NewWebhookSink(timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSink{
		client:  &http.Client{Timeout: timeout},
		breaker: faults.NewBreaker(faults.DefaultBreakerConfig("outbox-webhook")),
	}
}

// Deliver posts the record payload to its target URL. Non-2xx responses are
// errors; 5xx and transport failures count against the breaker.
func (s *WebhookSink) Deliver(ctx context.Context, record *Record) error {
	if record.Target == "" {
		return fmt.Errorf("record %s has no delivery target", record.ID)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, record)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		slog.Warn("Webhook circuit breaker open, delivery rejected",
			"outboxId", record.ID,
			"target", record.Target)
	}
	return err
}

func (s *WebhookSink) post(ctx context.Context, record *Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, record.Target, strings.NewReader(record.Payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-FileFlow-Event", string(record.EventType))
	req.Header.Set("X-FileFlow-Outbox-Id", record.ID)
	if record.IdempotencyKey != "" {
		req.Header.Set("X-FileFlow-Idempotency-Key", record.IdempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook delivery to %s returned status %d", record.Target, resp.StatusCode)
	}
	return nil
}
