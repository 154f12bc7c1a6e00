package worker

import (
	"context"
	"log/slog"

	"go.fileflow.dev/internal/common/metrics"
	downloadops "go.fileflow.dev/internal/download/operations"
	"go.fileflow.dev/internal/queue"
	"go.fileflow.dev/internal/upload"
)

// DLQ consumer names for metrics and logs.
const (
	DownloadDLQConsumerName       = "external-download-dlq"
	FileProcessingDLQConsumerName = "file-processing-dlq"
)

// DLQConsumer drains a dead letter queue. Every message is acknowledged no
// matter what: a DLQ message has already exhausted the queue's redelivery
// budget and must never loop. The handler's only job is to drive the owning
// aggregate to a terminal state through an idempotent mark-failed path.
type DLQConsumer struct {
	name     string
	consumer queue.Consumer
	resolve  func(ctx context.Context, msg queue.Message)
	logger   *slog.Logger
}

// NewDLQConsumer creates a dead letter queue consumer.
func NewDLQConsumer(name string, consumer queue.Consumer, resolve func(ctx context.Context, msg queue.Message)) *DLQConsumer {
	return &DLQConsumer{
		name:     name,
		consumer: consumer,
		resolve:  resolve,
		logger:   slog.Default().With("consumer", name),
	}
}

// Run consumes until the context is cancelled.
func (c *DLQConsumer) Run(ctx context.Context) error {
	c.logger.Info("DLQ consumer starting")
	return c.consumer.Consume(ctx, func(msg queue.Message) error {
		metrics.DlqMessages.WithLabelValues(c.name).Inc()
		c.resolve(ctx, msg)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("DLQ ack failed", "messageId", msg.ID(), "error", err)
		}
		return nil
	})
}

// Close stops the underlying consumer.
func (c *DLQConsumer) Close() error {
	return c.consumer.Close()
}

// NewDownloadDLQConsumer resolves dead external download messages by forcing
// the download to FAILED.
func NewDownloadDLQConsumer(consumer queue.Consumer, markFailed *downloadops.MarkDownloadFailedUseCase) *DLQConsumer {
	logger := slog.Default().With("consumer", DownloadDLQConsumerName)

	resolve := func(ctx context.Context, msg queue.Message) {
		m, err := decodeDownloadMessage(msg)
		if err != nil {
			logger.Error("Unresolvable DLQ message", "messageId", msg.ID(), "error", err)
			return
		}
		result := markFailed.Execute(ctx, m.ExternalDownloadID, "delivery budget exhausted")
		if !result.IsSuccess() {
			// Logged and dropped; the aggregate stays non-terminal until an
			// operator intervenes, but the DLQ never loops
			logger.Error("DLQ mark-failed did not resolve",
				"downloadId", m.ExternalDownloadID,
				"error", result.Error)
		}
	}

	return NewDLQConsumer(DownloadDLQConsumerName, consumer, resolve)
}

// NewFileProcessingDLQConsumer resolves dead file processing messages. The
// session stays COMPLETED: processing is best-effort decoration and its
// failure assigns the passthrough result, so the upload itself is not undone.
func NewFileProcessingDLQConsumer(consumer queue.Consumer, sessions upload.SessionRepository) *DLQConsumer {
	logger := slog.Default().With("consumer", FileProcessingDLQConsumerName)

	resolve := func(ctx context.Context, msg queue.Message) {
		m, err := decodeProcessingMessage(msg)
		if err != nil {
			logger.Error("Unresolvable DLQ message", "messageId", msg.ID(), "error", err)
			return
		}
		session, err := sessions.FindByID(ctx, m.FileAssetID)
		if err != nil || session == nil {
			logger.Error("DLQ processing message for unloadable session",
				"sessionId", m.FileAssetID, "error", err)
			return
		}
		logger.Warn("File processing abandoned, original asset passes through",
			"sessionId", session.ID,
			"storageKey", session.StorageKey)
	}

	return NewDLQConsumer(FileProcessingDLQConsumerName, consumer, resolve)
}
