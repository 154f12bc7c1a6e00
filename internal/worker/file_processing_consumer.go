package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.fileflow.dev/internal/common/lock"
	"go.fileflow.dev/internal/queue"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
)

// FileProcessingConsumerName labels the file processing consumer in metrics
// and logs.
const FileProcessingConsumerName = "file-processing"

// FileProcessor runs post-upload processing for one stored file.
type FileProcessor interface {
	Process(ctx context.Context, session *upload.UploadSession) error
}

// NewFileProcessingConsumer consumes FileProcessingMessage: each message runs
// post-upload processing for one completed session under the asset lock.
func NewFileProcessingConsumer(consumer queue.Consumer, locks lock.Coordinator, sessions upload.SessionRepository, processor FileProcessor) *LockedConsumer {
	logger := slog.Default().With("consumer", FileProcessingConsumerName)

	keyFn := func(msg queue.Message) (string, error) {
		m, err := decodeProcessingMessage(msg)
		if err != nil {
			return "", err
		}
		return "file-processing:" + m.FileAssetID, nil
	}

	handle := func(ctx context.Context, msg queue.Message) (Outcome, error) {
		m, err := decodeProcessingMessage(msg)
		if err != nil {
			return Outcome{Ack: true}, nil
		}

		session, err := sessions.FindByID(ctx, m.FileAssetID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load session %s: %w", m.FileAssetID, err)
		}
		if session == nil {
			logger.Warn("Processing message for unknown session", "sessionId", m.FileAssetID)
			return Outcome{Ack: true}, nil
		}
		if session.Status != upload.SessionStatusCompleted {
			// The event is written in the completing transaction, so anything
			// else means the session was failed afterwards; nothing to process
			logger.Warn("Skipping processing for non-completed session",
				"sessionId", session.ID, "status", session.Status)
			return Outcome{Ack: true}, nil
		}

		if err := processor.Process(ctx, session); err != nil {
			return Outcome{}, fmt.Errorf("process %s: %w", session.ID, err)
		}
		return Outcome{Ack: true}, nil
	}

	return NewLockedConsumer(FileProcessingConsumerName, consumer, locks, FileProcessingLease, keyFn, handle)
}

func decodeProcessingMessage(msg queue.Message) (*queue.FileProcessingMessage, error) {
	var m queue.FileProcessingMessage
	if err := queue.DecodeMessage(msg.Data(), &m); err != nil {
		return nil, fmt.Errorf("decode file processing message: %w", err)
	}
	if m.FileAssetID == "" {
		return nil, fmt.Errorf("file processing message %s has no asset id", msg.ID())
	}
	return &m, nil
}

// PassthroughProcessor is the default FileProcessor: it verifies the stored
// object is readable and passes the original through untouched. Transform
// pipelines replace it behind the same interface.
type PassthroughProcessor struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

// NewPassthroughProcessor creates the default processor.
func NewPassthroughProcessor(store storage.ObjectStore) *PassthroughProcessor {
	return &PassthroughProcessor{
		store:  store,
		logger: slog.Default(),
	}
}

// Process heads the stored object to confirm the upload is intact.
func (p *PassthroughProcessor) Process(ctx context.Context, session *upload.UploadSession) error {
	info, err := p.store.HeadObject(ctx, session.Bucket, session.StorageKey)
	if err != nil {
		return fmt.Errorf("verify stored object: %w", err)
	}
	if info == nil {
		return fmt.Errorf("object %s/%s missing after completed upload", session.Bucket, session.StorageKey)
	}
	p.logger.Info("File processed",
		"sessionId", session.ID,
		"storageKey", session.StorageKey,
		"size", info.Size)
	return nil
}
