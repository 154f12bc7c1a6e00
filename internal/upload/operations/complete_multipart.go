package operations

import (
	"context"
	"errors"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/outbox"
	"go.fileflow.dev/internal/queue"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
)

// CompleteMultipartCommand finalizes a multipart session.
type CompleteMultipartCommand struct {
	SessionID string `json:"sessionId"`
}

// CompleteMultipartUseCase assembles the uploaded parts at the provider and
// completes the session, emitting a FILE_PROCESSING outbox record in the same
// transaction as the state change.
type CompleteMultipartUseCase struct {
	sessions   upload.SessionRepository
	multipart  upload.MultipartRepository
	outboxRepo outbox.Repository
	store      storage.ObjectStore
	tx         Transactor
}

// NewCompleteMultipartUseCase creates a new CompleteMultipartUseCase
func NewCompleteMultipartUseCase(sessions upload.SessionRepository, multipart upload.MultipartRepository, outboxRepo outbox.Repository, store storage.ObjectStore, tx Transactor) *CompleteMultipartUseCase {
	return &CompleteMultipartUseCase{
		sessions:   sessions,
		multipart:  multipart,
		outboxRepo: outboxRepo,
		store:      store,
		tx:         tx,
	}
}

// Execute verifies all parts are recorded, completes the provider-side upload,
// then commits tracker, session, and the processing event together.
//
// The provider call happens before the transaction: if the commit fails after
// a successful CompleteMultipartUpload the session stays IN_PROGRESS and the
// client retries; S3 treats a repeated complete with the same parts as
// idempotent.
func (uc *CompleteMultipartUseCase) Execute(ctx context.Context, cmd CompleteMultipartCommand) common.Result[*upload.UploadSession] {
	session, tracker, ucErr := loadMultipartSession(ctx, uc.sessions, uc.multipart, cmd.SessionID)
	if ucErr != nil {
		return common.Failure[*upload.UploadSession](ucErr)
	}

	if ucErr := tracker.Complete(); ucErr != nil {
		return common.Failure[*upload.UploadSession](ucErr)
	}

	parts := make([]storage.CompletedPart, 0, len(tracker.Parts))
	for _, p := range tracker.Parts {
		parts = append(parts, storage.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	if _, err := uc.store.CompleteMultipart(ctx, session.Bucket, session.StorageKey, tracker.ProviderUploadID, parts); err != nil {
		return common.Failure[*upload.UploadSession](
			common.InfrastructureError(common.ErrCodeStorageError, "failed to complete multipart upload",
				map[string]any{"error": err.Error()}),
		)
	}

	if ucErr := session.Complete(); ucErr != nil {
		return common.Failure[*upload.UploadSession](ucErr)
	}

	record := outbox.NewRecord(session.ID, outbox.EventTypeFileProcessing, "").
		WithIdempotencyKey("file-processing:" + session.ID)
	payload, err := queue.EncodeMessage(queue.FileProcessingMessage{
		FileAssetID: session.ID,
		OutboxID:    record.ID,
		EventType:   string(outbox.EventTypeFileProcessing),
	})
	if err != nil {
		return common.Failure[*upload.UploadSession](
			common.InternalError(common.ErrCodeDBError, "failed to encode processing message",
				map[string]any{"error": err.Error()}),
		)
	}
	record.Payload = string(payload)

	err = uc.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := uc.multipart.Update(ctx, tracker); err != nil {
			return err
		}
		if err := uc.sessions.Update(ctx, session); err != nil {
			return err
		}
		if err := uc.outboxRepo.Insert(ctx, record); err != nil {
			// A concurrent complete already emitted the event; the state
			// writes above are idempotent replays of the same transition
			if errors.Is(err, outbox.ErrDuplicateIdempotencyKey) {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return common.Failure[*upload.UploadSession](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist completion",
				map[string]any{"error": err.Error()}),
		)
	}

	return common.Success(session)
}
