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

// CompleteSingleUploadCommand finalizes a single-part session after the
// client reports the presigned PUT finished.
type CompleteSingleUploadCommand struct {
	SessionID string `json:"sessionId"`
}

// CompleteSingleUploadUseCase verifies the object actually landed in the
// bucket before completing the session. Clients only report success; the
// object store is the source of truth.
type CompleteSingleUploadUseCase struct {
	sessions   upload.SessionRepository
	outboxRepo outbox.Repository
	store      storage.ObjectStore
	tx         Transactor
}

// NewCompleteSingleUploadUseCase creates a new CompleteSingleUploadUseCase
func NewCompleteSingleUploadUseCase(sessions upload.SessionRepository, outboxRepo outbox.Repository, store storage.ObjectStore, tx Transactor) *CompleteSingleUploadUseCase {
	return &CompleteSingleUploadUseCase{
		sessions:   sessions,
		outboxRepo: outboxRepo,
		store:      store,
		tx:         tx,
	}
}

// Execute heads the object, completes the session, and emits the processing
// event transactionally.
func (uc *CompleteSingleUploadUseCase) Execute(ctx context.Context, cmd CompleteSingleUploadCommand) common.Result[*upload.UploadSession] {
	if cmd.SessionID == "" {
		return common.Failure[*upload.UploadSession](
			common.ValidationError(common.ErrCodeRequired, "session id is required", nil),
		)
	}

	session, err := uc.sessions.FindByID(ctx, cmd.SessionID)
	if err != nil {
		return common.Failure[*upload.UploadSession](
			common.InfrastructureError(common.ErrCodeDBError, "failed to load session",
				map[string]any{"error": err.Error()}),
		)
	}
	if session == nil {
		return common.Failure[*upload.UploadSession](
			common.NotFoundError(common.ErrCodeSessionNotFound, "session not found",
				map[string]any{"sessionId": cmd.SessionID}),
		)
	}
	if session.UploadType != upload.UploadTypeSingle {
		return common.Failure[*upload.UploadSession](
			common.StateViolationError(common.ErrCodeInvalidState, "session is not a single upload",
				map[string]any{"sessionId": session.ID, "uploadType": string(session.UploadType)}),
		)
	}

	info, err := uc.store.HeadObject(ctx, session.Bucket, session.StorageKey)
	if err != nil {
		return common.Failure[*upload.UploadSession](
			common.InfrastructureError(common.ErrCodeStorageError, "failed to verify uploaded object",
				map[string]any{"error": err.Error()}),
		)
	}
	if info == nil || info.Size == 0 {
		return common.Failure[*upload.UploadSession](
			common.StateViolationError(common.ErrCodeInvalidState, "object not found in bucket",
				map[string]any{"sessionId": session.ID, "storageKey": session.StorageKey}),
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
		if err := uc.sessions.Update(ctx, session); err != nil {
			return err
		}
		if err := uc.outboxRepo.Insert(ctx, record); err != nil {
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
