package operations

import (
	"context"
	"log/slog"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
)

// AbortSessionCommand cancels an open upload session.
type AbortSessionCommand struct {
	SessionID string `json:"sessionId"`
}

// AbortSessionUseCase cancels a session and releases any provider-side
// multipart state so the bucket does not accumulate orphaned part storage.
type AbortSessionUseCase struct {
	sessions  upload.SessionRepository
	multipart upload.MultipartRepository
	store     storage.ObjectStore
	logger    *slog.Logger
}

// NewAbortSessionUseCase creates a new AbortSessionUseCase
func NewAbortSessionUseCase(sessions upload.SessionRepository, multipart upload.MultipartRepository, store storage.ObjectStore, logger *slog.Logger) *AbortSessionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AbortSessionUseCase{
		sessions:  sessions,
		multipart: multipart,
		store:     store,
		logger:    logger,
	}
}

// Execute moves the session to FAILED and, for multipart sessions with a
// provider upload open, aborts it at the object store. A provider abort
// failure does not block the session transition; the expiry sweep retries
// the provider cleanup for aborted trackers.
func (uc *AbortSessionUseCase) Execute(ctx context.Context, cmd AbortSessionCommand) common.Result[*upload.UploadSession] {
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

	if ucErr := session.Fail(); ucErr != nil {
		return common.Failure[*upload.UploadSession](ucErr)
	}

	if session.UploadType == upload.UploadTypeMultipart {
		tracker, err := uc.multipart.FindBySessionID(ctx, session.ID)
		if err != nil {
			return common.Failure[*upload.UploadSession](
				common.InfrastructureError(common.ErrCodeDBError, "failed to load multipart tracker",
					map[string]any{"error": err.Error()}),
			)
		}
		if tracker != nil && tracker.Status != upload.MultipartStatusCompleted {
			if ucErr := tracker.Abort(); ucErr != nil {
				return common.Failure[*upload.UploadSession](ucErr)
			}
			if tracker.ProviderUploadID != "" {
				if err := uc.store.AbortMultipart(ctx, session.Bucket, session.StorageKey, tracker.ProviderUploadID); err != nil {
					uc.logger.Warn("provider multipart abort failed, cleanup deferred",
						"sessionId", session.ID,
						"uploadId", tracker.ProviderUploadID,
						"error", err)
				}
			}
			if err := uc.multipart.Update(ctx, tracker); err != nil {
				return common.Failure[*upload.UploadSession](
					common.InfrastructureError(common.ErrCodeDBError, "failed to persist multipart tracker",
						map[string]any{"error": err.Error()}),
				)
			}
		}
	}

	if err := uc.sessions.Update(ctx, session); err != nil {
		return common.Failure[*upload.UploadSession](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist session",
				map[string]any{"error": err.Error()}),
		)
	}

	return common.Success(session)
}
