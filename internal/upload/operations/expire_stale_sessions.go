package operations

import (
	"context"
	"errors"
	"log/slog"

	"go.fileflow.dev/internal/common/repository"
	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
)

// DefaultExpiryBatchSize caps how many sessions one sweep expires.
const DefaultExpiryBatchSize = 100

// ExpireStaleSessionsUseCase sweeps sessions past their deadline to EXPIRED
// and aborts any provider-side multipart uploads they left open. Runs
// periodically from the worker binary.
type ExpireStaleSessionsUseCase struct {
	sessions  upload.SessionRepository
	multipart upload.MultipartRepository
	store     storage.ObjectStore
	batchSize int
	logger    *slog.Logger
}

// NewExpireStaleSessionsUseCase creates a new ExpireStaleSessionsUseCase
func NewExpireStaleSessionsUseCase(sessions upload.SessionRepository, multipart upload.MultipartRepository, store storage.ObjectStore, logger *slog.Logger) *ExpireStaleSessionsUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpireStaleSessionsUseCase{
		sessions:  sessions,
		multipart: multipart,
		store:     store,
		batchSize: DefaultExpiryBatchSize,
		logger:    logger,
	}
}

// Execute expires one batch of stale sessions and returns how many it
// expired. Per-session failures are logged and skipped; the next sweep picks
// the session up again.
func (uc *ExpireStaleSessionsUseCase) Execute(ctx context.Context) common.Result[int] {
	stale, err := uc.sessions.FindExpired(ctx, uc.batchSize)
	if err != nil {
		return common.Failure[int](
			common.InfrastructureError(common.ErrCodeDBError, "failed to list expired sessions",
				map[string]any{"error": err.Error()}),
		)
	}

	expired := 0
	for _, session := range stale {
		if err := uc.expireOne(ctx, session); err != nil {
			if errors.Is(err, repository.ErrOptimisticLock) {
				// The session moved between the scan and the write, usually
				// to COMPLETED; the versioned update refused the stale copy
				uc.logger.Debug("session changed during expiry sweep, skipping",
					"sessionId", session.ID)
				continue
			}
			uc.logger.Warn("failed to expire session",
				"sessionId", session.ID,
				"error", err)
			continue
		}
		expired++
	}

	if expired > 0 {
		uc.logger.Info("expired stale upload sessions", "count", expired)
	}
	return common.Success(expired)
}

func (uc *ExpireStaleSessionsUseCase) expireOne(ctx context.Context, session *upload.UploadSession) error {
	if ucErr := session.Expire(); ucErr != nil {
		return ucErr
	}

	if session.UploadType == upload.UploadTypeMultipart {
		tracker, err := uc.multipart.FindBySessionID(ctx, session.ID)
		if err != nil {
			return err
		}
		if tracker != nil && tracker.Status != upload.MultipartStatusCompleted {
			if tracker.Status != upload.MultipartStatusAborted {
				if ucErr := tracker.Abort(); ucErr != nil {
					return ucErr
				}
				if err := uc.multipart.Update(ctx, tracker); err != nil {
					return err
				}
			}
			// Best effort; S3 abort on an unknown upload id returns NoSuchUpload
			// which just means a previous sweep already cleaned it up
			if tracker.ProviderUploadID != "" {
				if err := uc.store.AbortMultipart(ctx, session.Bucket, session.StorageKey, tracker.ProviderUploadID); err != nil {
					uc.logger.Warn("provider multipart abort failed during expiry",
						"sessionId", session.ID,
						"uploadId", tracker.ProviderUploadID,
						"error", err)
				}
			}
		}
	}

	return uc.sessions.Update(ctx, session)
}
