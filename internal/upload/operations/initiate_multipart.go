package operations

import (
	"context"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
)

// InitiateMultipartCommand declares the part count for a multipart session.
type InitiateMultipartCommand struct {
	SessionID  string `json:"sessionId"`
	TotalParts int    `json:"totalParts"`
}

// InitiateMultipartResult carries the provider upload id and one presigned
// URL per part.
type InitiateMultipartResult struct {
	UploadID string            `json:"uploadId"`
	PartURLs []storage.PartURL `json:"partUrls"`
}

// InitiateMultipartUseCase starts the provider-side multipart upload and
// moves the session to IN_PROGRESS.
type InitiateMultipartUseCase struct {
	sessions  upload.SessionRepository
	multipart upload.MultipartRepository
	store     storage.ObjectStore
	config    Config
}

// NewInitiateMultipartUseCase creates a new InitiateMultipartUseCase
func NewInitiateMultipartUseCase(sessions upload.SessionRepository, multipart upload.MultipartRepository, store storage.ObjectStore, config Config) *InitiateMultipartUseCase {
	return &InitiateMultipartUseCase{
		sessions:  sessions,
		multipart: multipart,
		store:     store,
		config:    config,
	}
}

// Execute initiates the multipart upload: provider first, then the
// aggregates. If persisting fails after the provider call, the orphaned
// provider upload is cleaned up by the session expiry sweep.
func (uc *InitiateMultipartUseCase) Execute(ctx context.Context, cmd InitiateMultipartCommand) common.Result[*InitiateMultipartResult] {
	session, tracker, ucErr := loadMultipartSession(ctx, uc.sessions, uc.multipart, cmd.SessionID)
	if ucErr != nil {
		return common.Failure[*InitiateMultipartResult](ucErr)
	}

	if session.UploadType != upload.UploadTypeMultipart {
		return common.Failure[*InitiateMultipartResult](
			common.StateViolationError(common.ErrCodeInvalidState, "session is not a multipart upload",
				map[string]any{"sessionId": session.ID, "uploadType": string(session.UploadType)}),
		)
	}
	if session.IsExpired() {
		return common.Failure[*InitiateMultipartResult](
			common.StateViolationError(common.ErrCodeInvalidState, "session has expired",
				map[string]any{"sessionId": session.ID}),
		)
	}

	providerUploadID, err := uc.store.CreateMultipart(ctx, session.Bucket, session.StorageKey, session.ContentType)
	if err != nil {
		return common.Failure[*InitiateMultipartResult](
			common.InfrastructureError(common.ErrCodeStorageError, "failed to create multipart upload",
				map[string]any{"error": err.Error()}),
		)
	}

	if ucErr := tracker.Initiate(providerUploadID, cmd.TotalParts); ucErr != nil {
		return common.Failure[*InitiateMultipartResult](ucErr)
	}
	if ucErr := session.Start(); ucErr != nil {
		return common.Failure[*InitiateMultipartResult](ucErr)
	}

	partURLs, err := uc.store.PresignPartURLs(ctx, session.Bucket, session.StorageKey, providerUploadID, cmd.TotalParts, uc.config.PresignTTL)
	if err != nil {
		return common.Failure[*InitiateMultipartResult](
			common.InfrastructureError(common.ErrCodeStorageError, "failed to presign part urls",
				map[string]any{"error": err.Error()}),
		)
	}

	if err := uc.multipart.Update(ctx, tracker); err != nil {
		return common.Failure[*InitiateMultipartResult](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist multipart tracker",
				map[string]any{"error": err.Error()}),
		)
	}
	if err := uc.sessions.Update(ctx, session); err != nil {
		return common.Failure[*InitiateMultipartResult](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist session",
				map[string]any{"error": err.Error()}),
		)
	}

	return common.Success(&InitiateMultipartResult{
		UploadID: providerUploadID,
		PartURLs: partURLs,
	})
}

// loadMultipartSession loads a session and its multipart tracker, mapping
// absence to NotFound errors.
func loadMultipartSession(ctx context.Context, sessions upload.SessionRepository, multipart upload.MultipartRepository, sessionID string) (*upload.UploadSession, *upload.MultipartUpload, *common.UseCaseError) {
	if sessionID == "" {
		return nil, nil, common.ValidationError(common.ErrCodeRequired, "session id is required", nil)
	}

	session, err := sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, common.InfrastructureError(common.ErrCodeDBError, "failed to load session",
			map[string]any{"error": err.Error()})
	}
	if session == nil {
		return nil, nil, common.NotFoundError(common.ErrCodeSessionNotFound, "session not found",
			map[string]any{"sessionId": sessionID})
	}

	tracker, err := multipart.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, nil, common.InfrastructureError(common.ErrCodeDBError, "failed to load multipart tracker",
			map[string]any{"error": err.Error()})
	}
	if tracker == nil {
		return nil, nil, common.NotFoundError(common.ErrCodeSessionNotFound, "multipart tracker not found",
			map[string]any{"sessionId": sessionID})
	}

	return session, tracker, nil
}
