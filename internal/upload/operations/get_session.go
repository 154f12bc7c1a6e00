package operations

import (
	"context"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/upload"
)

// GetSessionQuery identifies the session to fetch.
type GetSessionQuery struct {
	SessionID string `json:"sessionId"`
}

// SessionDetail is the session plus, for multipart sessions, its tracker.
type SessionDetail struct {
	Session   *upload.UploadSession   `json:"session"`
	Multipart *upload.MultipartUpload `json:"multipart,omitempty"`
}

// GetSessionUseCase fetches one session with its multipart progress.
type GetSessionUseCase struct {
	sessions  upload.SessionRepository
	multipart upload.MultipartRepository
}

// NewGetSessionUseCase creates a new GetSessionUseCase
func NewGetSessionUseCase(sessions upload.SessionRepository, multipart upload.MultipartRepository) *GetSessionUseCase {
	return &GetSessionUseCase{
		sessions:  sessions,
		multipart: multipart,
	}
}

// Execute loads the session and, when it is multipart, its tracker.
func (uc *GetSessionUseCase) Execute(ctx context.Context, query GetSessionQuery) common.Result[*SessionDetail] {
	if query.SessionID == "" {
		return common.Failure[*SessionDetail](
			common.ValidationError(common.ErrCodeRequired, "session id is required", nil),
		)
	}

	session, err := uc.sessions.FindByID(ctx, query.SessionID)
	if err != nil {
		return common.Failure[*SessionDetail](
			common.InfrastructureError(common.ErrCodeDBError, "failed to load session",
				map[string]any{"error": err.Error()}),
		)
	}
	if session == nil {
		return common.Failure[*SessionDetail](
			common.NotFoundError(common.ErrCodeSessionNotFound, "session not found",
				map[string]any{"sessionId": query.SessionID}),
		)
	}

	detail := &SessionDetail{Session: session}
	if session.UploadType == upload.UploadTypeMultipart {
		tracker, err := uc.multipart.FindBySessionID(ctx, session.ID)
		if err != nil {
			return common.Failure[*SessionDetail](
				common.InfrastructureError(common.ErrCodeDBError, "failed to load multipart tracker",
					map[string]any{"error": err.Error()}),
			)
		}
		detail.Multipart = tracker
	}

	return common.Success(detail)
}
