package operations

import (
	"context"
	"errors"
	"time"

	"go.fileflow.dev/internal/common/repository"
	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/upload"
)

// MarkPartUploadedCommand records one client-reported uploaded part.
type MarkPartUploadedCommand struct {
	SessionID  string `json:"sessionId"`
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// MarkPartUploadedUseCase records upload progress for one part.
type MarkPartUploadedUseCase struct {
	sessions  upload.SessionRepository
	multipart upload.MultipartRepository
}

// NewMarkPartUploadedUseCase creates a new MarkPartUploadedUseCase
func NewMarkPartUploadedUseCase(sessions upload.SessionRepository, multipart upload.MultipartRepository) *MarkPartUploadedUseCase {
	return &MarkPartUploadedUseCase{
		sessions:  sessions,
		multipart: multipart,
	}
}

// Execute validates the part against the tracker's invariants (IN_PROGRESS,
// in range, not a duplicate) and persists it with a single guarded append.
// Parts arrive concurrently via presigned URLs, so the persistence step must
// not replay the state read here: RecordPart re-checks status and part
// number against the live document.
func (uc *MarkPartUploadedUseCase) Execute(ctx context.Context, cmd MarkPartUploadedCommand) common.Result[*upload.MultipartUpload] {
	if cmd.ETag == "" {
		return common.Failure[*upload.MultipartUpload](
			common.ValidationError(common.ErrCodeRequired, "etag is required", nil),
		)
	}

	_, tracker, ucErr := loadMultipartSession(ctx, uc.sessions, uc.multipart, cmd.SessionID)
	if ucErr != nil {
		return common.Failure[*upload.MultipartUpload](ucErr)
	}

	if cmd.PartNumber > tracker.TotalParts {
		return common.Failure[*upload.MultipartUpload](
			common.ValidationError(common.ErrCodeInvalidValue, "part number exceeds declared total",
				map[string]any{"partNumber": cmd.PartNumber, "totalParts": tracker.TotalParts}),
		)
	}

	part := upload.UploadPart{
		PartNumber: cmd.PartNumber,
		ETag:       cmd.ETag,
		Size:       cmd.Size,
		UploadedAt: time.Now().UTC(),
	}
	if ucErr := tracker.AddPart(part.PartNumber, part.ETag, part.Size); ucErr != nil {
		return common.Failure[*upload.MultipartUpload](ucErr)
	}

	if err := uc.multipart.RecordPart(ctx, tracker.ID, part); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			// The guard failed against the live document: a racer recorded
			// the same part, or the tracker left IN_PROGRESS since the read
			return uc.conflictResult(ctx, cmd)
		}
		return common.Failure[*upload.MultipartUpload](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist part",
				map[string]any{"error": err.Error()}),
		)
	}

	return common.Success(tracker)
}

// conflictResult reloads the tracker and re-derives the domain error the
// failed append guard implies.
func (uc *MarkPartUploadedUseCase) conflictResult(ctx context.Context, cmd MarkPartUploadedCommand) common.Result[*upload.MultipartUpload] {
	_, tracker, ucErr := loadMultipartSession(ctx, uc.sessions, uc.multipart, cmd.SessionID)
	if ucErr != nil {
		return common.Failure[*upload.MultipartUpload](ucErr)
	}
	if ucErr := tracker.AddPart(cmd.PartNumber, cmd.ETag, cmd.Size); ucErr != nil {
		return common.Failure[*upload.MultipartUpload](ucErr)
	}
	return common.Failure[*upload.MultipartUpload](
		common.InfrastructureError(common.ErrCodeDBError, "concurrent part update conflict",
			map[string]any{"sessionId": cmd.SessionID, "partNumber": cmd.PartNumber}),
	)
}
