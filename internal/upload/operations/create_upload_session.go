// Package operations contains the upload-session use cases.
package operations

import (
	"context"
	"fmt"
	"time"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
)

// Transactor runs a function inside a database transaction. Repository calls
// made with the inner context join the transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds the storage and lifetime settings shared by the upload use
// cases.
type Config struct {
	// Bucket receives all uploads
	Bucket string

	// SessionTTL is how long a session may stay open
	SessionTTL time.Duration

	// PresignTTL is the lifetime of presigned upload URLs
	PresignTTL time.Duration

	// MaxFileSize rejects absurd declared sizes (0 = unlimited)
	MaxFileSize int64
}

// DefaultConfig returns sensible defaults
func DefaultConfig(bucket string) Config {
	return Config{
		Bucket:     bucket,
		SessionTTL: 24 * time.Hour,
		PresignTTL: 15 * time.Minute,
	}
}

// CreateUploadSessionCommand contains the data needed to open a session.
type CreateUploadSessionCommand struct {
	TenantID    string            `json:"tenantId"`
	FileName    string            `json:"fileName"`
	FileSize    int64             `json:"fileSize"`
	ContentType string            `json:"contentType,omitempty"`
	UploadType  upload.UploadType `json:"uploadType"`
}

// CreateUploadSessionResult is the session plus, for single-part uploads, the
// presigned PUT URL the client uploads to.
type CreateUploadSessionResult struct {
	Session   *upload.UploadSession `json:"session"`
	UploadURL string                `json:"uploadUrl,omitempty"`
}

// CreateUploadSessionUseCase opens an upload session. Single-part sessions
// get their presigned URL immediately; multipart sessions are initiated in a
// second step once the client declares the part count.
type CreateUploadSessionUseCase struct {
	sessions  upload.SessionRepository
	multipart upload.MultipartRepository
	store     storage.ObjectStore
	config    Config
}

// NewCreateUploadSessionUseCase creates a new CreateUploadSessionUseCase
func NewCreateUploadSessionUseCase(sessions upload.SessionRepository, multipart upload.MultipartRepository, store storage.ObjectStore, config Config) *CreateUploadSessionUseCase {
	return &CreateUploadSessionUseCase{
		sessions:  sessions,
		multipart: multipart,
		store:     store,
		config:    config,
	}
}

// Execute validates the request and creates the session (plus the INIT
// multipart tracker for multipart sessions).
func (uc *CreateUploadSessionUseCase) Execute(ctx context.Context, cmd CreateUploadSessionCommand) common.Result[*CreateUploadSessionResult] {
	if cmd.TenantID == "" {
		return common.Failure[*CreateUploadSessionResult](
			common.ValidationError(common.ErrCodeRequired, "tenant id is required", nil),
		)
	}
	if cmd.FileName == "" {
		return common.Failure[*CreateUploadSessionResult](
			common.ValidationError(common.ErrCodeRequired, "file name is required", nil),
		)
	}
	if cmd.FileSize <= 0 {
		return common.Failure[*CreateUploadSessionResult](
			common.ValidationError(common.ErrCodeInvalidValue, "file size must be positive",
				map[string]any{"fileSize": cmd.FileSize}),
		)
	}
	if uc.config.MaxFileSize > 0 && cmd.FileSize > uc.config.MaxFileSize {
		return common.Failure[*CreateUploadSessionResult](
			common.ValidationError(common.ErrCodeInvalidValue, "file size exceeds limit",
				map[string]any{"fileSize": cmd.FileSize, "limit": uc.config.MaxFileSize}),
		)
	}

	uploadType := cmd.UploadType
	if uploadType == "" {
		uploadType = upload.UploadTypeSingle
	}
	if uploadType != upload.UploadTypeSingle && uploadType != upload.UploadTypeMultipart {
		return common.Failure[*CreateUploadSessionResult](
			common.ValidationError(common.ErrCodeInvalidValue, "unknown upload type",
				map[string]any{"uploadType": string(uploadType)}),
		)
	}

	session := upload.NewUploadSession(
		cmd.TenantID, cmd.FileName, cmd.FileSize, cmd.ContentType,
		uploadType, uc.config.Bucket, storageKey(cmd.TenantID, cmd.FileName),
		uc.config.SessionTTL,
	)
	// The storage key embeds the session id so concurrent uploads of the
	// same file name never collide
	session.StorageKey = storageKeyFor(session)

	result := &CreateUploadSessionResult{Session: session}

	if uploadType == upload.UploadTypeSingle {
		presigned, err := uc.store.PresignPut(ctx, session.Bucket, session.StorageKey, uc.config.PresignTTL)
		if err != nil {
			return common.Failure[*CreateUploadSessionResult](
				common.InfrastructureError(common.ErrCodeStorageError, "failed to presign upload url",
					map[string]any{"error": err.Error()}),
			)
		}
		if ucErr := session.Start(); ucErr != nil {
			return common.Failure[*CreateUploadSessionResult](ucErr)
		}
		result.UploadURL = presigned.URL
	}

	if err := uc.sessions.Insert(ctx, session); err != nil {
		return common.Failure[*CreateUploadSessionResult](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist session",
				map[string]any{"error": err.Error()}),
		)
	}

	if uploadType == upload.UploadTypeMultipart {
		tracker := upload.NewMultipartUpload(session.ID)
		if err := uc.multipart.Insert(ctx, tracker); err != nil {
			return common.Failure[*CreateUploadSessionResult](
				common.InfrastructureError(common.ErrCodeDBError, "failed to persist multipart tracker",
					map[string]any{"error": err.Error()}),
			)
		}
	}

	return common.Success(result)
}

func storageKey(tenantID, fileName string) string {
	return fmt.Sprintf("%s/%s", tenantID, fileName)
}

func storageKeyFor(s *upload.UploadSession) string {
	return fmt.Sprintf("%s/%s/%s", s.TenantID, s.ID, s.FileName)
}
