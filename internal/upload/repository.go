package upload

import "context"

// SessionRepository defines upload-session data access.
type SessionRepository interface {
	Insert(ctx context.Context, s *UploadSession) error
	Update(ctx context.Context, s *UploadSession) error
	FindByID(ctx context.Context, id string) (*UploadSession, error)
	FindByTenant(ctx context.Context, tenantID string, limit int) ([]*UploadSession, error)

	// FindExpired returns non-terminal sessions whose deadline has passed.
	FindExpired(ctx context.Context, limit int) ([]*UploadSession, error)
}

// MultipartRepository defines multipart-upload data access.
type MultipartRepository interface {
	Insert(ctx context.Context, m *MultipartUpload) error
	Update(ctx context.Context, m *MultipartUpload) error

	// RecordPart atomically appends one part to an IN_PROGRESS tracker
	// that does not already hold its part number. Concurrent callers each
	// append their own part; a failed guard surfaces
	// repository.ErrOptimisticLock.
	RecordPart(ctx context.Context, trackerID string, part UploadPart) error

	FindBySessionID(ctx context.Context, sessionID string) (*MultipartUpload, error)
}
