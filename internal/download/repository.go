package download

import "context"

// Repository defines external-download data access.
type Repository interface {
	// Insert stores a new download. When a mongo.SessionContext is passed,
	// the insert joins that transaction.
	Insert(ctx context.Context, d *ExternalDownload) error

	// Update persists the aggregate's current state.
	Update(ctx context.Context, d *ExternalDownload) error

	// FindByID returns a download or nil when absent.
	FindByID(ctx context.Context, id string) (*ExternalDownload, error)

	// FindBySessionID returns the downloads owned by one session.
	FindBySessionID(ctx context.Context, sessionID string) ([]*ExternalDownload, error)
}
