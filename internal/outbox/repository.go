package outbox

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateIdempotencyKey is returned by Insert when a record with the
// same idempotency key already exists. The producing use case treats this as
// "already submitted", not as a failure.
var ErrDuplicateIdempotencyKey = errors.New("outbox: duplicate idempotency key")

// Repository defines outbox data access.
//
// The exactly-one-winner guarantee for dispatch comes from ClaimPending
// performing an atomic single-record conditional update (PENDING ->
// PROCESSING); two dispatchers can never both claim the same record even
// without leader election.
type Repository interface {
	// Insert stores a new PENDING record. When the record carries an
	// idempotency key that already exists, Insert returns
	// ErrDuplicateIdempotencyKey.
	Insert(ctx context.Context, record *Record) error

	// ClaimPending atomically claims up to limit PENDING records, oldest
	// first, moving each to PROCESSING. Only claimed records are returned.
	ClaimPending(ctx context.Context, limit int) ([]*Record, error)

	// MarkCompleted finalizes a claimed record after successful delivery.
	// PROCESSING -> COMPLETED only.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed finalizes a claimed record after a failed delivery attempt,
	// incrementing its retry count. PROCESSING -> FAILED only.
	MarkFailed(ctx context.Context, id string, errorMessage string) error

	// ResetForRetry moves a FAILED record back to PENDING. This is the only
	// path out of FAILED and is never invoked automatically.
	ResetForRetry(ctx context.Context, id string) error

	// RecoverStuck resets PROCESSING records older than the threshold back
	// to PENDING. Used on startup and periodically to recover from
	// dispatcher crashes. Returns the number of recovered records.
	RecoverStuck(ctx context.Context, olderThan time.Time) (int64, error)

	// FindByID returns a record or nil when absent.
	FindByID(ctx context.Context, id string) (*Record, error)

	// FindByIdempotencyKey returns the record holding the key, or nil.
	// Producers use it after ErrDuplicateIdempotencyKey to recover the
	// aggregate the original submission created.
	FindByIdempotencyKey(ctx context.Context, key string) (*Record, error)

	// CountPending returns the pending backlog per event type, for metrics.
	CountPending(ctx context.Context) (map[EventType]int64, error)
}
