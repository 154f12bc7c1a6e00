package outbox

import (
	"context"
	"time"

	"go.fileflow.dev/internal/common/repository"
	"go.mongodb.org/mongo-driver/mongo"
)

// instrumentedRepository wraps a Repository with metrics and logging
type instrumentedRepository struct {
	inner Repository
}

// NewRepository creates the outbox repository with instrumentation
func NewRepository(db *mongo.Database) Repository {
	return newInstrumentedRepository(NewMongoRepository(db))
}

// newInstrumentedRepository creates an instrumented wrapper around a Repository
func newInstrumentedRepository(inner Repository) Repository {
	return &instrumentedRepository{inner: inner}
}

func (r *instrumentedRepository) Insert(ctx context.Context, record *Record) error {
	return repository.InstrumentVoid(ctx, CollectionName, "Insert", func() error {
		return r.inner.Insert(ctx, record)
	})
}

func (r *instrumentedRepository) ClaimPending(ctx context.Context, limit int) ([]*Record, error) {
	return repository.Instrument(ctx, CollectionName, "ClaimPending", func() ([]*Record, error) {
		return r.inner.ClaimPending(ctx, limit)
	})
}

func (r *instrumentedRepository) MarkCompleted(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, CollectionName, "MarkCompleted", func() error {
		return r.inner.MarkCompleted(ctx, id)
	})
}

func (r *instrumentedRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	return repository.InstrumentVoid(ctx, CollectionName, "MarkFailed", func() error {
		return r.inner.MarkFailed(ctx, id, errorMessage)
	})
}

func (r *instrumentedRepository) ResetForRetry(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, CollectionName, "ResetForRetry", func() error {
		return r.inner.ResetForRetry(ctx, id)
	})
}

func (r *instrumentedRepository) RecoverStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	return repository.Instrument(ctx, CollectionName, "RecoverStuck", func() (int64, error) {
		return r.inner.RecoverStuck(ctx, olderThan)
	})
}

func (r *instrumentedRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	return repository.Instrument(ctx, CollectionName, "FindByID", func() (*Record, error) {
		return r.inner.FindByID(ctx, id)
	})
}

func (r *instrumentedRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	return repository.Instrument(ctx, CollectionName, "FindByIdempotencyKey", func() (*Record, error) {
		return r.inner.FindByIdempotencyKey(ctx, key)
	})
}

func (r *instrumentedRepository) CountPending(ctx context.Context) (map[EventType]int64, error) {
	return repository.Instrument(ctx, CollectionName, "CountPending", func() (map[EventType]int64, error) {
		return r.inner.CountPending(ctx)
	})
}
