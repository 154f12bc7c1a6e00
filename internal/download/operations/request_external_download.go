// Package operations contains the external-download use cases.
package operations

import (
	"context"
	"errors"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/download"
	"go.fileflow.dev/internal/outbox"
	"go.fileflow.dev/internal/queue"
)

// Transactor runs a function inside a database transaction. Repository calls
// made with the inner context join the transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RequestExternalDownloadCommand contains the data needed to accept an
// external download.
type RequestExternalDownloadCommand struct {
	SessionID  string `json:"sessionId"`
	SourceURL  string `json:"sourceUrl"`
	Bucket     string `json:"bucket"`
	StorageKey string `json:"storageKey"`
	MaxRetry   int    `json:"maxRetry,omitempty"`

	// IdempotencyKey deduplicates repeated submissions of the same logical
	// request; empty means every call creates a new download.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RequestExternalDownloadUseCase accepts a download request: it creates the
// aggregate and the outbox record that will enqueue the fetch, atomically.
type RequestExternalDownloadUseCase struct {
	repo       download.Repository
	outboxRepo outbox.Repository
	tx         Transactor
}

// NewRequestExternalDownloadUseCase creates a new RequestExternalDownloadUseCase
func NewRequestExternalDownloadUseCase(repo download.Repository, outboxRepo outbox.Repository, tx Transactor) *RequestExternalDownloadUseCase {
	return &RequestExternalDownloadUseCase{
		repo:       repo,
		outboxRepo: outboxRepo,
		tx:         tx,
	}
}

// Execute validates the request and commits the download together with its
// DOWNLOAD_REQUESTED outbox record. A crash between the two can lose neither.
func (uc *RequestExternalDownloadUseCase) Execute(ctx context.Context, cmd RequestExternalDownloadCommand) common.Result[*download.ExternalDownload] {
	if cmd.SessionID == "" {
		return common.Failure[*download.ExternalDownload](
			common.ValidationError(common.ErrCodeRequired, "session id is required", nil),
		)
	}
	if cmd.Bucket == "" || cmd.StorageKey == "" {
		return common.Failure[*download.ExternalDownload](
			common.ValidationError(common.ErrCodeRequired, "bucket and storage key are required", nil),
		)
	}

	d, ucErr := download.NewExternalDownload(cmd.SessionID, cmd.SourceURL, cmd.Bucket, cmd.StorageKey, cmd.MaxRetry)
	if ucErr != nil {
		return common.Failure[*download.ExternalDownload](ucErr)
	}

	payload, err := queue.EncodeMessage(queue.ExternalDownloadMessage{
		ExternalDownloadID: d.ID,
		SourceURL:          d.SourceURL,
	})
	if err != nil {
		return common.Failure[*download.ExternalDownload](
			common.InternalError(common.ErrCodeDBError, "failed to encode download message", map[string]any{"error": err.Error()}),
		)
	}

	idempotencyKey := cmd.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = "download-requested:" + d.ID
	}
	record := outbox.NewRecord(d.ID, outbox.EventTypeDownloadRequested, string(payload)).
		WithIdempotencyKey(idempotencyKey)

	err = uc.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := uc.repo.Insert(ctx, d); err != nil {
			return err
		}
		return uc.outboxRepo.Insert(ctx, record)
	})
	if errors.Is(err, outbox.ErrDuplicateIdempotencyKey) {
		// The transaction rolled back, so d was never persisted. Recover the
		// download the original submission created and answer with that one.
		return uc.recoverAccepted(ctx, idempotencyKey)
	}
	if err != nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist download request", map[string]any{"error": err.Error()}),
		)
	}

	return common.Success(d)
}

// recoverAccepted resolves a duplicate idempotency key to the stored
// download: the outbox record holding the key carries the aggregate id of
// the accepted submission.
func (uc *RequestExternalDownloadUseCase) recoverAccepted(ctx context.Context, idempotencyKey string) common.Result[*download.ExternalDownload] {
	record, err := uc.outboxRepo.FindByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "failed to resolve duplicate request", map[string]any{"error": err.Error()}),
		)
	}
	if record == nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "duplicate request but original record not found",
				map[string]any{"idempotencyKey": idempotencyKey}),
		)
	}
	stored, err := uc.repo.FindByID(ctx, record.AggregateID)
	if err != nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "failed to load accepted download", map[string]any{"error": err.Error()}),
		)
	}
	if stored == nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "accepted download missing",
				map[string]any{"downloadId": record.AggregateID}),
		)
	}
	return common.Success(stored)
}
