package operations

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/download"
	"go.fileflow.dev/internal/faults"
	"go.fileflow.dev/internal/storage"
)

// ProcessOutcome tells the consumer what to do with the message.
type ProcessOutcome struct {
	Download *download.ExternalDownload

	// Retry is true when the fetch failed but the aggregate still has retry
	// budget: the consumer must not acknowledge so the queue redelivers.
	Retry bool
}

// ProcessExternalDownloadUseCase performs the fetch-and-store for one
// external download. It runs on a worker under the task lock.
type ProcessExternalDownloadUseCase struct {
	repo   download.Repository
	store  storage.ObjectStore
	client *http.Client
}

// NewProcessExternalDownloadUseCase creates a new ProcessExternalDownloadUseCase
func NewProcessExternalDownloadUseCase(repo download.Repository, store storage.ObjectStore, timeout time.Duration) *ProcessExternalDownloadUseCase {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ProcessExternalDownloadUseCase{
		repo:   repo,
		store:  store,
		client: &http.Client{Timeout: timeout},
	}
}

// Execute fetches the source URL and stores the bytes. On failure the
// aggregate's own fail() decides between staying retryable and going FAILED;
// state is always persisted before returning.
func (uc *ProcessExternalDownloadUseCase) Execute(ctx context.Context, downloadID string) common.Result[*ProcessOutcome] {
	d, err := uc.repo.FindByID(ctx, downloadID)
	if err != nil {
		return common.Failure[*ProcessOutcome](
			common.InfrastructureError(common.ErrCodeDBError, "failed to load download", map[string]any{"error": err.Error()}),
		)
	}
	if d == nil {
		return common.Failure[*ProcessOutcome](
			common.NotFoundError(common.ErrCodeDownloadNotFound, "download not found", map[string]any{"downloadId": downloadID}),
		)
	}

	// Redelivery after a retryable failure arrives with the download already
	// DOWNLOADING; only a fresh download needs starting
	if d.Status == download.StatusInit {
		if ucErr := d.Start(); ucErr != nil {
			return common.Failure[*ProcessOutcome](ucErr)
		}
		if err := uc.repo.Update(ctx, d); err != nil {
			return common.Failure[*ProcessOutcome](
				common.InfrastructureError(common.ErrCodeDBError, "failed to persist start", map[string]any{"error": err.Error()}),
			)
		}
	} else if d.Status != download.StatusDownloading {
		// Terminal or aborted: nothing to do, ack the message
		slog.Info("Skipping download in terminal status", "downloadId", d.ID, "status", d.Status)
		return common.Success(&ProcessOutcome{Download: d})
	}

	if err := uc.fetchAndStore(ctx, d); err != nil {
		return uc.handleFailure(ctx, d, err)
	}

	if ucErr := d.Complete(); ucErr != nil {
		return common.Failure[*ProcessOutcome](ucErr)
	}
	if err := uc.repo.Update(ctx, d); err != nil {
		return common.Failure[*ProcessOutcome](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist completion", map[string]any{"error": err.Error()}),
		)
	}

	slog.Info("External download completed",
		"downloadId", d.ID,
		"bytes", d.BytesTransferred)
	return common.Success(&ProcessOutcome{Download: d})
}

// fetchAndStore streams the source into the object store.
func (uc *ProcessExternalDownloadUseCase) fetchAndStore(ctx context.Context, d *download.ExternalDownload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := uc.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", d.SourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &fetchError{statusCode: resp.StatusCode, url: d.SourceURL}
	}

	contentType := resp.Header.Get("Content-Type")
	size := resp.ContentLength

	info, err := uc.store.Put(ctx, d.Bucket, d.StorageKey, resp.Body, size, contentType)
	if err != nil {
		return err
	}

	d.UpdateProgress(info.Size, info.Size)
	return nil
}

// handleFailure classifies the error, lets the aggregate decide, persists,
// and maps the decision onto the ack contract.
func (uc *ProcessExternalDownloadUseCase) handleFailure(ctx context.Context, d *download.ExternalDownload, fetchErr error) common.Result[*ProcessOutcome] {
	fault := faults.FromError(fetchErr)
	if fe, ok := fetchErr.(*fetchError); ok {
		fault.StatusCode = fe.statusCode
		fault.Code = fmt.Sprintf("HTTP_%d", fe.statusCode)
	}

	if ucErr := d.Fail(fault); ucErr != nil {
		return common.Failure[*ProcessOutcome](ucErr)
	}
	if err := uc.repo.Update(ctx, d); err != nil {
		return common.Failure[*ProcessOutcome](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist failure", map[string]any{"error": err.Error()}),
		)
	}

	if d.Status == download.StatusFailed {
		slog.Warn("External download failed permanently",
			"downloadId", d.ID,
			"retryCount", d.RetryCount,
			"error", fetchErr)
		return common.Success(&ProcessOutcome{Download: d})
	}

	slog.Warn("External download failed, will retry",
		"downloadId", d.ID,
		"retryCount", d.RetryCount,
		"retryDelay", d.RetryDelay(),
		"error", fetchErr)
	return common.Success(&ProcessOutcome{Download: d, Retry: true})
}

// fetchError carries the HTTP status of a failed source fetch into the
// classifier.
type fetchError struct {
	statusCode int
	url        string
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("fetch %s returned status %d", e.url, e.statusCode)
}
