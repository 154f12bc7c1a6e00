package operations

import (
	"context"
	"log/slog"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/download"
)

// MarkDownloadFailedUseCase is the DLQ-terminal path: it forces a download to
// FAILED. It is idempotent and tolerant of missing aggregates because a DLQ
// message must always be resolvable.
type MarkDownloadFailedUseCase struct {
	repo download.Repository
}

// NewMarkDownloadFailedUseCase creates a new MarkDownloadFailedUseCase
func NewMarkDownloadFailedUseCase(repo download.Repository) *MarkDownloadFailedUseCase {
	return &MarkDownloadFailedUseCase{repo: repo}
}

// Execute marks the download FAILED. Calling it twice for the same id yields
// the same terminal state without error.
func (uc *MarkDownloadFailedUseCase) Execute(ctx context.Context, downloadID, reason string) common.Result[*download.ExternalDownload] {
	d, err := uc.repo.FindByID(ctx, downloadID)
	if err != nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "failed to load download", map[string]any{"error": err.Error()}),
		)
	}
	if d == nil {
		// Nothing to mark; DLQ handling still succeeds
		slog.Warn("DLQ mark-failed for unknown download", "downloadId", downloadID)
		return common.Success[*download.ExternalDownload](nil)
	}

	if d.Status == download.StatusCompleted {
		// The work finished before the DLQ message arrived; leave it alone
		slog.Info("DLQ mark-failed skipped, download already completed", "downloadId", d.ID)
		return common.Success(d)
	}

	d.MarkFailed(reason)
	if err := uc.repo.Update(ctx, d); err != nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "failed to persist failed status", map[string]any{"error": err.Error()}),
		)
	}

	slog.Warn("Download marked failed from DLQ", "downloadId", d.ID, "reason", reason)
	return common.Success(d)
}
