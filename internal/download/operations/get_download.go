package operations

import (
	"context"

	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/download"
)

// GetDownloadUseCase returns one download by id.
type GetDownloadUseCase struct {
	repo download.Repository
}

// NewGetDownloadUseCase creates a new GetDownloadUseCase
func NewGetDownloadUseCase(repo download.Repository) *GetDownloadUseCase {
	return &GetDownloadUseCase{repo: repo}
}

// Execute loads the download or fails with DOWNLOAD_NOT_FOUND.
func (uc *GetDownloadUseCase) Execute(ctx context.Context, downloadID string) common.Result[*download.ExternalDownload] {
	d, err := uc.repo.FindByID(ctx, downloadID)
	if err != nil {
		return common.Failure[*download.ExternalDownload](
			common.InfrastructureError(common.ErrCodeDBError, "failed to load download", map[string]any{"error": err.Error()}),
		)
	}
	if d == nil {
		return common.Failure[*download.ExternalDownload](
			common.NotFoundError(common.ErrCodeDownloadNotFound, "download not found", map[string]any{"downloadId": downloadID}),
		)
	}
	return common.Success(d)
}
