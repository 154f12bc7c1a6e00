// Package download contains the external-download aggregate: one outbound
// fetch-and-store operation with its own bounded retry counter.
//
// The aggregate's retry counter tracks fetch attempts and is independent of
// the outbox retry counter on the record that enqueued the download (that one
// counts publish attempts).
package download

import (
	"fmt"
	"net/url"
	"time"

	"go.fileflow.dev/internal/common/tsid"
	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/faults"
)

// Status is the lifecycle status of an external download
type Status string

const (
	StatusInit        Status = "INIT"
	StatusDownloading Status = "DOWNLOADING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusAborted     Status = "ABORTED"
)

// IsTerminal returns true for states that permit no further transition
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// DefaultMaxRetry bounds fetch attempts per download
const DefaultMaxRetry = 3

// maxRetryDelay caps the exponential backoff so a late retry still lands
// inside the queue's redelivery window
const maxRetryDelay = 10 * time.Minute

// ExternalDownload tracks one outbound fetch-and-store operation.
// Collection: external_downloads
type ExternalDownload struct {
	ID               string    `bson:"_id" json:"id"`
	SessionID        string    `bson:"sessionId" json:"sessionId"`
	SourceURL        string    `bson:"sourceUrl" json:"sourceUrl"`
	Bucket           string    `bson:"bucket" json:"bucket"`
	StorageKey       string    `bson:"storageKey" json:"storageKey"`
	BytesTransferred int64     `bson:"bytesTransferred" json:"bytesTransferred"`
	TotalBytes       int64     `bson:"totalBytes" json:"totalBytes"`
	Status           Status    `bson:"status" json:"status"`
	Version          int64     `bson:"version" json:"-"`
	RetryCount       int       `bson:"retryCount" json:"retryCount"`
	MaxRetry         int       `bson:"maxRetry" json:"maxRetry"`
	LastRetryAt      time.Time `bson:"lastRetryAt,omitempty" json:"lastRetryAt,omitempty"`
	LastErrorCode    string    `bson:"lastErrorCode,omitempty" json:"lastErrorCode,omitempty"`
	LastErrorMessage string    `bson:"lastErrorMessage,omitempty" json:"lastErrorMessage,omitempty"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
	CompletedAt      time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// NewExternalDownload creates an INIT download after validating the source
// URL. Only http and https schemes are accepted.
func NewExternalDownload(sessionID, sourceURL, bucket, storageKey string, maxRetry int) (*ExternalDownload, *common.UseCaseError) {
	if err := ValidateSourceURL(sourceURL); err != nil {
		return nil, err
	}
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}

	now := time.Now().UTC()
	return &ExternalDownload{
		ID:         tsid.Generate(),
		SessionID:  sessionID,
		SourceURL:  sourceURL,
		Bucket:     bucket,
		StorageKey: storageKey,
		Status:     StatusInit,
		MaxRetry:   maxRetry,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ValidateSourceURL rejects anything that is not an absolute http(s) URL.
func ValidateSourceURL(raw string) *common.UseCaseError {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return common.ValidationError(common.ErrCodeInvalidURL,
			fmt.Sprintf("source url must be http or https: %s", raw),
			map[string]any{"sourceUrl": raw})
	}
	return nil
}

// Start transitions INIT -> DOWNLOADING.
func (d *ExternalDownload) Start() *common.UseCaseError {
	if d.Status != StatusInit {
		return d.invalidTransition("start")
	}
	d.Status = StatusDownloading
	d.touch()
	return nil
}

// UpdateProgress records transferred byte counts. Requires DOWNLOADING.
func (d *ExternalDownload) UpdateProgress(transferred, total int64) *common.UseCaseError {
	if d.Status != StatusDownloading {
		return d.invalidTransition("update progress on")
	}
	d.BytesTransferred = transferred
	d.TotalBytes = total
	d.touch()
	return nil
}

// Complete transitions DOWNLOADING -> COMPLETED.
func (d *ExternalDownload) Complete() *common.UseCaseError {
	if d.Status != StatusDownloading {
		return d.invalidTransition("complete")
	}
	d.Status = StatusCompleted
	d.CompletedAt = time.Now().UTC()
	d.touch()
	return nil
}

// Fail records a fetch failure. When the fault is retryable and the retry
// budget is not exhausted, the retry count is incremented and the status is
// left unchanged; the caller is expected to re-enqueue. Otherwise the
// download moves to FAILED.
func (d *ExternalDownload) Fail(fault faults.Fault) *common.UseCaseError {
	if d.Status.IsTerminal() {
		return d.invalidTransition("fail")
	}

	d.LastErrorCode = fault.Code
	d.LastErrorMessage = fault.Message

	if faults.Classify(fault) == faults.ClassRetryable && d.CanRetry() {
		d.RetryCount++
		d.LastRetryAt = time.Now().UTC()
		d.touch()
		return nil
	}

	d.Status = StatusFailed
	d.touch()
	return nil
}

// Abort moves any non-COMPLETED download to ABORTED. Aborting a completed
// download is rejected.
func (d *ExternalDownload) Abort() *common.UseCaseError {
	if d.Status == StatusCompleted {
		return common.StateViolationError(common.ErrCodeAlreadyCompleted,
			"cannot abort completed download",
			map[string]any{"downloadId": d.ID})
	}
	d.Status = StatusAborted
	d.touch()
	return nil
}

// MarkFailed unconditionally moves a non-terminal download to FAILED, and is
// a no-op on an already FAILED one. This is the DLQ path and must stay
// idempotent.
func (d *ExternalDownload) MarkFailed(reason string) {
	if d.Status == StatusFailed {
		return
	}
	if reason != "" {
		d.LastErrorMessage = reason
	}
	d.Status = StatusFailed
	d.touch()
}

// CanRetry returns true while fetch attempts remain in the budget.
func (d *ExternalDownload) CanRetry() bool {
	return d.RetryCount < d.MaxRetry
}

// RetryDelay returns the backoff before the next fetch attempt: 2^retryCount
// seconds, capped.
func (d *ExternalDownload) RetryDelay() time.Duration {
	delay := time.Duration(1<<uint(d.RetryCount)) * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func (d *ExternalDownload) touch() {
	d.UpdatedAt = time.Now().UTC()
}

func (d *ExternalDownload) invalidTransition(op string) *common.UseCaseError {
	return common.StateViolationError(common.ErrCodeInvalidState,
		fmt.Sprintf("cannot %s download in status %s", op, d.Status),
		map[string]any{"downloadId": d.ID, "status": string(d.Status)})
}
