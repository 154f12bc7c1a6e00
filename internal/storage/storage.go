// Package storage abstracts the object store behind a small interface so the
// upload/download use cases never talk to the S3 SDK directly. All calls made
// through the S3 implementation are wrapped in the shared retry policy and
// circuit breaker.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size int64
	ETag string
}

// PresignedURL is a time-limited URL for direct client access.
type PresignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// PartURL is a presigned URL for uploading one part of a multipart upload.
type PartURL struct {
	PartNumber int
	URL        string
}

// CompletedPart identifies one uploaded part when finishing a multipart
// upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// ObjectStore is the object-store surface the core depends on.
type ObjectStore interface {
	// PresignPut returns a time-limited URL for a direct single-part upload.
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (*PresignedURL, error)

	// HeadObject returns size and etag for a stored object.
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// Put streams an object into the store. Used by the external-download
	// worker; client uploads go through presigned URLs instead.
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// CreateMultipart starts a provider-side multipart upload and returns
	// its upload id.
	CreateMultipart(ctx context.Context, bucket, key, contentType string) (string, error)

	// PresignPartURLs returns one presigned upload URL per part number
	// 1..totalParts.
	PresignPartURLs(ctx context.Context, bucket, key, uploadID string, totalParts int, ttl time.Duration) ([]PartURL, error)

	// CompleteMultipart assembles the uploaded parts into the final object.
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (*ObjectInfo, error)

	// AbortMultipart discards an in-progress multipart upload.
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
}
