package operations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.fileflow.dev/internal/common/repository"
	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/download"
	"go.fileflow.dev/internal/outbox"
	"go.fileflow.dev/internal/storage"
)

// MockDownloadRepository implements download.Repository in memory
type MockDownloadRepository struct {
	mu        sync.Mutex
	downloads map[string]*download.ExternalDownload

	findByIDFunc func(ctx context.Context, id string) (*download.ExternalDownload, error)
}

func NewMockDownloadRepository() *MockDownloadRepository {
	return &MockDownloadRepository{downloads: make(map[string]*download.ExternalDownload)}
}

func (m *MockDownloadRepository) Insert(ctx context.Context, d *download.ExternalDownload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads[d.ID] = d
	return nil
}

func (m *MockDownloadRepository) Update(ctx context.Context, d *download.ExternalDownload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.downloads[d.ID]
	if !ok || stored.Version != d.Version {
		return fmt.Errorf("update external download %s: %w", d.ID, repository.ErrOptimisticLock)
	}
	d.Version++
	m.downloads[d.ID] = d
	return nil
}

func (m *MockDownloadRepository) FindByID(ctx context.Context, id string) (*download.ExternalDownload, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads[id], nil
}

func (m *MockDownloadRepository) FindBySessionID(ctx context.Context, sessionID string) ([]*download.ExternalDownload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*download.ExternalDownload
	for _, d := range m.downloads {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	return out, nil
}

// MockOutboxRepository records inserts
type MockOutboxRepository struct {
	mu      sync.Mutex
	records []*outbox.Record
}

func (m *MockOutboxRepository) Insert(ctx context.Context, record *outbox.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if record.IdempotencyKey != "" && existing.IdempotencyKey == record.IdempotencyKey {
			return outbox.ErrDuplicateIdempotencyKey
		}
	}
	m.records = append(m.records, record)
	return nil
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*outbox.Record, error) {
	return nil, nil
}
func (m *MockOutboxRepository) MarkCompleted(ctx context.Context, id string) error { return nil }
func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	return nil
}
func (m *MockOutboxRepository) ResetForRetry(ctx context.Context, id string) error { return nil }
func (m *MockOutboxRepository) RecoverStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}
func (m *MockOutboxRepository) FindByID(ctx context.Context, id string) (*outbox.Record, error) {
	return nil, nil
}
func (m *MockOutboxRepository) FindByIdempotencyKey(ctx context.Context, key string) (*outbox.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.IdempotencyKey == key {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}
func (m *MockOutboxRepository) CountPending(ctx context.Context) (map[outbox.EventType]int64, error) {
	return nil, nil
}

// passthroughTransactor runs the function without a real transaction
type passthroughTransactor struct{}

func (passthroughTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// rollbackTransactor undoes download writes when the function fails, the way
// an aborted Mongo transaction would.
type rollbackTransactor struct {
	repo *MockDownloadRepository
}

func (t rollbackTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.repo.mu.Lock()
	snapshot := make(map[string]*download.ExternalDownload, len(t.repo.downloads))
	for id, d := range t.repo.downloads {
		snapshot[id] = d
	}
	t.repo.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.repo.mu.Lock()
		t.repo.downloads = snapshot
		t.repo.mu.Unlock()
		return err
	}
	return nil
}

// MockObjectStore implements storage.ObjectStore
type MockObjectStore struct {
	putFunc func(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (*storage.ObjectInfo, error)
}

func (m *MockObjectStore) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://presigned.test/" + key}, nil
}

func (m *MockObjectStore) HeadObject(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	return &storage.ObjectInfo{Size: 0}, nil
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (*storage.ObjectInfo, error) {
	if m.putFunc != nil {
		return m.putFunc(ctx, bucket, key, body, size, contentType)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return &storage.ObjectInfo{Size: int64(len(data)), ETag: "etag-1"}, nil
}

func (m *MockObjectStore) CreateMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	return "upload-1", nil
}

func (m *MockObjectStore) PresignPartURLs(ctx context.Context, bucket, key, uploadID string, totalParts int, ttl time.Duration) ([]storage.PartURL, error) {
	urls := make([]storage.PartURL, totalParts)
	for i := range urls {
		urls[i] = storage.PartURL{PartNumber: i + 1, URL: "https://presigned.test/part"}
	}
	return urls, nil
}

func (m *MockObjectStore) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (*storage.ObjectInfo, error) {
	return &storage.ObjectInfo{ETag: "etag-final"}, nil
}

func (m *MockObjectStore) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	return nil
}

func TestRequestExternalDownload(t *testing.T) {
	repo := NewMockDownloadRepository()
	outboxRepo := &MockOutboxRepository{}
	uc := NewRequestExternalDownloadUseCase(repo, outboxRepo, passthroughTransactor{})

	result := uc.Execute(context.Background(), RequestExternalDownloadCommand{
		SessionID:  "session-1",
		SourceURL:  "https://example.com/file.bin",
		Bucket:     "uploads",
		StorageKey: "tenant-1/file.bin",
	})
	if result.IsFailure() {
		t.Fatalf("execute: %v", result.Error)
	}

	d := result.Value
	if d.Status != download.StatusInit {
		t.Errorf("expected INIT, got %s", d.Status)
	}

	if len(outboxRepo.records) != 1 {
		t.Fatalf("expected 1 outbox record, got %d", len(outboxRepo.records))
	}
	record := outboxRepo.records[0]
	if record.EventType != outbox.EventTypeDownloadRequested {
		t.Errorf("unexpected event type %s", record.EventType)
	}
	if record.AggregateID != d.ID {
		t.Errorf("expected aggregate id %s, got %s", d.ID, record.AggregateID)
	}
}

func TestRequestExternalDownloadDuplicateKeyReturnsAccepted(t *testing.T) {
	repo := NewMockDownloadRepository()
	outboxRepo := &MockOutboxRepository{}
	uc := NewRequestExternalDownloadUseCase(repo, outboxRepo, rollbackTransactor{repo: repo})

	cmd := RequestExternalDownloadCommand{
		SessionID:      "session-1",
		SourceURL:      "https://example.com/file.bin",
		Bucket:         "uploads",
		StorageKey:     "tenant-1/file.bin",
		IdempotencyKey: "crawl-run:schedule-7:1700000000",
	}

	first := uc.Execute(context.Background(), cmd)
	if first.IsFailure() {
		t.Fatalf("first request: %v", first.Error)
	}

	second := uc.Execute(context.Background(), cmd)
	if second.IsFailure() {
		t.Fatalf("duplicate request must be accepted: %v", second.Error)
	}
	if second.Value.ID != first.Value.ID {
		t.Errorf("duplicate must return the stored download %s, got %s", first.Value.ID, second.Value.ID)
	}

	stored, err := repo.FindByID(context.Background(), second.Value.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Fatal("the id returned for a duplicate must resolve to a persisted download")
	}
	if len(outboxRepo.records) != 1 {
		t.Errorf("duplicate must not add outbox records, got %d", len(outboxRepo.records))
	}
}

func TestRequestExternalDownloadRejectsBadURL(t *testing.T) {
	uc := NewRequestExternalDownloadUseCase(NewMockDownloadRepository(), &MockOutboxRepository{}, passthroughTransactor{})

	result := uc.Execute(context.Background(), RequestExternalDownloadCommand{
		SessionID:  "session-1",
		SourceURL:  "ftp://example.com/file.bin",
		Bucket:     "uploads",
		StorageKey: "key",
	})
	if result.IsSuccess() {
		t.Fatal("expected failure for ftp url")
	}
	if result.Error.Code != common.ErrCodeInvalidURL {
		t.Errorf("expected %s, got %s", common.ErrCodeInvalidURL, result.Error.Code)
	}
}

func TestProcessExternalDownloadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("file contents"))
	}))
	defer server.Close()

	repo := NewMockDownloadRepository()
	d, _ := download.NewExternalDownload("session-1", server.URL+"/file.bin", "uploads", "key", 3)
	repo.Insert(context.Background(), d)

	uc := NewProcessExternalDownloadUseCase(repo, &MockObjectStore{}, 10*time.Second)
	result := uc.Execute(context.Background(), d.ID)
	if result.IsFailure() {
		t.Fatalf("execute: %v", result.Error)
	}

	outcome := result.Value
	if outcome.Retry {
		t.Error("expected no retry on success")
	}
	if outcome.Download.Status != download.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", outcome.Download.Status)
	}
	if outcome.Download.BytesTransferred != int64(len("file contents")) {
		t.Errorf("unexpected bytes transferred %d", outcome.Download.BytesTransferred)
	}
}

func TestProcessExternalDownloadRetryableFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	repo := NewMockDownloadRepository()
	d, _ := download.NewExternalDownload("session-1", server.URL+"/file.bin", "uploads", "key", 3)
	repo.Insert(context.Background(), d)

	uc := NewProcessExternalDownloadUseCase(repo, &MockObjectStore{}, 10*time.Second)
	result := uc.Execute(context.Background(), d.ID)
	if result.IsFailure() {
		t.Fatalf("execute: %v", result.Error)
	}

	outcome := result.Value
	if !outcome.Retry {
		t.Error("expected retry on 503")
	}
	if outcome.Download.Status != download.StatusDownloading {
		t.Errorf("expected DOWNLOADING, got %s", outcome.Download.Status)
	}
	if outcome.Download.RetryCount != 1 {
		t.Errorf("expected retryCount 1, got %d", outcome.Download.RetryCount)
	}
}

func TestProcessExternalDownloadPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	repo := NewMockDownloadRepository()
	d, _ := download.NewExternalDownload("session-1", server.URL+"/missing.bin", "uploads", "key", 3)
	repo.Insert(context.Background(), d)

	uc := NewProcessExternalDownloadUseCase(repo, &MockObjectStore{}, 10*time.Second)
	result := uc.Execute(context.Background(), d.ID)
	if result.IsFailure() {
		t.Fatalf("execute: %v", result.Error)
	}

	outcome := result.Value
	if outcome.Retry {
		t.Error("404 must not retry")
	}
	if outcome.Download.Status != download.StatusFailed {
		t.Errorf("expected FAILED, got %s", outcome.Download.Status)
	}
}

func TestProcessExternalDownloadNotFound(t *testing.T) {
	uc := NewProcessExternalDownloadUseCase(NewMockDownloadRepository(), &MockObjectStore{}, 10*time.Second)

	result := uc.Execute(context.Background(), "missing")
	if result.IsSuccess() {
		t.Fatal("expected failure for unknown download")
	}
	if result.Error.Code != common.ErrCodeDownloadNotFound {
		t.Errorf("expected %s, got %s", common.ErrCodeDownloadNotFound, result.Error.Code)
	}
}

func TestMarkDownloadFailedIdempotent(t *testing.T) {
	repo := NewMockDownloadRepository()
	d, _ := download.NewExternalDownload("session-1", "https://example.com/f", "uploads", "key", 3)
	d.Start()
	repo.Insert(context.Background(), d)

	uc := NewMarkDownloadFailedUseCase(repo)

	first := uc.Execute(context.Background(), d.ID, "max receives exceeded")
	if first.IsFailure() {
		t.Fatalf("first mark failed: %v", first.Error)
	}
	if first.Value.Status != download.StatusFailed {
		t.Fatalf("expected FAILED, got %s", first.Value.Status)
	}

	second := uc.Execute(context.Background(), d.ID, "max receives exceeded")
	if second.IsFailure() {
		t.Fatalf("second mark failed must not error: %v", second.Error)
	}
	if second.Value.Status != download.StatusFailed {
		t.Errorf("expected FAILED to be stable, got %s", second.Value.Status)
	}
}

func TestMarkDownloadFailedUnknownIDSucceeds(t *testing.T) {
	uc := NewMarkDownloadFailedUseCase(NewMockDownloadRepository())

	result := uc.Execute(context.Background(), "missing", "dlq")
	if result.IsFailure() {
		t.Errorf("mark-failed for unknown id must succeed, got %v", result.Error)
	}
}

func TestMarkDownloadFailedLeavesCompletedAlone(t *testing.T) {
	repo := NewMockDownloadRepository()
	d, _ := download.NewExternalDownload("session-1", "https://example.com/f", "uploads", "key", 3)
	d.Start()
	d.Complete()
	repo.Insert(context.Background(), d)

	result := NewMarkDownloadFailedUseCase(repo).Execute(context.Background(), d.ID, "dlq")
	if result.IsFailure() {
		t.Fatalf("execute: %v", result.Error)
	}
	if result.Value.Status != download.StatusCompleted {
		t.Errorf("completed download must stay COMPLETED, got %s", result.Value.Status)
	}
}

func TestGetDownload(t *testing.T) {
	repo := NewMockDownloadRepository()
	d, _ := download.NewExternalDownload("session-1", "https://example.com/f", "uploads", "key", 3)
	repo.Insert(context.Background(), d)

	uc := NewGetDownloadUseCase(repo)

	found := uc.Execute(context.Background(), d.ID)
	if found.IsFailure() {
		t.Fatalf("get: %v", found.Error)
	}

	missing := uc.Execute(context.Background(), "missing")
	if missing.IsSuccess() {
		t.Fatal("expected not found")
	}
	if missing.Error.Code != common.ErrCodeDownloadNotFound {
		t.Errorf("expected %s, got %s", common.ErrCodeDownloadNotFound, missing.Error.Code)
	}
}
