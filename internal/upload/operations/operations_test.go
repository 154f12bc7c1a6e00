package operations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"go.fileflow.dev/internal/common/repository"
	"go.fileflow.dev/internal/core/common"
	"go.fileflow.dev/internal/outbox"
	"go.fileflow.dev/internal/storage"
	"go.fileflow.dev/internal/upload"
)

// MockSessionRepository is an in-memory SessionRepository with the same
// versioned-update semantics as the Mongo implementation.
type MockSessionRepository struct {
	sessions        map[string]*upload.UploadSession
	findByIDFunc    func(ctx context.Context, id string) (*upload.UploadSession, error)
	findExpiredFunc func(ctx context.Context, limit int) ([]*upload.UploadSession, error)
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{sessions: make(map[string]*upload.UploadSession)}
}

func (m *MockSessionRepository) Insert(ctx context.Context, s *upload.UploadSession) error {
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *MockSessionRepository) Update(ctx context.Context, s *upload.UploadSession) error {
	stored, ok := m.sessions[s.ID]
	if !ok || stored.Version != s.Version {
		return fmt.Errorf("update upload session %s: %w", s.ID, repository.ErrOptimisticLock)
	}
	s.Version++
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *MockSessionRepository) FindByID(ctx context.Context, id string) (*upload.UploadSession, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *MockSessionRepository) FindByTenant(ctx context.Context, tenantID string, limit int) ([]*upload.UploadSession, error) {
	var out []*upload.UploadSession
	for _, s := range m.sessions {
		if s.TenantID == tenantID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockSessionRepository) FindExpired(ctx context.Context, limit int) ([]*upload.UploadSession, error) {
	if m.findExpiredFunc != nil {
		return m.findExpiredFunc(ctx, limit)
	}
	var out []*upload.UploadSession
	for _, s := range m.sessions {
		if !s.Status.IsTerminal() && s.IsExpired() {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockSessionRepository) statusOf(id string) upload.SessionStatus {
	return m.sessions[id].Status
}

// MockMultipartRepository is an in-memory MultipartRepository keyed by
// session id, with versioned updates and guarded part appends mirroring the
// Mongo implementation.
type MockMultipartRepository struct {
	trackers            map[string]*upload.MultipartUpload
	findBySessionIDFunc func(ctx context.Context, sessionID string) (*upload.MultipartUpload, error)
}

func NewMockMultipartRepository() *MockMultipartRepository {
	return &MockMultipartRepository{trackers: make(map[string]*upload.MultipartUpload)}
}

func (m *MockMultipartRepository) Insert(ctx context.Context, t *upload.MultipartUpload) error {
	copied := *t
	m.trackers[t.SessionID] = &copied
	return nil
}

func (m *MockMultipartRepository) Update(ctx context.Context, t *upload.MultipartUpload) error {
	stored, ok := m.trackers[t.SessionID]
	if !ok || stored.Version != t.Version {
		return fmt.Errorf("update multipart upload %s: %w", t.ID, repository.ErrOptimisticLock)
	}
	t.Version++
	copied := *t
	m.trackers[t.SessionID] = &copied
	return nil
}

func (m *MockMultipartRepository) RecordPart(ctx context.Context, trackerID string, part upload.UploadPart) error {
	for _, t := range m.trackers {
		if t.ID != trackerID {
			continue
		}
		if t.Status != upload.MultipartStatusInProgress || t.HasPart(part.PartNumber) {
			return fmt.Errorf("record part %d on %s: %w", part.PartNumber, trackerID, repository.ErrOptimisticLock)
		}
		t.Parts = append(t.Parts, part)
		t.Version++
		t.UpdatedAt = part.UploadedAt
		return nil
	}
	return fmt.Errorf("record part %d on %s: %w", part.PartNumber, trackerID, repository.ErrOptimisticLock)
}

func (m *MockMultipartRepository) FindBySessionID(ctx context.Context, sessionID string) (*upload.MultipartUpload, error) {
	if m.findBySessionIDFunc != nil {
		return m.findBySessionIDFunc(ctx, sessionID)
	}
	t, ok := m.trackers[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

// MockObjectStore records provider calls.
type MockObjectStore struct {
	createdUploads int
	abortedUploads []string
	completedKeys  []string
	headObjectFunc func(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error)
}

func (m *MockObjectStore) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{
		URL:       "https://example.test/" + bucket + "/" + key,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (m *MockObjectStore) HeadObject(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	if m.headObjectFunc != nil {
		return m.headObjectFunc(ctx, bucket, key)
	}
	return &storage.ObjectInfo{Size: 1024, ETag: "etag"}, nil
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (*storage.ObjectInfo, error) {
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return nil, err
	}
	return &storage.ObjectInfo{Size: n}, nil
}

func (m *MockObjectStore) CreateMultipart(ctx context.Context, bucket, key, contentType string) (string, error) {
	m.createdUploads++
	return "provider-upload-1", nil
}

func (m *MockObjectStore) PresignPartURLs(ctx context.Context, bucket, key, uploadID string, totalParts int, ttl time.Duration) ([]storage.PartURL, error) {
	urls := make([]storage.PartURL, 0, totalParts)
	for n := 1; n <= totalParts; n++ {
		urls = append(urls, storage.PartURL{PartNumber: n, URL: "https://example.test/part"})
	}
	return urls, nil
}

func (m *MockObjectStore) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (*storage.ObjectInfo, error) {
	m.completedKeys = append(m.completedKeys, key)
	return &storage.ObjectInfo{Size: 2048, ETag: "final-etag"}, nil
}

func (m *MockObjectStore) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	m.abortedUploads = append(m.abortedUploads, uploadID)
	return nil
}

// MockOutboxRepository captures inserted records and enforces idempotency
// keys the way the unique index does.
type MockOutboxRepository struct {
	records []*outbox.Record
}

func (m *MockOutboxRepository) Insert(ctx context.Context, record *outbox.Record) error {
	if record.IdempotencyKey != "" {
		for _, existing := range m.records {
			if existing.IdempotencyKey == record.IdempotencyKey {
				return outbox.ErrDuplicateIdempotencyKey
			}
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
	for _, record := range m.records {
		if record.IdempotencyKey == key {
			return record, nil
		}
	}
	return nil, nil
}

func (m *MockOutboxRepository) CountPending(ctx context.Context) (map[outbox.EventType]int64, error) {
	return nil, nil
}

// passthroughTransactor runs the function without a real transaction.
type passthroughTransactor struct{}

func (passthroughTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testConfig() Config {
	return DefaultConfig("uploads")
}

func createSession(t *testing.T, sessions *MockSessionRepository, multipart *MockMultipartRepository, store *MockObjectStore, uploadType upload.UploadType) *upload.UploadSession {
	t.Helper()
	uc := NewCreateUploadSessionUseCase(sessions, multipart, store, testConfig())
	result := uc.Execute(context.Background(), CreateUploadSessionCommand{
		TenantID:   "tenant-1",
		FileName:   "photo.jpg",
		FileSize:   2048,
		UploadType: uploadType,
	})
	if !result.IsSuccess() {
		t.Fatalf("create session failed: %v", result.Error)
	}
	return result.Value.Session
}

func TestCreateSingleSessionIssuesPresignedURL(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}

	uc := NewCreateUploadSessionUseCase(sessions, multipart, store, testConfig())
	result := uc.Execute(context.Background(), CreateUploadSessionCommand{
		TenantID: "tenant-1",
		FileName: "photo.jpg",
		FileSize: 2048,
	})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value.UploadURL == "" {
		t.Error("expected a presigned upload URL")
	}
	if result.Value.Session.Status != upload.SessionStatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", result.Value.Session.Status)
	}
	if !strings.Contains(result.Value.Session.StorageKey, result.Value.Session.ID) {
		t.Errorf("storage key %q should embed the session id", result.Value.Session.StorageKey)
	}
	if _, ok := sessions.sessions[result.Value.Session.ID]; !ok {
		t.Error("session was not persisted")
	}
}

func TestCreateMultipartSessionCreatesTracker(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}

	uc := NewCreateUploadSessionUseCase(sessions, multipart, store, testConfig())
	result := uc.Execute(context.Background(), CreateUploadSessionCommand{
		TenantID:   "tenant-1",
		FileName:   "video.mp4",
		FileSize:   1 << 30,
		UploadType: upload.UploadTypeMultipart,
	})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value.Session.Status != upload.SessionStatusPending {
		t.Errorf("multipart session should stay PENDING until initiated, got %s", result.Value.Session.Status)
	}
	if result.Value.UploadURL != "" {
		t.Error("multipart session should not get a single-part URL")
	}
	tracker := multipart.trackers[result.Value.Session.ID]
	if tracker == nil {
		t.Fatal("expected an INIT tracker")
	}
	if tracker.Status != upload.MultipartStatusInit {
		t.Errorf("expected INIT, got %s", tracker.Status)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	uc := NewCreateUploadSessionUseCase(NewMockSessionRepository(), NewMockMultipartRepository(), &MockObjectStore{}, testConfig())

	tests := []struct {
		name string
		cmd  CreateUploadSessionCommand
		code string
	}{
		{"missing tenant", CreateUploadSessionCommand{FileName: "a.txt", FileSize: 1}, common.ErrCodeRequired},
		{"missing file name", CreateUploadSessionCommand{TenantID: "t", FileSize: 1}, common.ErrCodeRequired},
		{"zero size", CreateUploadSessionCommand{TenantID: "t", FileName: "a.txt"}, common.ErrCodeInvalidValue},
		{"unknown type", CreateUploadSessionCommand{TenantID: "t", FileName: "a.txt", FileSize: 1, UploadType: "STREAMING"}, common.ErrCodeInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := uc.Execute(context.Background(), tt.cmd)
			if result.IsSuccess() {
				t.Fatal("expected failure")
			}
			if result.Error.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, result.Error.Code)
			}
		})
	}
}

func TestInitiateMultipartHappyPath(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	uc := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	result := uc.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 3})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value.UploadID != "provider-upload-1" {
		t.Errorf("unexpected provider upload id %q", result.Value.UploadID)
	}
	if len(result.Value.PartURLs) != 3 {
		t.Errorf("expected 3 part URLs, got %d", len(result.Value.PartURLs))
	}
	if sessions.statusOf(session.ID) != upload.SessionStatusInProgress {
		t.Errorf("session should be IN_PROGRESS, got %s", sessions.statusOf(session.ID))
	}
	tracker := multipart.trackers[session.ID]
	if tracker.Status != upload.MultipartStatusInProgress || tracker.TotalParts != 3 {
		t.Errorf("tracker should be IN_PROGRESS with 3 parts, got %s/%d", tracker.Status, tracker.TotalParts)
	}
}

func TestInitiateMultipartRejectsSingleSession(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeSingle)
	// A stray tracker must not make a single session initiable
	_ = multipart.Insert(context.Background(), upload.NewMultipartUpload(session.ID))

	uc := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	result := uc.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2})

	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Error.Code != common.ErrCodeInvalidState {
		t.Errorf("expected INVALID_STATE, got %s", result.Error.Code)
	}
}

func TestMarkPartUploaded(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	initiate := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	if r := initiate.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2}); !r.IsSuccess() {
		t.Fatalf("initiate failed: %v", r.Error)
	}

	uc := NewMarkPartUploadedUseCase(sessions, multipart)

	result := uc.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: 1, ETag: "e1", Size: 100})
	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if len(result.Value.Parts) != 1 {
		t.Errorf("expected 1 recorded part, got %d", len(result.Value.Parts))
	}

	dup := uc.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: 1, ETag: "e1", Size: 100})
	if dup.IsSuccess() {
		t.Fatal("expected duplicate part to fail")
	}
	if dup.Error.Code != common.ErrCodeDuplicatePart {
		t.Errorf("expected DUPLICATE_PART, got %s", dup.Error.Code)
	}

	outOfRange := uc.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: 5, ETag: "e5", Size: 100})
	if outOfRange.IsSuccess() {
		t.Fatal("expected out-of-range part to fail")
	}
	if outOfRange.Error.Code != common.ErrCodeInvalidValue {
		t.Errorf("expected INVALID_VALUE, got %s", outOfRange.Error.Code)
	}
}

func TestMarkPartUploadedParallelReadsKeepBothParts(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	initiate := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	if r := initiate.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2}); !r.IsSuccess() {
		t.Fatalf("initiate failed: %v", r.Error)
	}

	// Parts go up in parallel through presigned URLs, so both callers read
	// the tracker before either write lands
	stale := *multipart.trackers[session.ID]
	multipart.findBySessionIDFunc = func(ctx context.Context, sessionID string) (*upload.MultipartUpload, error) {
		copied := stale
		copied.Parts = append([]upload.UploadPart{}, stale.Parts...)
		return &copied, nil
	}

	uc := NewMarkPartUploadedUseCase(sessions, multipart)
	for n := 1; n <= 2; n++ {
		if r := uc.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: n, ETag: fmt.Sprintf("e%d", n), Size: 100}); !r.IsSuccess() {
			t.Fatalf("mark part %d failed: %v", n, r.Error)
		}
	}
	multipart.findBySessionIDFunc = nil

	tracker := multipart.trackers[session.ID]
	if len(tracker.Parts) != 2 || !tracker.HasPart(1) || !tracker.HasPart(2) {
		t.Fatalf("expected both parts persisted, got %v", tracker.Parts)
	}
	if !tracker.CanComplete() {
		t.Error("fully uploaded tracker must be completable")
	}
}

func TestMarkPartUploadedParallelDuplicateNotDoubled(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	initiate := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	if r := initiate.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2}); !r.IsSuccess() {
		t.Fatalf("initiate failed: %v", r.Error)
	}

	// Two retries of the same part race; both read before either writes
	stale := *multipart.trackers[session.ID]
	multipart.findBySessionIDFunc = func(ctx context.Context, sessionID string) (*upload.MultipartUpload, error) {
		copied := stale
		copied.Parts = append([]upload.UploadPart{}, stale.Parts...)
		return &copied, nil
	}

	uc := NewMarkPartUploadedUseCase(sessions, multipart)
	first := uc.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: 1, ETag: "winner", Size: 100})
	if !first.IsSuccess() {
		t.Fatalf("first mark failed: %v", first.Error)
	}
	second := uc.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: 1, ETag: "loser", Size: 100})
	if second.IsSuccess() {
		t.Fatal("racing duplicate must not report success")
	}
	multipart.findBySessionIDFunc = nil

	tracker := multipart.trackers[session.ID]
	if len(tracker.Parts) != 1 || tracker.Parts[0].ETag != "winner" {
		t.Fatalf("expected exactly the first writer's part, got %v", tracker.Parts)
	}
}

func TestCompleteMultipartEmitsProcessingEvent(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	outboxRepo := &MockOutboxRepository{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	initiate := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	if r := initiate.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2}); !r.IsSuccess() {
		t.Fatalf("initiate failed: %v", r.Error)
	}
	mark := NewMarkPartUploadedUseCase(sessions, multipart)
	for n := 1; n <= 2; n++ {
		if r := mark.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: n, ETag: "e", Size: 100}); !r.IsSuccess() {
			t.Fatalf("mark part %d failed: %v", n, r.Error)
		}
	}

	uc := NewCompleteMultipartUseCase(sessions, multipart, outboxRepo, store, passthroughTransactor{})
	result := uc.Execute(context.Background(), CompleteMultipartCommand{SessionID: session.ID})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value.Status != upload.SessionStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", result.Value.Status)
	}
	if multipart.trackers[session.ID].Status != upload.MultipartStatusCompleted {
		t.Errorf("tracker should be COMPLETED, got %s", multipart.trackers[session.ID].Status)
	}
	if len(store.completedKeys) != 1 {
		t.Fatalf("expected 1 provider complete call, got %d", len(store.completedKeys))
	}
	if len(outboxRepo.records) != 1 {
		t.Fatalf("expected 1 outbox record, got %d", len(outboxRepo.records))
	}
	record := outboxRepo.records[0]
	if record.EventType != outbox.EventTypeFileProcessing {
		t.Errorf("expected FILE_PROCESSING, got %s", record.EventType)
	}
	if record.AggregateID != session.ID {
		t.Errorf("record aggregate %s should be the session id %s", record.AggregateID, session.ID)
	}
	if record.IdempotencyKey != "file-processing:"+session.ID {
		t.Errorf("unexpected idempotency key %q", record.IdempotencyKey)
	}
}

func TestCompleteMultipartRejectsMissingParts(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	initiate := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	if r := initiate.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2}); !r.IsSuccess() {
		t.Fatalf("initiate failed: %v", r.Error)
	}
	mark := NewMarkPartUploadedUseCase(sessions, multipart)
	if r := mark.Execute(context.Background(), MarkPartUploadedCommand{SessionID: session.ID, PartNumber: 1, ETag: "e", Size: 100}); !r.IsSuccess() {
		t.Fatalf("mark part failed: %v", r.Error)
	}

	uc := NewCompleteMultipartUseCase(sessions, multipart, &MockOutboxRepository{}, store, passthroughTransactor{})
	result := uc.Execute(context.Background(), CompleteMultipartCommand{SessionID: session.ID})

	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Error.Code != common.ErrCodeIncompleteUpload {
		t.Errorf("expected INCOMPLETE_UPLOAD, got %s", result.Error.Code)
	}
	if !strings.Contains(result.Error.Message, "1/2") {
		t.Errorf("message should carry uploaded/expected counts, got %q", result.Error.Message)
	}
	if len(store.completedKeys) != 0 {
		t.Error("provider complete must not run for an incomplete upload")
	}
}

func TestCompleteSingleVerifiesObject(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	outboxRepo := &MockOutboxRepository{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeSingle)

	uc := NewCompleteSingleUploadUseCase(sessions, outboxRepo, store, passthroughTransactor{})
	result := uc.Execute(context.Background(), CompleteSingleUploadCommand{SessionID: session.ID})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value.Status != upload.SessionStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", result.Value.Status)
	}
	if len(outboxRepo.records) != 1 {
		t.Fatalf("expected 1 outbox record, got %d", len(outboxRepo.records))
	}
}

func TestCompleteSingleRejectsMissingObject(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{
		headObjectFunc: func(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
			return nil, nil
		},
	}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeSingle)

	uc := NewCompleteSingleUploadUseCase(sessions, &MockOutboxRepository{}, store, passthroughTransactor{})
	result := uc.Execute(context.Background(), CompleteSingleUploadCommand{SessionID: session.ID})

	if result.IsSuccess() {
		t.Fatal("expected failure when the object never landed")
	}
	if sessions.statusOf(session.ID) != upload.SessionStatusInProgress {
		t.Errorf("session must stay IN_PROGRESS, got %s", sessions.statusOf(session.ID))
	}
}

func TestAbortSessionAbortsProviderUpload(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	initiate := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	if r := initiate.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2}); !r.IsSuccess() {
		t.Fatalf("initiate failed: %v", r.Error)
	}

	uc := NewAbortSessionUseCase(sessions, multipart, store, nil)
	result := uc.Execute(context.Background(), AbortSessionCommand{SessionID: session.ID})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value.Status != upload.SessionStatusFailed {
		t.Errorf("expected FAILED, got %s", result.Value.Status)
	}
	if multipart.trackers[session.ID].Status != upload.MultipartStatusAborted {
		t.Errorf("tracker should be ABORTED, got %s", multipart.trackers[session.ID].Status)
	}
	if len(store.abortedUploads) != 1 || store.abortedUploads[0] != "provider-upload-1" {
		t.Errorf("expected provider abort for provider-upload-1, got %v", store.abortedUploads)
	}
}

func TestAbortCompletedSessionRejected(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeSingle)

	complete := NewCompleteSingleUploadUseCase(sessions, &MockOutboxRepository{}, store, passthroughTransactor{})
	if r := complete.Execute(context.Background(), CompleteSingleUploadCommand{SessionID: session.ID}); !r.IsSuccess() {
		t.Fatalf("complete failed: %v", r.Error)
	}

	uc := NewAbortSessionUseCase(sessions, multipart, store, nil)
	result := uc.Execute(context.Background(), AbortSessionCommand{SessionID: session.ID})

	if result.IsSuccess() {
		t.Fatal("expected failure aborting a completed session")
	}
	if result.Error.Kind != common.ErrorKindStateViolation {
		t.Errorf("expected state violation, got %s", result.Error.Kind)
	}
}

func TestGetSessionReturnsTracker(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	uc := NewGetSessionUseCase(sessions, multipart)
	result := uc.Execute(context.Background(), GetSessionQuery{SessionID: session.ID})

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value.Session.ID != session.ID {
		t.Errorf("unexpected session %s", result.Value.Session.ID)
	}
	if result.Value.Multipart == nil {
		t.Error("expected the multipart tracker on the detail")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	uc := NewGetSessionUseCase(NewMockSessionRepository(), NewMockMultipartRepository())
	result := uc.Execute(context.Background(), GetSessionQuery{SessionID: "missing"})

	if result.IsSuccess() {
		t.Fatal("expected failure")
	}
	if result.Error.Code != common.ErrCodeSessionNotFound {
		t.Errorf("expected SESSION_NOT_FOUND, got %s", result.Error.Code)
	}
}

func TestExpireStaleSessions(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeMultipart)

	initiate := NewInitiateMultipartUseCase(sessions, multipart, store, testConfig())
	if r := initiate.Execute(context.Background(), InitiateMultipartCommand{SessionID: session.ID, TotalParts: 2}); !r.IsSuccess() {
		t.Fatalf("initiate failed: %v", r.Error)
	}
	// Push the deadline into the past
	stored := sessions.sessions[session.ID]
	stored.ExpiresAt = time.Now().Add(-time.Hour)

	uc := NewExpireStaleSessionsUseCase(sessions, multipart, store, nil)
	result := uc.Execute(context.Background())

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value != 1 {
		t.Fatalf("expected 1 expired session, got %d", result.Value)
	}
	if sessions.statusOf(session.ID) != upload.SessionStatusExpired {
		t.Errorf("expected EXPIRED, got %s", sessions.statusOf(session.ID))
	}
	if multipart.trackers[session.ID].Status != upload.MultipartStatusAborted {
		t.Errorf("tracker should be ABORTED, got %s", multipart.trackers[session.ID].Status)
	}
	if len(store.abortedUploads) != 1 {
		t.Errorf("expected 1 provider abort, got %d", len(store.abortedUploads))
	}
}

func TestExpireStaleSessionsSkipsConcurrentlyCompleted(t *testing.T) {
	sessions := NewMockSessionRepository()
	multipart := NewMockMultipartRepository()
	store := &MockObjectStore{}
	session := createSession(t, sessions, multipart, store, upload.UploadTypeSingle)

	// The sweep scans the session while it looks expired and IN_PROGRESS...
	stored := sessions.sessions[session.ID]
	stale := *stored
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	sessions.findExpiredFunc = func(ctx context.Context, limit int) ([]*upload.UploadSession, error) {
		copied := stale
		return []*upload.UploadSession{&copied}, nil
	}
	// ...but a completion lands before the sweep writes
	stored.Status = upload.SessionStatusCompleted
	stored.Version++

	uc := NewExpireStaleSessionsUseCase(sessions, multipart, store, nil)
	result := uc.Execute(context.Background())

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %v", result.Error)
	}
	if result.Value != 0 {
		t.Errorf("sweep must not count the skipped session, got %d", result.Value)
	}
	if sessions.statusOf(session.ID) != upload.SessionStatusCompleted {
		t.Errorf("session must stay COMPLETED, got %s", sessions.statusOf(session.ID))
	}
}

func TestSessionUpdateRejectsStaleVersion(t *testing.T) {
	sessions := NewMockSessionRepository()
	session := upload.NewUploadSession("tenant-1", "a.txt", 10, "", upload.UploadTypeSingle, "uploads", "k", time.Hour)
	if err := sessions.Insert(context.Background(), session); err != nil {
		t.Fatal(err)
	}

	fresh, _ := sessions.FindByID(context.Background(), session.ID)
	staleCopy, _ := sessions.FindByID(context.Background(), session.ID)

	fresh.Start()
	if err := sessions.Update(context.Background(), fresh); err != nil {
		t.Fatalf("first update: %v", err)
	}

	staleCopy.Fail()
	err := sessions.Update(context.Background(), staleCopy)
	if !errors.Is(err, repository.ErrOptimisticLock) {
		t.Fatalf("stale update must fail with the optimistic-lock error, got %v", err)
	}
	if sessions.statusOf(session.ID) != upload.SessionStatusInProgress {
		t.Errorf("stale write must not land, got %s", sessions.statusOf(session.ID))
	}
}
