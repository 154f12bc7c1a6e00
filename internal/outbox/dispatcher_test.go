package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRepository implements Repository with overridable behavior
type MockRepository struct {
	mu      sync.Mutex
	records map[string]*Record

	claimPendingFunc func(ctx context.Context, limit int) ([]*Record, error)
	recoverStuckFunc func(ctx context.Context, olderThan time.Time) (int64, error)
}

func NewMockRepository() *MockRepository {
	return &MockRepository{records: make(map[string]*Record)}
}

func (m *MockRepository) Insert(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.IdempotencyKey != "" {
		for _, existing := range m.records {
			if existing.IdempotencyKey == record.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	m.records[record.ID] = record
	return nil
}

func (m *MockRepository) ClaimPending(ctx context.Context, limit int) ([]*Record, error) {
	if m.claimPendingFunc != nil {
		return m.claimPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []*Record
	for _, record := range m.records {
		if len(claimed) >= limit {
			break
		}
		if record.Status == StatusPending {
			record.Status = StatusProcessing
			claimed = append(claimed, record)
		}
	}
	return claimed, nil
}

func (m *MockRepository) MarkCompleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[id]; ok && record.Status == StatusProcessing {
		record.Status = StatusCompleted
	}
	return nil
}

func (m *MockRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[id]; ok && record.Status == StatusProcessing {
		record.Status = StatusFailed
		record.LastError = errorMessage
		record.RetryCount++
	}
	return nil
}

func (m *MockRepository) ResetForRetry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok || record.Status != StatusFailed {
		return errors.New("record is not in FAILED status")
	}
	record.Status = StatusPending
	return nil
}

func (m *MockRepository) RecoverStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.recoverStuckFunc != nil {
		return m.recoverStuckFunc(ctx, olderThan)
	}
	return 0, nil
}

func (m *MockRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id], nil
}

func (m *MockRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.IdempotencyKey == key {
			return record, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) CountPending(ctx context.Context) (map[EventType]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[EventType]int64)
	for _, record := range m.records {
		if record.Status == StatusPending {
			counts[record.EventType]++
		}
	}
	return counts, nil
}

func (m *MockRepository) statusOf(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

// MockSink records deliveries and can be told to fail
type MockSink struct {
	mu          sync.Mutex
	delivered   []*Record
	deliverFunc func(ctx context.Context, record *Record) error
}

func (m *MockSink) Deliver(ctx context.Context, record *Record) error {
	if m.deliverFunc != nil {
		if err := m.deliverFunc(ctx, record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, record)
	return nil
}

func (m *MockSink) deliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

func TestDispatcherDeliversAndCompletes(t *testing.T) {
	repo := NewMockRepository()
	queueSink := &MockSink{}
	httpSink := &MockSink{}

	record := NewRecord("session-1", EventTypeFileProcessing, `{"fileAssetId":"fa-1"}`)
	if err := repo.Insert(context.Background(), record); err != nil {
		t.Fatalf("insert: %v", err)
	}

	d := NewDispatcher(repo, queueSink, httpSink, &DispatcherConfig{
		Enabled:          true,
		PollInterval:     time.Hour,
		BatchSize:        10,
		StuckAfter:       time.Minute,
		RecoveryInterval: time.Hour,
	})
	d.pollOnce(context.Background())

	if queueSink.deliveredCount() != 1 {
		t.Fatalf("expected 1 queue delivery, got %d", queueSink.deliveredCount())
	}
	if httpSink.deliveredCount() != 0 {
		t.Fatalf("expected 0 http deliveries, got %d", httpSink.deliveredCount())
	}
	if status := repo.statusOf(record.ID); status != StatusCompleted {
		t.Errorf("expected record COMPLETED, got %s", status)
	}
}

func TestDispatcherRoutesHTTPEventTypes(t *testing.T) {
	repo := NewMockRepository()
	queueSink := &MockSink{}
	httpSink := &MockSink{}

	record := NewRecord("dl-1", EventTypeCallback, `{}`).WithTarget("https://tenant.example.com/hook")
	repo.Insert(context.Background(), record)

	d := NewDispatcher(repo, queueSink, httpSink, nil)
	d.pollOnce(context.Background())

	if httpSink.deliveredCount() != 1 {
		t.Fatalf("expected 1 http delivery, got %d", httpSink.deliveredCount())
	}
	if queueSink.deliveredCount() != 0 {
		t.Fatalf("expected 0 queue deliveries, got %d", queueSink.deliveredCount())
	}
}

func TestDispatcherMarksFailedOnDeliveryError(t *testing.T) {
	repo := NewMockRepository()
	queueSink := &MockSink{
		deliverFunc: func(ctx context.Context, record *Record) error {
			return errors.New("queue unavailable")
		},
	}

	record := NewRecord("session-1", EventTypeDownloadRequested, `{}`)
	repo.Insert(context.Background(), record)

	d := NewDispatcher(repo, queueSink, &MockSink{}, nil)
	d.pollOnce(context.Background())

	if status := repo.statusOf(record.ID); status != StatusFailed {
		t.Fatalf("expected record FAILED, got %s", status)
	}

	got, _ := repo.FindByID(context.Background(), record.ID)
	if got.RetryCount != 1 {
		t.Errorf("expected retryCount 1, got %d", got.RetryCount)
	}
	if got.LastError == "" {
		t.Error("expected lastError to be recorded")
	}

	// FAILED is terminal until an explicit retry: another poll must not
	// redeliver the record
	d.pollOnce(context.Background())
	if status := repo.statusOf(record.ID); status != StatusFailed {
		t.Errorf("expected record to stay FAILED, got %s", status)
	}
}

func TestDispatcherRedeliversAfterExplicitRetry(t *testing.T) {
	repo := NewMockRepository()
	failing := true
	queueSink := &MockSink{
		deliverFunc: func(ctx context.Context, record *Record) error {
			if failing {
				return errors.New("transient outage")
			}
			return nil
		},
	}

	record := NewRecord("session-1", EventTypeDownloadRequested, `{}`)
	repo.Insert(context.Background(), record)

	d := NewDispatcher(repo, queueSink, &MockSink{}, nil)
	d.pollOnce(context.Background())
	if status := repo.statusOf(record.ID); status != StatusFailed {
		t.Fatalf("expected record FAILED, got %s", status)
	}

	failing = false
	if err := repo.ResetForRetry(context.Background(), record.ID); err != nil {
		t.Fatalf("reset for retry: %v", err)
	}
	d.pollOnce(context.Background())

	if status := repo.statusOf(record.ID); status != StatusCompleted {
		t.Errorf("expected record COMPLETED after retry, got %s", status)
	}
}

func TestResetForRetryRequiresFailedStatus(t *testing.T) {
	repo := NewMockRepository()
	record := NewRecord("session-1", EventTypeFileProcessing, `{}`)
	repo.Insert(context.Background(), record)

	if err := repo.ResetForRetry(context.Background(), record.ID); err == nil {
		t.Error("expected error resetting a PENDING record")
	}
}

func TestDispatcherSkipsPollingWhenNotPrimary(t *testing.T) {
	claims := 0
	repo := NewMockRepository()
	repo.claimPendingFunc = func(ctx context.Context, limit int) ([]*Record, error) {
		claims++
		return nil, nil
	}

	d := NewDispatcher(repo, &MockSink{}, &MockSink{}, nil)
	d.isPrimary.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.runPoller(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()
	d.wg.Wait()

	if claims != 0 {
		t.Errorf("expected no claims while not primary, got %d", claims)
	}
}

func TestDispatcherRunsStartupRecovery(t *testing.T) {
	recovered := false
	repo := NewMockRepository()
	repo.recoverStuckFunc = func(ctx context.Context, olderThan time.Time) (int64, error) {
		recovered = true
		if time.Since(olderThan) < time.Minute {
			t.Errorf("expected olderThan at least StuckAfter in the past, got %s", olderThan)
		}
		return 2, nil
	}

	d := NewDispatcher(repo, &MockSink{}, &MockSink{}, &DispatcherConfig{
		Enabled:          true,
		PollInterval:     time.Hour,
		BatchSize:        10,
		StuckAfter:       5 * time.Minute,
		RecoveryInterval: time.Hour,
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if !recovered {
		t.Error("expected stuck recovery to run on startup")
	}
}

func TestInsertDuplicateIdempotencyKey(t *testing.T) {
	repo := NewMockRepository()
	first := NewRecord("session-1", EventTypeFileProcessing, `{}`).WithIdempotencyKey("session-1:completed")
	second := NewRecord("session-1", EventTypeFileProcessing, `{}`).WithIdempotencyKey("session-1:completed")

	if err := repo.Insert(context.Background(), first); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := repo.Insert(context.Background(), second)
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Errorf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
}
