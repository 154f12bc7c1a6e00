package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryCoordinatorMutualExclusion(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	l1, ok, err := coord.TryLock(ctx, "task-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquisition failed: ok=%v err=%v", ok, err)
	}

	_, ok, err = coord.TryLock(ctx, "task-1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("second acquisition on held key must fail")
	}

	// Unrelated key is unaffected
	l2, ok, _ := coord.TryLock(ctx, "task-2", time.Minute)
	if !ok {
		t.Fatal("unrelated key should be acquirable")
	}
	l2.Unlock(ctx)

	if err := l1.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	_, ok, _ = coord.TryLock(ctx, "task-1", time.Minute)
	if !ok {
		t.Fatal("key should be acquirable after release")
	}
}

func TestMemoryCoordinatorLeaseExpiry(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	_, ok, _ := coord.TryLock(ctx, "task-1", 10*time.Millisecond)
	if !ok {
		t.Fatal("acquisition failed")
	}

	time.Sleep(20 * time.Millisecond)

	// Expired lease is reclaimable without an explicit unlock
	_, ok, _ = coord.TryLock(ctx, "task-1", time.Minute)
	if !ok {
		t.Fatal("expired lease should be reclaimable")
	}
}

func TestMemoryCoordinatorConcurrentSingleWinner(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	const workers = 32
	var winners atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := coord.TryLock(ctx, "contended", time.Minute)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Errorf("expected exactly one winner, got %d", got)
	}
}

func TestMemoryLockUnlockIdempotent(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	l, ok, _ := coord.TryLock(ctx, "task-1", time.Minute)
	if !ok {
		t.Fatal("acquisition failed")
	}
	if err := l.Unlock(ctx); err != nil {
		t.Fatalf("first unlock failed: %v", err)
	}

	// A second unlock must not release a lease granted to a new holder
	l2, ok, _ := coord.TryLock(ctx, "task-1", time.Minute)
	if !ok {
		t.Fatal("reacquisition failed")
	}
	if err := l.Unlock(ctx); err != nil {
		t.Fatalf("repeated unlock failed: %v", err)
	}

	_, ok, _ = coord.TryLock(ctx, "task-1", time.Minute)
	if ok {
		t.Fatal("stale unlock must not release the new holder's lease")
	}
	l2.Unlock(ctx)
}
