// Package lock provides a try-lock-with-lease primitive used to serialize
// processing of one logical task across competing workers.
//
// Acquisition is always a zero-wait try: a busy key is a skip for the
// caller, never a queue. The lease bounds how long a crashed holder can
// wedge a key; it must exceed the worst-case processing time with margin.
package lock

import (
	"context"
	"sync"
	"time"
)

// Lock is a held lease. Unlock releases it early; otherwise the lease
// expires on its own.
type Lock interface {
	// Unlock releases the lease. Releasing an already-expired lease is a
	// no-op, not an error.
	Unlock(ctx context.Context) error
}

// Coordinator acquires leases keyed by an arbitrary string.
type Coordinator interface {
	// TryLock attempts to acquire the key without waiting. It returns the
	// held lock and true on acquisition, or nil and false when another
	// holder owns the key.
	TryLock(ctx context.Context, key string, lease time.Duration) (Lock, bool, error)
}

// MemoryCoordinator is an in-process Coordinator for tests and single-node
// development mode.
type MemoryCoordinator struct {
	mu    sync.Mutex
	holds map[string]time.Time
}

// NewMemoryCoordinator creates an in-process lock coordinator.
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{holds: make(map[string]time.Time)}
}

// TryLock acquires the key unless a live lease exists. Expired leases are
// reclaimed on the next attempt.
func (c *MemoryCoordinator) TryLock(ctx context.Context, key string, lease time.Duration) (Lock, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, held := c.holds[key]; held && time.Now().Before(expiry) {
		return nil, false, nil
	}

	c.holds[key] = time.Now().Add(lease)
	return &memoryLock{coordinator: c, key: key}, true, nil
}

type memoryLock struct {
	coordinator *MemoryCoordinator
	key         string
	once        sync.Once
}

func (l *memoryLock) Unlock(ctx context.Context) error {
	l.once.Do(func() {
		l.coordinator.mu.Lock()
		delete(l.coordinator.holds, l.key)
		l.coordinator.mu.Unlock()
	})
	return nil
}
