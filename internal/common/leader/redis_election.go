package leader

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep refresh and release atomic: the lock is only touched
// while the stored value still matches our instance ID.
var (
	refreshScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
)

// RedisElectorConfig configures a RedisLeaderElector.
type RedisElectorConfig struct {
	// InstanceID uniquely identifies this instance. Defaults to hostname.
	InstanceID string

	// LockName is the Redis key contested, e.g. "fileflow:outbox:leader".
	LockName string

	// TTL is the lease duration.
	TTL time.Duration

	// RefreshInterval is how often the holder extends the lease.
	RefreshInterval time.Duration
}

// DefaultRedisElectorConfig returns a config with a 30s lease refreshed
// every 10s.
func DefaultRedisElectorConfig(lockName string) *RedisElectorConfig {
	instanceID, _ := os.Hostname()
	if instanceID == "" {
		instanceID = "instance-" + time.Now().Format("20060102150405")
	}
	return &RedisElectorConfig{
		InstanceID:      instanceID,
		LockName:        lockName,
		TTL:             30 * time.Second,
		RefreshInterval: 10 * time.Second,
	}
}

// RedisLeaderElector contests a Redis key via SET NX EX. The holder keeps
// extending the key's TTL; if it dies, the key expires and a standby takes
// over on its next tick.
type RedisLeaderElector struct {
	client  *redis.Client
	config  *RedisElectorConfig
	primary atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	onGain  func()
	onLose  func()
}

// NewRedisLeaderElector creates an elector over the given Redis client.
func NewRedisLeaderElector(client *redis.Client, config *RedisElectorConfig) *RedisLeaderElector {
	if config == nil {
		config = DefaultRedisElectorConfig("default-leader")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisLeaderElector{
		client: client,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnBecomeLeader registers a callback fired when this instance gains the lease.
func (e *RedisLeaderElector) OnBecomeLeader(fn func()) { e.onGain = fn }

// OnLoseLeadership registers a callback fired when the lease is lost.
func (e *RedisLeaderElector) OnLoseLeadership(fn func()) { e.onLose = fn }

// Start begins contesting the lease in the background.
func (e *RedisLeaderElector) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.loop()

	slog.Info("Redis leader election started",
		"instanceId", e.config.InstanceID,
		"lockName", e.config.LockName,
		"ttl", e.config.TTL)
	return nil
}

// Stop halts the loop and releases the lease if held.
func (e *RedisLeaderElector) Stop() {
	e.cancel()
	e.wg.Wait()

	if e.primary.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Release(ctx)
	}
	slog.Info("Redis leader election stopped", "instanceId", e.config.InstanceID)
}

// IsPrimary reports whether this instance currently holds the lease.
func (e *RedisLeaderElector) IsPrimary() bool { return e.primary.Load() }

// InstanceID returns this elector's identity.
func (e *RedisLeaderElector) InstanceID() string { return e.config.InstanceID }

func (e *RedisLeaderElector) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.RefreshInterval)
	defer ticker.Stop()

	e.contend()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.contend()
		}
	}
}

// contend refreshes the lease when held, otherwise tries to take it.
func (e *RedisLeaderElector) contend() {
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	held := e.primary.Load()
	if held {
		if e.refresh(ctx) {
			return
		}
		e.primary.Store(false)
		slog.Warn("Lost leadership",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
		if e.onLose != nil {
			e.onLose()
		}
	}

	if e.acquire(ctx) {
		e.primary.Store(true)
		if !held {
			slog.Info("Acquired leadership",
				"instanceId", e.config.InstanceID,
				"lockName", e.config.LockName)
			if e.onGain != nil {
				e.onGain()
			}
		}
	}
}

// acquire attempts SET NX EX, falling back to a refresh when the key turns
// out to be our own from before a restart.
func (e *RedisLeaderElector) acquire(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.config.LockName, e.config.InstanceID, e.config.TTL).Result()
	if err != nil {
		slog.Error("Failed to acquire Redis leader lease",
			"error", err, "lockName", e.config.LockName)
		return false
	}
	if ok {
		return true
	}

	owner, err := e.client.Get(ctx, e.config.LockName).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Error("Failed to check lease owner", "error", err)
		}
		return false
	}
	if owner == e.config.InstanceID {
		return e.refresh(ctx)
	}
	return false
}

// refresh extends the key's TTL if we still own it.
func (e *RedisLeaderElector) refresh(ctx context.Context) bool {
	ttlSeconds := int(e.config.TTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	n, err := refreshScript.Run(ctx, e.client,
		[]string{e.config.LockName}, e.config.InstanceID, ttlSeconds).Int()
	if err != nil {
		slog.Error("Failed to refresh Redis leader lease",
			"error", err, "lockName", e.config.LockName)
		return false
	}
	return n > 0
}

// Release deletes the key if we own it, so a standby takes over on its next
// tick instead of waiting out the TTL.
func (e *RedisLeaderElector) Release(ctx context.Context) {
	n, err := releaseScript.Run(ctx, e.client,
		[]string{e.config.LockName}, e.config.InstanceID).Int()
	if err != nil {
		slog.Error("Failed to release Redis leader lease",
			"error", err, "lockName", e.config.LockName)
		return
	}
	if n > 0 {
		slog.Info("Released Redis leader lease",
			"instanceId", e.config.InstanceID,
			"lockName", e.config.LockName)
	}
	e.primary.Store(false)
}

// GetCurrentLeader returns the instance holding the lease, or "" when the
// role is vacant.
func (e *RedisLeaderElector) GetCurrentLeader(ctx context.Context) (string, error) {
	owner, err := e.client.Get(ctx, e.config.LockName).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return owner, nil
}
