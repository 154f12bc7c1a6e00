package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go.fileflow.dev/internal/common/metrics"
)

// releaseScript deletes the key only while this acquisition still owns it.
// An expired lease may have been re-acquired by another worker; deleting
// their lock would break mutual exclusion.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCoordinator implements Coordinator on a shared Redis using the
// SET NX EX pattern:
//
//	SET key token NX PX leaseMillis
//
// The token is unique per acquisition so release cannot remove a lease
// granted to a later holder after expiry.
type RedisCoordinator struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCoordinator creates a Redis-backed lock coordinator. keyPrefix
// namespaces lock keys within the Redis keyspace (e.g. "fileflow:lock:").
func NewRedisCoordinator(client *redis.Client, keyPrefix string) *RedisCoordinator {
	if keyPrefix == "" {
		keyPrefix = "fileflow:lock:"
	}
	return &RedisCoordinator{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// TryLock attempts a non-blocking acquisition with the given lease.
func (c *RedisCoordinator) TryLock(ctx context.Context, key string, lease time.Duration) (Lock, bool, error) {
	token := uuid.NewString()

	acquired, err := c.client.SetNX(ctx, c.keyPrefix+key, token, lease).Result()
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return nil, false, err
	}
	if !acquired {
		metrics.LockAcquisitions.WithLabelValues("contended").Inc()
		return nil, false, nil
	}

	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	return &redisLock{
		client: c.client,
		key:    c.keyPrefix + key,
		token:  token,
	}, true, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Unlock(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
