package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEASED LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that another worker re-acquired is never released from under
// them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseLock is a TTL-leased mutual exclusion primitive over a shared Redis.
// It makes the reconciliation tick single-flight across a fleet of workers,
// not just within one process. Losing the Redis connection mid-lease simply
// lets the TTL expire; the lock never deadlocks.
type LeaseLock struct {
	client *Client
}

// NewLeaseLock creates a leased lock over the given client.
func NewLeaseLock(client *Client) *LeaseLock {
	return &LeaseLock{client: client}
}

// Acquire attempts to take the lease. On success it returns a release
// function and true; when another holder owns the key it returns false with
// no error. The release function is safe to call after the TTL expired.
func (l *LeaseLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.Raw().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client.Raw(), []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
