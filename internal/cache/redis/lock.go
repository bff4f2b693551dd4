package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crosstrade/internal/domain"
)

// releaseScript deletes KEYS[1] only while it still holds the caller's token,
// so a holder whose lease expired cannot release a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

// releaseTimeout bounds the release round trip; the caller's context is
// often already done when the deferred unlock runs.
const releaseTimeout = 5 * time.Second

// LockManager serialises order placement per intent across worker processes.
// Locks live at {prefix}:lock:{key} and hold a random token until released
// or until the lease expires.
type LockManager struct {
	c *Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes key for at most ttl and returns domain.ErrLockHeld when
// another holder has it. The returned unlock may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	name := lm.c.Key("lock", key)
	token := uuid.NewString()

	err := lm.c.rdb.SetArgs(ctx, name, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, domain.ErrLockHeld
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, lm.c.rdb, []string{name}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
