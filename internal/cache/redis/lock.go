package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and a
// token-checked unlock. The scheduler takes one lock per cycle so two
// processes never trade the same instrument at once.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return keyPrefix + "lock:" + key
}

// Acquire takes the lock for key. The returned unlock function may be
// called more than once. It returns domain.ErrLockHeld when another holder
// has the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be done.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
