package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// RateLimiter is a sliding-window limiter shared by every process that
// talks to the same venue account. It backs the REST venue clients.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	limit         int
	window        time.Duration
}

// NewRateLimiter allows limit requests per window for each key.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		limit:         limit,
		window:        window,
	}
}

func rateLimitKey(key string) string {
	return keyPrefix + "ratelimit:" + key
}

// Allow reports whether a request for key fits in the window, counting it
// if so.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		time.Now().UnixMicro(),
		rl.window.Microseconds(),
		rl.limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until a request for key is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
