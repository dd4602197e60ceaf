package redis

import (
	"context"
	"fmt"
	"time"

	"bookbrief-billing/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// Counts a hit and arms the window on the first one. A counter that lost its
// TTL gets it back instead of blocking forever.
const rateLimitScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	res, err := r.client.Eval(ctx, rateLimitScript, []string{key}, window.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	count, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("rate limit %s: unexpected reply %T", key, res)
	}
	return count <= int64(limit), nil
}
