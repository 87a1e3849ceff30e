package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ops-gateway/internal/logging"
)

// Result carries the outcome of one rate-limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // seconds until the window resets
	Limit      int
}

// Limiter counts requests per client per window in Redis. All requests
// from the same client in the same window share one counter key, so
// every gateway replica enforces the same budget. Redis errors fail
// open: rate limiting protects the gateway, it must never take it down.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	logger *logging.Logger
}

// New creates a Limiter. A nil client disables limiting.
func New(rdb *redis.Client, limit int, window time.Duration, logger *logging.Logger) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, logger: logger}
}

// Allow checks and counts one request for the given client.
func (l *Limiter) Allow(ctx context.Context, clientID string) Result {
	if l.rdb == nil {
		return Result{Allowed: true, Remaining: l.limit, Limit: l.limit}
	}

	now := time.Now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("rl:%s:%d", clientID, windowStart.Unix())

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warnf("Rate limit check failed, allowing request: %v", err)
		return Result{Allowed: true, Remaining: l.limit, Limit: l.limit}
	}
	if count == 1 {
		// Expire a window past its end so straggler reads still resolve.
		l.rdb.Expire(ctx, key, 2*l.window)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := int(windowStart.Add(l.window).Sub(now).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}

	return Result{
		Allowed:    count <= int64(l.limit),
		Remaining:  remaining,
		RetryAfter: retryAfter,
		Limit:      l.limit,
	}
}
