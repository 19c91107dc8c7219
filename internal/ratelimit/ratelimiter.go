package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is the length of the sliding window
const Window = time.Minute

// Limiter enforces a per-key request ceiling over a sliding window.
// remaining is -1 when no limit applies.
type Limiter interface {
	AllowWithDetails(ctx context.Context, id string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) AllowWithDetails(ctx context.Context, id string, limit int) (bool, int, time.Time, error) {
	return true, -1, time.Time{}, nil
}

// RateLimiter implements distributed rate limiting using Redis sorted sets
type RateLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client redis.UniversalClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func windowKey(id string) string {
	return fmt.Sprintf("ratelimit:%s", id)
}

// AllowWithDetails records one request for id and reports whether it fits in the window.
// Denied requests are not counted against the window.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, id string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		// No limit configured
		return true, -1, time.Time{}, nil
	}

	key := windowKey(id)
	now := rl.now()
	windowStart := now.Add(-Window)
	member := strconv.FormatInt(now.UnixMilli(), 10) + ":" + uuid.NewString()

	pipe := rl.client.TxPipeline()

	// Remove old entries outside the window
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))

	// Count current requests in window and find the oldest one
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)

	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})

	// Set expiry on the key (cleanup old keys)
	pipe.Expire(ctx, key, 2*Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	current := int(countCmd.Val())
	resetAt := now.Add(Window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(Window)
	}

	if current >= limit {
		if err := rl.client.ZRem(ctx, key, member).Err(); err != nil {
			return false, 0, resetAt, fmt.Errorf("rate limit rollback failed: %w", err)
		}
		return false, 0, resetAt, nil
	}

	return true, limit - current - 1, resetAt, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, id string) (int64, error) {
	key := windowKey(id)
	windowStart := rl.now().Add(-Window)

	// Remove old entries
	if err := rl.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10)).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	// Count current requests
	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}

	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	return rl.client.Del(ctx, windowKey(id)).Err()
}
