package cache

import (
	"context"
	"time"
)

// Decision is the outcome of a rate-limit check
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds is the remaining wait rounded up to whole seconds
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

type marker struct {
	Timestamp int64 `json:"timestamp"`
}

// RateLimiter gates an operation with a single timestamp marker per key.
// It is advisory: two callers racing on the same instant may both pass.
type RateLimiter struct {
	cache *Cache
}

// NewRateLimiter creates a limiter storing its markers in c
func NewRateLimiter(c *Cache) *RateLimiter {
	return &RateLimiter{cache: c}
}

// CheckAndMark blocks when a marker younger than window exists. Otherwise it
// writes a fresh marker before reporting the call as allowed.
func (r *RateLimiter) CheckAndMark(ctx context.Context, key string, window time.Duration) Decision {
	now := r.cache.Now()

	if m, ok := Get[marker](ctx, r.cache, key); ok {
		elapsed := time.Duration(now.UnixMilli()-m.Timestamp) * time.Millisecond
		if elapsed < window {
			remaining := window - elapsed
			secs := (remaining + time.Second - 1) / time.Second
			return Decision{Allowed: false, RetryAfter: secs * time.Second}
		}
	}

	Set(ctx, r.cache, key, marker{Timestamp: now.UnixMilli()}, window)
	return Decision{Allowed: true}
}
