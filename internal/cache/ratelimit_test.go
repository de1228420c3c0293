package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark(t *testing.T) {
	c, _, clock := newTestCache(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()
	window := 60 * time.Second

	first := rl.CheckAndMark(ctx, KeyRefreshLimit, window)
	assert.True(t, first.Allowed)

	clock.Advance(15*time.Second + 300*time.Millisecond)
	second := rl.CheckAndMark(ctx, KeyRefreshLimit, window)
	assert.False(t, second.Allowed)
	assert.Equal(t, 45*time.Second, second.RetryAfter)
	assert.Equal(t, 45, second.RetryAfterSeconds())
	assert.LessOrEqual(t, second.RetryAfter, window)

	clock.Advance(45 * time.Second)
	third := rl.CheckAndMark(ctx, KeyRefreshLimit, window)
	assert.True(t, third.Allowed)
}

func TestCheckAndMarkRoundsUp(t *testing.T) {
	c, _, clock := newTestCache(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	rl.CheckAndMark(ctx, "k", 60*time.Second)
	clock.Advance(59*time.Second + 999*time.Millisecond)

	d := rl.CheckAndMark(ctx, "k", 60*time.Second)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfterSeconds())
}

func TestBlockedCallDoesNotExtendWindow(t *testing.T) {
	c, _, clock := newTestCache(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	rl.CheckAndMark(ctx, "k", 10*time.Second)
	clock.Advance(5 * time.Second)
	assert.False(t, rl.CheckAndMark(ctx, "k", 10*time.Second).Allowed)

	clock.Advance(5 * time.Second)
	assert.True(t, rl.CheckAndMark(ctx, "k", 10*time.Second).Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	c, _, _ := newTestCache(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	assert.True(t, rl.CheckAndMark(ctx, "a", time.Minute).Allowed)
	assert.True(t, rl.CheckAndMark(ctx, "b", time.Minute).Allowed)
	assert.False(t, rl.CheckAndMark(ctx, "a", time.Minute).Allowed)
}
