package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Well-known keys
const (
	KeyPlayers         = "players"
	KeyStats           = "stats"
	KeyPlayersLastGood = "players:last_good"
	KeyStatsLastGood   = "stats:last_good"
	KeyHelloAssoToken  = "helloasso_token"
	KeyRefreshLimit    = "refresh_rate_limit"
	KeyOverrides       = "overrides"
)

// FFTTPlayerKey is the per-license enrichment cache key
func FFTTPlayerKey(license string) string {
	return "fftt:player:" + license
}

// Envelope entries are also given a backend expiry of expiryFactor times
// their TTL, never less than minExpiry, so abandoned keys do not linger.
const (
	expiryFactor = 2
	minExpiry    = time.Minute
)

func backstop(ttl time.Duration) time.Duration {
	if d := ttl * expiryFactor; d > minExpiry {
		return d
	}
	return minExpiry
}

// Status reports the outcome of a best-effort write
type Status int

const (
	StatusOK Status = iota
	StatusFailed
)

func (s Status) OK() bool { return s == StatusOK }

// entry is the stored envelope; timestamp is unix milliseconds, ttl is seconds
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

// Cache wraps values with a write timestamp and TTL. Every failure is
// logged and swallowed: callers see a miss or a failed Status, never an error.
type Cache struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over the given store
func New(store Store, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the cache's notion of the current time
func (c *Cache) Now() time.Time {
	return c.now()
}

// Store exposes the underlying key-value store
func (c *Cache) Store() Store {
	return c.store
}

// Get returns the value under key when it is present and fresh. An expired
// entry is deleted before reporting a miss.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return zero, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Error("cache entry decode failed", "key", key, "error", err)
		return zero, false
	}

	if c.now().UnixMilli()-e.Timestamp > e.TTL*1000 {
		c.Delete(ctx, key)
		return zero, false
	}

	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		c.logger.Error("cache value decode failed", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// Set stores value under key for ttl, truncated to whole seconds
func Set[T any](ctx context.Context, c *Cache, key string, value T, ttl time.Duration) Status {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache value encode failed", "key", key, "error", err)
		return StatusFailed
	}

	ttl = ttl.Truncate(time.Second)
	raw, err := json.Marshal(entry{
		Data:      data,
		Timestamp: c.now().UnixMilli(),
		TTL:       int64(ttl / time.Second),
	})
	if err != nil {
		c.logger.Error("cache entry encode failed", "key", key, "error", err)
		return StatusFailed
	}

	if err := c.store.Set(ctx, key, raw, backstop(ttl)); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
		return StatusFailed
	}
	return StatusOK
}

// Delete removes keys
func (c *Cache) Delete(ctx context.Context, keys ...string) Status {
	if len(keys) == 0 {
		return StatusOK
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Error("cache delete failed", "keys", keys, "error", err)
		return StatusFailed
	}
	return StatusOK
}

// GetRaw reads a value stored without an envelope
func GetRaw[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Error("raw cache get failed", "key", key, "error", err)
		}
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Error("raw cache decode failed", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// SetRaw stores a value with no timestamp or TTL
func SetRaw[T any](ctx context.Context, c *Cache, key string, value T) Status {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("raw cache encode failed", "key", key, "error", err)
		return StatusFailed
	}
	if err := c.store.Set(ctx, key, raw, 0); err != nil {
		c.logger.Error("raw cache set failed", "key", key, "error", err)
		return StatusFailed
	}
	return StatusOK
}
