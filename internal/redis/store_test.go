package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.RedisConfig{
		Addr:     mr.Addr(),
		PoolSize: 5,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewStore(cfg, "test:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestStoreSetGetDelete(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "players", []byte(`{"a":1}`), 0))
	assert.True(t, mr.Exists("test:players"))

	got, err := store.Get(ctx, "players")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, store.Set(ctx, "stats", []byte("s"), time.Minute))
	require.NoError(t, store.Delete(ctx, "players", "stats"))
	assert.False(t, mr.Exists("test:players"))
	assert.False(t, mr.Exists("test:stats"))
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := setupTestRedis(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStorePing(t *testing.T) {
	store, mr := setupTestRedis(t)
	assert.NoError(t, store.Ping(context.Background()))

	mr.SetError("LOADING")
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewStoreConnectionFailure(t *testing.T) {
	cfg := &config.RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}
	_, err := NewStore(cfg, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestCacheOverRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStoreWithClient(client, "", logger)
	defer store.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cache.New(store, logger, cache.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	cache.Set(ctx, c, cache.KeyPlayers, []string{"x"}, time.Minute)
	got, ok := cache.Get[[]string](ctx, c, cache.KeyPlayers)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, got)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get[[]string](ctx, c, cache.KeyPlayers)
	assert.False(t, ok)
	assert.False(t, mr.Exists(cache.KeyPlayers))
}

func TestCacheSetsServerSideExpiry(t *testing.T) {
	store, mr := setupTestRedis(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(store, logger)
	ctx := context.Background()

	require.True(t, cache.Set(ctx, c, cache.KeyStats, map[string]int{"total": 3}, 5*time.Minute).OK())
	require.True(t, cache.SetRaw(ctx, c, cache.KeyStatsLastGood, map[string]int{"total": 3}).OK())

	assert.Equal(t, 10*time.Minute, mr.TTL("test:"+cache.KeyStats))
	assert.Zero(t, mr.TTL("test:"+cache.KeyStatsLastGood), "last good copies never expire")

	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists("test:"+cache.KeyStats))
	assert.True(t, mr.Exists("test:"+cache.KeyStatsLastGood))
}
