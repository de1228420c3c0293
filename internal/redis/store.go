package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
)

// Store is the Redis-backed cache store
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewStore connects to Redis and verifies the connection
func NewStore(cfg *config.RedisConfig, prefix string, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreWithClient(client, prefix, logger), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the raw value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("getting key: %w", err)
	}
	return val, nil
}

// Set stores value under key. Freshness lives in the envelope; expiry is only
// the server-side backstop, and zero means none.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, expiry).Err(); err != nil {
		return fmt.Errorf("setting key: %w", err)
	}
	return nil
}

// Delete removes keys in a single pipeline
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, s.key(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}
