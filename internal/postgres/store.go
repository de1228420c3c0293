package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
)

// Store is a PostgreSQL-backed cache store. It is an alternative to Redis
// for deployments that already run a database; it holds no source-of-truth data.
type Store struct {
	pool   *pgxpool.Pool
	prefix string
	logger *slog.Logger
}

// NewStore creates a connection pool and verifies connectivity
func NewStore(cfg *config.PostgresConfig, prefix string, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{
		pool:   pool,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying connection pool
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// RunMigrations creates the cache table and purges expired rows
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key VARCHAR(255) PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE cache_entries ADD COLUMN IF NOT EXISTS expires_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at)`,
		`DELETE FROM cache_entries WHERE expires_at <= now()`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// Get returns the raw value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM cache_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		s.prefix+key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("getting cache entry: %w", err)
	}
	return value, nil
}

// Set upserts value under key. A positive expiry hides the row from Get
// once it passes; expired rows are purged at migration time.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	query := `
		INSERT INTO cache_entries (key, value, updated_at, expires_at)
		VALUES ($1, $2, $3, CASE WHEN $4::bigint > 0 THEN now() + $4::bigint * interval '1 millisecond' END)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
	`
	if _, err := s.pool.Exec(ctx, query, s.prefix+key, value, time.Now(), expiry.Milliseconds()); err != nil {
		return fmt.Errorf("upserting cache entry: %w", err)
	}
	return nil
}

// Delete removes keys in one batch
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(`DELETE FROM cache_entries WHERE key = $1`, s.prefix+k)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range keys {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("deleting cache entries: %w", err)
		}
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}
