// Package cache provides the TTL cache, the raw cache layer and the refresh
// rate limiter on top of a pluggable key-value store.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by a Store when the key does not exist
var ErrNotFound = errors.New("cache: key not found")

// Store is the key-value engine behind the cache. A positive expiry on Set
// lets the backend drop the key on its own; zero keeps it until overwritten
// or deleted.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string][]byte),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if at, ok := m.expires[key]; ok && !m.now().Before(at) {
		delete(m.data, key)
		delete(m.expires, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, expiry time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	if expiry > 0 {
		m.expires[key] = m.now().Add(expiry)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.data, k)
		delete(m.expires, k)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
