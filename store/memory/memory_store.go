package memory

import (
	"context"
	"sync"

	"github.com/arunvm123/voyagecache/store"
)

// MemoryStore keeps values in process memory. Used for local runs without
// Redis or Postgres and for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ store.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
