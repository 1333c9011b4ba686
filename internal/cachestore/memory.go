package cachestore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage keeps generations in process memory.
type MemoryStorage struct {
	mu          sync.RWMutex
	order       []string
	generations map[string]map[string]Entry
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{generations: make(map[string]map[string]Entry)}
}

func (m *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemoryStorage) Open(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(name)
	return nil
}

func (m *MemoryStorage) openLocked(name string) map[string]Entry {
	gen, ok := m.generations[name]
	if !ok {
		gen = make(map[string]Entry)
		m.generations[name] = gen
		m.order = append(m.order, name)
	}
	return gen
}

func (m *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.generations[name]
	return ok, nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.generations[name]; !ok {
		return false, nil
	}
	delete(m.generations, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStorage) Match(_ context.Context, name, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gen, ok := m.generations[name]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := gen[key]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneEntry(e)
	return &c, nil
}

func (m *MemoryStorage) Put(_ context.Context, name, key string, e Entry) error {
	c := cloneEntry(e)
	c.Key = key
	if c.StoredAt.IsZero() {
		c.StoredAt = time.Now().UTC()
	}
	if c.Digest == "" {
		c.Digest = digest(c.Body)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(name)[key] = c
	return nil
}

func (m *MemoryStorage) List(_ context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gen := m.generations[name]
	keys := make([]string, 0, len(gen))
	for k := range gen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
