package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps the latest decision and the latest change per service.
type MemoryStore struct {
	mu      sync.RWMutex
	latest  map[string]Decision
	changes map[string]Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest:  make(map[string]Decision),
		changes: make(map[string]Decision),
	}
}

func (m *MemoryStore) Put(ctx context.Context, d Decision) error {
	if d.Service == "" {
		return errors.New("decision has no service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[d.Service] = d
	if d.Changed() {
		m.changes[d.Service] = d
	}
	return nil
}

func (m *MemoryStore) GetLatest(ctx context.Context, service string) (Decision, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.latest[service]
	return d, ok, nil
}

func (m *MemoryStore) GetLastChange(ctx context.Context, service string) (Decision, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.changes[service]
	return d, ok, nil
}
