package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/snas/internal/errs"
)

// MemoryKV is an in-process fake of KV with the same compare-and-swap
// semantics as the NATS JetStream adapter, used by store and handler
// tests so they never need a running NATS server.
type MemoryKV struct {
	mu       sync.Mutex
	values   map[string][]byte
	revision map[string]uint64
	nextRev  uint64
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values:   make(map[string][]byte),
		revision: make(map[string]uint64),
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, 0, errs.New(errs.NotFound, "key not found: "+key)
	}
	cp := append([]byte(nil), v...)
	return cp, m.revision[key], nil
}

func (m *MemoryKV) Create(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[key]; ok {
		return 0, errs.New(errs.AlreadyExists, "key already exists: "+key)
	}
	m.nextRev++
	m.values[key] = append([]byte(nil), value...)
	m.revision[key] = m.nextRev
	return m.nextRev, nil
}

func (m *MemoryKV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.revision[key]
	if !ok {
		return 0, errs.New(errs.NotFound, "key not found: "+key)
	}
	if current != revision {
		return 0, errs.New(errs.Conflict, "revision mismatch")
	}
	m.nextRev++
	m.values[key] = append([]byte(nil), value...)
	m.revision[key] = m.nextRev
	return m.nextRev, nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[key]; !ok {
		return errs.New(errs.NotFound, "key not found: "+key)
	}
	delete(m.values, key)
	delete(m.revision, key)
	return nil
}

func (m *MemoryKV) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
