package kv

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps values in a map. It is the default backend for tests
// and for the CLI's "memory" backend.
//
// Thread-safety: safe for concurrent use.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]Value
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]Value)}
}

// Load implements Backend.
func (m *MemoryBackend) Load(_ context.Context, key string) (Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if ok && v.Kind == KindStringSet {
		v.Set = slices.Clone(v.Set)
	}
	return v, ok, nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Apply implements Backend.
func (m *MemoryBackend) Apply(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Clear {
		clear(m.values)
	}
	for _, op := range b.Ops {
		if op.Remove {
			delete(m.values, op.Key)
			continue
		}
		v := op.Value
		if v.Kind == KindStringSet {
			v.Set = NormalizeSet(v.Set)
		}
		m.values[op.Key] = v
	}
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}
