package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory keeps entries in a process-local map. It backs tests and
// embedders that want attempt tracking without persistence. Keys carry
// the namespace prefix like every other adapter, so instances handed the
// same underlying map semantics stay isolated per namespace.
type Memory struct {
	namespace string
	retention time.Duration

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates an in-process store. retention <= 0 falls back to
// [DefaultRetention].
func NewMemory(namespace string, retention time.Duration) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{
		namespace: namespace,
		retention: retention,
		entries:   make(map[string]Entry),
	}
}

var _ Store = (*Memory)(nil)

// Name identifies this backend in probe logs and degradation events.
func (m *Memory) Name() string { return "memory" }

func (m *Memory) key(key string) string {
	return m.namespace + ":" + key
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[m.key(key)]
	return entry, ok, nil
}

func (m *Memory) Set(ctx context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[m.key(key)] = entry
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, m.key(key))
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := m.namespace + ":"
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := m.namespace + ":"
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys, nil
}

func (m *Memory) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.retention).UnixMilli()
	prefix := m.namespace + ":"
	purged := 0
	for k, entry := range m.entries {
		if strings.HasPrefix(k, prefix) && entry.LastAttempt < cutoff {
			delete(m.entries, k)
			purged++
		}
	}
	return purged, nil
}
