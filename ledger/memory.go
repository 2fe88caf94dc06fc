package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-process Store for tests and throwaway simulations.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]map[Key][]json.RawMessage
	locks *lockTable
}

func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string]map[Key][]json.RawMessage),
		locks: newLockTable(),
	}
}

func (m *Memory) Keys(_ context.Context, collection string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.data[collection]))
	for key := range m.data[collection] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (m *Memory) Read(_ context.Context, collection string, key Key) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.data[collection][key]
	out := make([]json.RawMessage, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *Memory) Replace(_ context.Context, collection string, key Key, records []json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(records) == 0 {
		delete(m.data[collection], key)
		return nil
	}
	if m.data[collection] == nil {
		m.data[collection] = make(map[Key][]json.RawMessage)
	}
	recs := make([]json.RawMessage, len(records))
	copy(recs, records)
	m.data[collection][key] = recs
	return nil
}

func (m *Memory) Lock(ctx context.Context, names []string, fn func(ctx context.Context) error) error {
	return m.locks.with(ctx, names, fn)
}
