package cache

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process cache. Values are stored JSON-encoded so callers get
// the same copy semantics as the durable backends.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory creates an empty in-memory cache
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(key Key, v any) error {
	m.mu.RLock()
	raw, ok := m.entries[key.String()]
	m.mu.RUnlock()
	if !ok {
		return ErrMiss
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

func (m *Memory) Put(key Key, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.entries[key.String()] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key.String()]; !ok {
		return ErrMiss
	}
	delete(m.entries, key.String())
	return nil
}

// PutRaw stores bytes without encoding them. Used to simulate corrupt entries.
func (m *Memory) PutRaw(key Key, raw []byte) {
	m.mu.Lock()
	m.entries[key.String()] = raw
	m.mu.Unlock()
}

var _ Cache = (*Memory)(nil)
