package storage

import (
	"sync"
)

// Persistence checkpoints a backward scan so an interrupted session can
// resume instead of re-walking the whole history. The stored height is the
// lower bound of the last fully scanned range; 0 means no checkpoint.
type Persistence interface {
	// LoadCursor reads the saved lower bound for a scan key
	// key: session identifier (e.g., "137:0xabc...")
	LoadCursor(key string) (uint64, error)

	// SaveCursor saves the lower bound of the last completed range
	SaveCursor(key string, height uint64) error

	// ClearCursor removes the checkpoint once a scan reaches creation or genesis
	ClearCursor(key string) error

	// Close releases resources
	Close() error
}

// MemoryStore is a simple in-memory implementation (Note: data lost on restart, matching the dashboard's in-memory session model)
type MemoryStore struct {
	data   map[string]uint64
	prefix string
	mu     sync.RWMutex
}

// NewMemoryStore initializes a new in-memory checkpoint store.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]uint64),
		prefix: prefix,
	}
}

// LoadCursor retrieves the saved scan lower bound from memory.
func (m *MemoryStore) LoadCursor(key string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[m.prefix+key], nil
}

// SaveCursor updates the saved scan lower bound in memory.
func (m *MemoryStore) SaveCursor(key string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.prefix+key] = height
	return nil
}

// ClearCursor removes the checkpoint for a finished scan.
func (m *MemoryStore) ClearCursor(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, m.prefix+key)
	return nil
}

// Close implements the Persistence interface.
func (m *MemoryStore) Close() error {
	return nil
}
