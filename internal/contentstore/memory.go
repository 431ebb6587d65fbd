package contentstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory Store for tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[Address][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[Address][]byte)}
}

// Write implements Store.
func (m *Memory) Write(_ context.Context, data []byte) (Address, error) {
	addr := AddressOf(data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[addr]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		m.blobs[addr] = stored
	}

	return addr, nil
}

// Read implements Store.
func (m *Memory) Read(_ context.Context, addr Address) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.blobs)
}
