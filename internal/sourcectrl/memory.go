package sourcectrl

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

// Memory is an in-memory Reader for tests.
type Memory struct {
	mu        sync.RWMutex
	resources map[respath.Guid]memoryResource
}

type memoryResource struct {
	data []byte
	deps []respath.ID
}

// NewMemory returns an empty in-memory source control.
func NewMemory() *Memory {
	return &Memory{resources: make(map[respath.Guid]memoryResource)}
}

// Put stores or replaces a resource.
func (m *Memory) Put(id respath.Guid, data []byte, deps ...respath.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resources[id] = memoryResource{data: data, deps: deps}
}

// ReadFile implements Reader.
func (m *Memory) ReadFile(_ context.Context, id respath.Guid) ([]byte, hash.ContentHash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.resources[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}

	return res.data, hash.Content(res.data), nil
}

// Dependencies implements Reader.
func (m *Memory) Dependencies(_ context.Context, id respath.Guid) ([]respath.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}

	return res.deps, nil
}
