package contentstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of blobs Cached keeps in memory.
const DefaultCacheSize = 256

// Cached wraps a Store with a bounded in-memory read cache. Blobs are
// immutable once written, so cached reads never go stale.
type Cached struct {
	inner Store
	cache *lru.Cache[Address, []byte]
}

// NewCached wraps inner with an LRU read cache of the given size.
// A size <= 0 uses DefaultCacheSize.
func NewCached(inner Store, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[Address, []byte](size)
	if err != nil {
		return nil, err
	}

	return &Cached{inner: inner, cache: cache}, nil
}

// Write implements Store.
func (c *Cached) Write(ctx context.Context, data []byte) (Address, error) {
	addr, err := c.inner.Write(ctx, data)
	if err != nil {
		return "", err
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	c.cache.Add(addr, stored)

	return addr, nil
}

// Read implements Store.
func (c *Cached) Read(ctx context.Context, addr Address) ([]byte, error) {
	if data, ok := c.cache.Get(addr); ok {
		out := make([]byte, len(data))
		copy(out, data)

		return out, nil
	}

	data, err := c.inner.Read(ctx, addr)
	if err != nil {
		return nil, err
	}

	c.cache.Add(addr, data)

	return data, nil
}
