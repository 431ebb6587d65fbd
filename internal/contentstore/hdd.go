package contentstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// HDD is a filesystem-backed Store. Blobs live under a two-level fan-out of
// their address ("ab/cd/abcd....") to keep directories small.
type HDD struct {
	root string
}

// OpenHDD opens (creating if needed) a store rooted at dir.
func OpenHDD(dir string) (*HDD, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content store directory: %w", err)
	}

	return &HDD{root: dir}, nil
}

// Root returns the store's directory.
func (s *HDD) Root() string {
	return s.root
}

// Write implements Store. The blob is written to a temporary file first and
// renamed into place, so readers never observe a partial blob.
func (s *HDD) Write(_ context.Context, data []byte) (Address, error) {
	addr := AddressOf(data)

	path := s.blobPath(addr)
	if _, err := os.Stat(path); err == nil {
		return addr, nil // identical bytes already stored
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to commit blob: %w", err)
	}

	return addr, nil
}

// Read implements Store.
func (s *HDD) Read(_ context.Context, addr Address) ([]byte, error) {
	if !addr.Valid() {
		return nil, invalidAddress(addr)
	}

	data, err := os.ReadFile(s.blobPath(addr))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}

		return nil, fmt.Errorf("failed to read blob %s: %w", addr, err)
	}

	return data, nil
}

// Size returns the total byte size of all stored blobs.
func (s *HDD) Size() (int64, error) {
	var total int64

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			total += info.Size()
		}

		return nil
	})

	return total, err
}

func (s *HDD) blobPath(addr Address) string {
	a := string(addr)
	return filepath.Join(s.root, a[0:2], a[2:4], a)
}
