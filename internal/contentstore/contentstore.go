// Package contentstore implements the content-addressed blob store the
// build pipeline writes compiled artifacts to.
//
// Blobs are addressed by the sha256 of their bytes, which makes writes
// idempotent: rewriting identical bytes yields the same address and is not
// an error.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no blob exists at an address.
var ErrNotFound = errors.New("content not found")

// Address is the content address of one blob: the hex sha256 of its bytes.
type Address string

// AddressOf computes the address the bytes would be stored at.
func AddressOf(data []byte) Address {
	sum := sha256.Sum256(data)
	return Address(hex.EncodeToString(sum[:]))
}

// Valid reports whether the address is well formed.
func (a Address) Valid() bool {
	if len(a) != sha256.Size*2 {
		return false
	}

	_, err := hex.DecodeString(string(a))

	return err == nil
}

func (a Address) String() string {
	return string(a)
}

// Store is a content-addressed blob store.
type Store interface {
	// Write stores the bytes and returns their address. Idempotent.
	Write(ctx context.Context, data []byte) (Address, error)

	// Read returns the bytes stored at the address, or ErrNotFound.
	Read(ctx context.Context, addr Address) ([]byte, error)
}

func invalidAddress(addr Address) error {
	return fmt.Errorf("invalid content address %q", addr)
}
