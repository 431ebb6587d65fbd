// Package sourcectrl provides access to raw source resources and their
// declared build dependencies.
//
// Source control is an external collaborator of the build pipeline: the
// pipeline only ever reads from it. Besides the raw bytes of a resource it
// reports a content hash that is stable for unchanged content, and the list
// of resources the owning compiler statically declared as inputs.
package sourcectrl

import (
	"context"
	"errors"

	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

// ErrResourceNotFound is returned when a guid has no backing resource.
var ErrResourceNotFound = errors.New("source resource not found")

// Reader reads source resources.
type Reader interface {
	// ReadFile returns the raw bytes of the resource and its content hash.
	ReadFile(ctx context.Context, id respath.Guid) ([]byte, hash.ContentHash, error)

	// Dependencies returns the resource's declared build dependencies.
	// A missing declaration is an empty list, not an error.
	Dependencies(ctx context.Context, id respath.Guid) ([]respath.ID, error)
}
