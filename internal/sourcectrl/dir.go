package sourcectrl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

// Dir reads source resources from a project directory.
//
// Each resource is stored as "<guid>" with an optional "<guid>.meta" JSON
// sidecar carrying the declared build dependencies.
type Dir struct {
	root string
}

// metaFile is the sidecar format of one source resource.
type metaFile struct {
	Dependencies []respath.ID `json:"dependencies,omitempty"`
}

// OpenDir opens a project directory.
func OpenDir(root string) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open project directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("project path %q is not a directory", root)
	}

	return &Dir{root: root}, nil
}

// Root returns the project directory path.
func (d *Dir) Root() string {
	return d.root
}

// ReadFile implements Reader.
func (d *Dir) ReadFile(_ context.Context, id respath.Guid) ([]byte, hash.ContentHash, error) {
	data, err := os.ReadFile(d.resourcePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrResourceNotFound, id)
		}

		return nil, "", fmt.Errorf("failed to read resource %s: %w", id, err)
	}

	return data, hash.Content(data), nil
}

// Dependencies implements Reader.
func (d *Dir) Dependencies(_ context.Context, id respath.Guid) ([]respath.ID, error) {
	data, err := os.ReadFile(d.resourcePath(id) + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read resource metadata for %s: %w", id, err)
	}

	var meta metaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid resource metadata for %s: %w", id, err)
	}

	return meta.Dependencies, nil
}

// WriteFile stores a resource and its declared dependencies. Used by project
// tooling and tests; the build pipeline itself never writes source control.
func (d *Dir) WriteFile(id respath.Guid, data []byte, deps []respath.ID) error {
	if err := os.WriteFile(d.resourcePath(id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write resource %s: %w", id, err)
	}

	if len(deps) == 0 {
		return nil
	}

	meta, err := json.Marshal(metaFile{Dependencies: deps})
	if err != nil {
		return fmt.Errorf("failed to encode resource metadata for %s: %w", id, err)
	}

	if err := os.WriteFile(d.resourcePath(id)+".meta", meta, 0o644); err != nil {
		return fmt.Errorf("failed to write resource metadata for %s: %w", id, err)
	}

	return nil
}

func (d *Dir) resourcePath(id respath.Guid) string {
	return filepath.Join(d.root, id.String())
}
