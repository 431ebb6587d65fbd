package builddb

import (
	"time"

	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

// Entry represents one cached compilation result
type Entry struct {
	// Path is the resource path id the output was compiled for
	Path respath.ID `json:"path"`

	// VersionHash captures everything that could affect the output's bytes
	VersionHash hash.VersionHash `json:"version_hash"`

	// Output is the compilation output produced for (path, version_hash)
	Output compiler.Output `json:"output"`

	// Loaded lists the resources read to produce the output
	Loaded []respath.ID `json:"loaded,omitempty"`

	// Timestamp when this entry was created
	Timestamp time.Time `json:"timestamp"`
}
