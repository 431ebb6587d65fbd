package compiler

import (
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/respath"
)

// Content is one produced artifact: its path id, where its bytes live in
// the content store, and the runtime references discovered while producing
// it. References are populated only after a successful compile.
type Content struct {
	// Path identifies the artifact.
	Path respath.ID `json:"path"`

	// Addr is the artifact's content address.
	Addr contentstore.Address `json:"addr"`

	// Size is the artifact's byte size.
	Size int `json:"size"`

	// References are runtime-edge references discovered in the compiled
	// output. They never affect cache validity of this artifact.
	References []respath.ID `json:"references,omitempty"`
}

// Output is the result of one compile call. A single call may emit more
// than one artifact.
type Output struct {
	// Contents lists the produced artifacts in emission order.
	Contents []Content `json:"contents"`
}

// References returns the union of all artifacts' runtime references.
func (o Output) References() []respath.ID {
	var refs []respath.ID

	seen := make(map[string]bool)
	for _, c := range o.Contents {
		for _, r := range c.References {
			if key := r.String(); !seen[key] {
				seen[key] = true
				refs = append(refs, r)
			}
		}
	}

	return refs
}

// Info describes one transformation a compiler supports.
type Info struct {
	// Name of the compiler.
	Name string `json:"name"`

	// Transform is the transformation the compiler implements.
	Transform respath.Transform `json:"transform"`

	// BuildVersion is the data pipeline version the compiler was built for.
	BuildVersion string `json:"build_version"`

	// CodeVersion changes whenever the compiler's code changes behavior.
	CodeVersion string `json:"code_version"`

	// DataVersion changes whenever the compiler's output format changes.
	DataVersion string `json:"data_version"`
}
