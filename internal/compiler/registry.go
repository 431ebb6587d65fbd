package compiler

import (
	"github.com/forgekit/databuild/internal/respath"
)

// Registry is the collection of compiler stubs available to one build
// session. It is constructed explicitly at startup and passed into the
// resource manager; there is no process-wide registration.
type Registry struct {
	stubs   []Stub
	byName  map[respath.Transform]Stub
	options Options
}

// NewRegistry builds a registry from stubs. Each stub's Init hook runs once,
// in registration order, extending the shared options. If two stubs claim
// the same transform the first registered wins.
func NewRegistry(stubs ...Stub) *Registry {
	r := &Registry{
		stubs:  stubs,
		byName: make(map[respath.Transform]Stub),
	}

	for _, stub := range stubs {
		r.options = stub.Init(r.options)

		for _, info := range stub.Info() {
			if _, taken := r.byName[info.Transform]; !taken {
				r.byName[info.Transform] = stub
			}
		}
	}

	return r
}

// FindCompiler locates the stub for a transformation. Exact match only; a
// miss is a normal condition the caller must handle.
func (r *Registry) FindCompiler(transform respath.Transform) (Stub, bool) {
	stub, ok := r.byName[transform]
	return stub, ok
}

// Infos lists every transformation descriptor across all stubs.
func (r *Registry) Infos() []Info {
	var infos []Info
	for _, stub := range r.stubs {
		infos = append(infos, stub.Info()...)
	}

	return infos
}

// Options returns the registry options after every stub's Init ran.
func (r *Registry) Options() Options {
	return r.options
}
