// Package compiler defines the data compiler contract and the registry the
// build pipeline locates compilers through.
//
// A compiler implements one named transformation of the resource path chain.
// Three kinds of stubs satisfy the same contract: in-process compilers
// linked into the host binary, external executables spoken to over a CLI
// protocol, and remote compilers delegating to sandboxed execution.
package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
	"github.com/forgekit/databuild/internal/sourcectrl"
)

// ErrCompilerNotFound is returned when no registered stub implements a
// transformation. The condition is recoverable: the caller may register
// more compilers and retry.
var ErrCompilerNotFound = errors.New("no compiler registered for transform")

// CompilationError reports that a compiler itself failed. It may be
// transient (flaky external tool) or permanent (bad input); retry policy is
// the caller's.
type CompilationError struct {
	// Transform that failed.
	Transform respath.Transform

	// Path being compiled.
	Path respath.ID

	// Diagnostic is the compiler-reported failure text.
	Diagnostic string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compilation of %s (%s) failed: %s", e.Path, e.Transform, e.Diagnostic)
}

// LoaderFunc decodes a compiled artifact into its runtime representation.
type LoaderFunc func(data []byte) (any, error)

// Options collects registry-wide settings compilers can extend before
// first use, such as custom artifact loaders.
type Options struct {
	// Loaders maps an output transform to its artifact loader.
	Loaders map[respath.Transform]LoaderFunc
}

// WithLoader returns options extended with a loader for the transform.
func (o Options) WithLoader(t respath.Transform, fn LoaderFunc) Options {
	loaders := make(map[respath.Transform]LoaderFunc, len(o.Loaders)+1)
	for k, v := range o.Loaders {
		loaders[k] = v
	}

	loaders[t] = fn

	return Options{Loaders: loaders}
}

// Request carries everything one compile call needs.
type Request struct {
	// Path is the artifact to produce, with any name part stripped.
	Path respath.ID

	// BuildDeps are the build dependencies of the path: its own source
	// resource followed by the declared dependencies of the input.
	BuildDeps []respath.ID

	// DerivedDeps are compiled outputs of earlier chain stages, available
	// to the compiler as inputs.
	DerivedDeps []Content

	// Store receives the compiled artifacts.
	Store contentstore.Store

	// Source reads raw source resources.
	Source sourcectrl.Reader

	// ProjectDir is the root of the source project.
	ProjectDir string

	// Params is the compilation parameter snapshot.
	Params config.Params
}

// Input returns the id of the compiler's direct input: the path with the
// last transformation stripped.
func (r *Request) Input() (respath.ID, bool) {
	return r.Path.PathDependency()
}

// ReadInput loads the bytes of the compiler's direct input, from source
// control for a source resource or from the content store for the output of
// an earlier stage.
func (r *Request) ReadInput(ctx context.Context) ([]byte, error) {
	input, ok := r.Input()
	if !ok {
		return nil, fmt.Errorf("path %s has no input to read", r.Path)
	}

	if input.IsSource() {
		data, _, err := r.Source.ReadFile(ctx, input.SourceResource())
		return data, err
	}

	for _, dep := range r.DerivedDeps {
		if dep.Path.Equal(input) {
			return r.Store.Read(ctx, dep.Addr)
		}
	}

	return nil, fmt.Errorf("input %s not found among derived dependencies", input)
}

// StoreContent writes artifact bytes to the content store and returns the
// resulting Content record.
func (r *Request) StoreContent(ctx context.Context, path respath.ID, data []byte, references []respath.ID) (Content, error) {
	addr, err := r.Store.Write(ctx, data)
	if err != nil {
		return Content{}, fmt.Errorf("failed to store compiled content for %s: %w", path, err)
	}

	return Content{Path: path, Addr: addr, Size: len(data), References: references}, nil
}

// Stub is the capability contract every compiler kind satisfies.
type Stub interface {
	// Info describes the transformations the stub implements.
	Info() []Info

	// CompilerHash returns the stub's hash for a transformation under the
	// given parameters. Deterministic across process restarts.
	CompilerHash(transform respath.Transform, params config.Params) (hash.CompilerHash, error)

	// Init lets the compiler extend registry options before first use.
	Init(opts Options) Options

	// Compile produces the artifacts for the request's path.
	Compile(ctx context.Context, req Request) (Output, error)
}
