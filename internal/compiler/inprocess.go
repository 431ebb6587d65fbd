package compiler

import (
	"context"
	"fmt"

	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

// Descriptor defines one in-process data compiler.
type Descriptor struct {
	// Name of the compiler.
	Name string

	// Transform the compiler implements.
	Transform respath.Transform

	// CodeVersion changes whenever the compile function changes behavior.
	CodeVersion string

	// DataVersion changes whenever the output data format changes.
	DataVersion string

	// InitFunc optionally extends registry options before first use.
	InitFunc func(Options) Options

	// CompilerHashFunc optionally overrides the default hash computation.
	CompilerHashFunc func(codeVersion, dataVersion string, params config.Params) hash.CompilerHash

	// CompileFunc produces artifacts for a request. Required.
	CompileFunc func(ctx context.Context, req Request) (Output, error)
}

// InProcess is a Stub dispatching directly to a Descriptor's functions,
// used for compilers linked into the host binary.
type InProcess struct {
	desc Descriptor
}

// NewInProcess wraps a descriptor as a registry stub.
func NewInProcess(desc Descriptor) *InProcess {
	return &InProcess{desc: desc}
}

// Info implements Stub.
func (s *InProcess) Info() []Info {
	return []Info{{
		Name:         s.desc.Name,
		Transform:    s.desc.Transform,
		BuildVersion: config.DataBuildVersion,
		CodeVersion:  s.desc.CodeVersion,
		DataVersion:  s.desc.DataVersion,
	}}
}

// CompilerHash implements Stub.
func (s *InProcess) CompilerHash(transform respath.Transform, params config.Params) (hash.CompilerHash, error) {
	if transform != s.desc.Transform {
		return "", fmt.Errorf("%w: %s", ErrCompilerNotFound, transform)
	}

	if s.desc.CompilerHashFunc != nil {
		return s.desc.CompilerHashFunc(s.desc.CodeVersion, s.desc.DataVersion, params), nil
	}

	return hash.Compiler(transform, s.desc.CodeVersion, s.desc.DataVersion, params), nil
}

// Init implements Stub.
func (s *InProcess) Init(opts Options) Options {
	if s.desc.InitFunc != nil {
		return s.desc.InitFunc(opts)
	}

	return opts
}

// Compile implements Stub.
func (s *InProcess) Compile(ctx context.Context, req Request) (Output, error) {
	transform, ok := req.Path.LastTransform()
	if !ok || transform != s.desc.Transform {
		return Output{}, fmt.Errorf("%w: %s", ErrCompilerNotFound, req.Path)
	}

	return s.desc.CompileFunc(ctx, req)
}
