package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

// Executor is the hand-off primitive for sandboxed execution: it receives
// an invocation archive and returns the result archive. Implementations
// may run in-process, on another process, or on another host.
type Executor interface {
	Execute(ctx context.Context, archive []byte) ([]byte, error)
}

// SandboxExecutor runs invocation archives in a local ephemeral sandbox.
type SandboxExecutor struct{}

// Execute implements Executor.
func (SandboxExecutor) Execute(ctx context.Context, archive []byte) ([]byte, error) {
	return ExecuteSandboxCompiler(ctx, archive)
}

// Stub is a compiler.Stub that compiles through the remote execution
// bridge. Compiler metadata (info, hash) is still probed from the local
// executable; only the compile step is handed off.
type Stub struct {
	executable string
	local      *compiler.External
	executor   Executor
	timeout    time.Duration
}

// NewStub wraps a compiler executable for remote execution. A timeout of
// zero disables the deadline.
func NewStub(executable, storeDir string, executor Executor, timeout time.Duration) *Stub {
	return &Stub{
		executable: executable,
		local:      compiler.NewExternal(executable, storeDir),
		executor:   executor,
		timeout:    timeout,
	}
}

// Info implements compiler.Stub.
func (s *Stub) Info() []compiler.Info {
	return s.local.Info()
}

// CompilerHash implements compiler.Stub.
func (s *Stub) CompilerHash(transform respath.Transform, params config.Params) (hash.CompilerHash, error) {
	return s.local.CompilerHash(transform, params)
}

// Init implements compiler.Stub.
func (s *Stub) Init(opts compiler.Options) compiler.Options {
	return opts
}

// Compile implements compiler.Stub: package the invocation, hand it off,
// unpack the result and feed the compiled blobs into the content store.
func (s *Stub) Compile(ctx context.Context, req compiler.Request) (compiler.Output, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	archive, err := CollectLocalResources(ctx, s.executable, req.ProjectDir, req.Store,
		req.Path, req.BuildDeps, req.DerivedDeps, req.Params)
	if err != nil {
		return compiler.Output{}, err
	}

	result, err := s.executor.Execute(ctx, archive)
	if err != nil {
		return compiler.Output{}, err
	}

	output, blobs, err := UnpackOutput(result)
	if err != nil {
		return compiler.Output{}, execErr(ctx, KindExtract, "unpack output archive", err)
	}

	for addr, data := range blobs {
		stored, err := req.Store.Write(ctx, data)
		if err != nil {
			return compiler.Output{}, execErr(ctx, KindIO, "store compiled blob", err)
		}

		if stored != addr {
			return compiler.Output{}, execErr(ctx, KindExtract, "verify compiled blob",
				fmt.Errorf("checksum mismatch for %s", addr))
		}
	}

	return output, nil
}
