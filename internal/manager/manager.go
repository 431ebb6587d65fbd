// Package manager orchestrates incremental compilation.
//
// A load request walks one resource path id through a fixed state machine:
// resolve the build dependencies depth-first, compute the version hash
// bottom-up from raw source content, probe the build database, compile on a
// miss and store the result. Every request ends in exactly one terminal
// state, Cached, Compiled or Failed, and each terminal state appends one
// entry to the completion log.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/forgekit/databuild/internal/builddb"
	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/depgraph"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
	"github.com/forgekit/databuild/internal/sourcectrl"
)

// Kind is the terminal state of one load request.
type Kind int

const (
	// KindCached means the build database already held the artifact at
	// its current version hash.
	KindCached Kind = iota

	// KindCompiled means a compiler produced the artifact during this
	// request.
	KindCompiled

	// KindFailed means the request ended in an error.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindCached:
		return "cached"
	case KindCompiled:
		return "compiled"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Completion is one entry of the completion log.
type Completion struct {
	// Path that reached a terminal state.
	Path respath.ID

	// Kind of terminal state.
	Kind Kind

	// Addr of the first produced artifact, on success.
	Addr contentstore.Address

	// Err describes the failure, on failure.
	Err error

	// Duration of the compile, zero for cache hits.
	Duration time.Duration
}

// Manager drives compilation requests against the build database, the
// content store and the compiler registry. Safe for concurrent use.
type Manager struct {
	db         *builddb.DB
	store      contentstore.Store
	source     sourcectrl.Reader
	registry   *compiler.Registry
	params     config.Params
	projectDir string
	log        *zap.Logger

	// flight deduplicates concurrent loads of the same path
	flight singleflight.Group

	mu          sync.Mutex
	completions []Completion
}

// New builds a manager. A nil logger disables logging.
func New(db *builddb.DB, store contentstore.Store, source sourcectrl.Reader, registry *compiler.Registry, cfg *config.Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		db:         db,
		store:      store,
		source:     source,
		registry:   registry,
		params:     cfg.Params,
		projectDir: cfg.ProjectDir,
		log:        log,
	}
}

// PopLog returns the completions recorded since the previous call and
// clears the log.
func (m *Manager) PopLog() []Completion {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.completions
	m.completions = nil

	return out
}

func (m *Manager) record(c Completion) {
	m.mu.Lock()
	m.completions = append(m.completions, c)
	m.mu.Unlock()

	switch c.Kind {
	case KindFailed:
		m.log.Warn("load failed", zap.Stringer("path", c.Path), zap.Error(c.Err))
	default:
		m.log.Info("load complete",
			zap.Stringer("path", c.Path),
			zap.Stringer("state", c.Kind),
			zap.String("addr", c.Addr.String()),
			zap.Duration("duration", c.Duration))
	}
}

// session memoizes per-request work so a diamond-shaped dependency graph
// resolves each shared path once. Hashes are always recomputed per top
// level request; a cached entry's hash is never reused across loads.
type session struct {
	mu      sync.Mutex
	hashes  map[string]hash.VersionHash
	outputs map[string]compiler.Output
}

func newSession() *session {
	return &session{
		hashes:  make(map[string]hash.VersionHash),
		outputs: make(map[string]compiler.Output),
	}
}

func (s *session) output(key string) (compiler.Output, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.outputs[key]

	return out, ok
}

func (s *session) setOutput(key string, out compiler.Output) {
	s.mu.Lock()
	s.outputs[key] = out
	s.mu.Unlock()
}

func (s *session) hash(key string) (hash.VersionHash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]

	return h, ok
}

func (s *session) setHash(key string, h hash.VersionHash) {
	s.mu.Lock()
	s.hashes[key] = h
	s.mu.Unlock()
}

// Load compiles the resource named by id, reusing the build database
// wherever version hashes match. The returned output lists every produced
// artifact. A source resource without transformations is not loadable.
func (m *Manager) Load(ctx context.Context, id respath.ID) (compiler.Output, error) {
	if id.IsSource() {
		return compiler.Output{}, fmt.Errorf("resource %s has no transformations to compile", id)
	}

	// a build cycle is a fatal configuration error, caught before any
	// recursion starts
	if _, err := depgraph.FromPath(ctx, id, m.db, m.source); err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	return m.load(ctx, id, newSession())
}

func (m *Manager) load(ctx context.Context, id respath.ID, s *session) (compiler.Output, error) {
	key := id.ToUnnamed().String()

	if out, ok := s.output(key); ok {
		return out, nil
	}

	v, err, _ := m.flight.Do(key, func() (any, error) {
		return m.loadOne(ctx, id.ToUnnamed(), s)
	})
	if err != nil {
		return compiler.Output{}, err
	}

	out := v.(compiler.Output)
	s.setOutput(key, out)

	return out, nil
}

func (m *Manager) loadOne(ctx context.Context, id respath.ID, s *session) (compiler.Output, error) {
	if err := ctx.Err(); err != nil {
		return compiler.Output{}, err
	}

	transform, _ := id.LastTransform()

	// Resolve. The chain input first, then the declared dependencies of
	// the source resource; derived declared dependencies compile
	// concurrently.
	var (
		depMu   sync.Mutex
		derived []compiler.Content
	)

	input, _ := id.PathDependency()
	if !input.IsSource() {
		out, err := m.load(ctx, input, s)
		if err != nil {
			return compiler.Output{}, m.fail(id, err)
		}

		derived = append(derived, out.Contents...)
	}

	declared, err := m.source.Dependencies(ctx, id.SourceResource())
	if err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, dep := range declared {
		if dep.IsSource() {
			continue
		}

		dep := dep
		g.Go(func() error {
			out, err := m.load(gctx, dep, s)
			if err != nil {
				return err
			}

			depMu.Lock()
			derived = append(derived, out.Contents...)
			depMu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	// Hash. A missing compiler fails before anything touches the build
	// database.
	stub, ok := m.registry.FindCompiler(transform)
	if !ok {
		return compiler.Output{}, m.fail(id, fmt.Errorf("%w: %s", compiler.ErrCompilerNotFound, transform))
	}

	versionHash, err := m.versionHash(ctx, id, s)
	if err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	// Probe. A hit is trusted without re-verifying stored bytes.
	entry, err := m.db.Find(id, versionHash)
	if err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	if entry != nil {
		m.record(Completion{Path: id, Kind: KindCached, Addr: firstAddr(entry.Output)})
		return entry.Output, nil
	}

	// Compile. The build dependency set always carries the path's own
	// source resource so a remote stub can ship it to the sandbox.
	start := time.Now()

	buildDeps := make([]respath.ID, 0, len(declared)+1)
	buildDeps = append(buildDeps, id.SourcePath())
	buildDeps = append(buildDeps, declared...)

	output, err := stub.Compile(ctx, compiler.Request{
		Path:        id,
		BuildDeps:   buildDeps,
		DerivedDeps: derived,
		Store:       m.store,
		Source:      m.source,
		ProjectDir:  m.projectDir,
		Params:      m.params,
	})
	if err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	// Store. A cancelled load leaves no partial entry.
	if err := ctx.Err(); err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	loaded := make([]respath.ID, 0, len(declared)+1)
	loaded = append(loaded, input)
	loaded = append(loaded, declared...)

	if err := m.db.Store(id, versionHash, output, loaded); err != nil {
		return compiler.Output{}, m.fail(id, err)
	}

	m.record(Completion{Path: id, Kind: KindCompiled, Addr: firstAddr(output), Duration: time.Since(start)})

	return output, nil
}

// fail records the terminal failure of one path, naming it in the error so
// a top-level caller sees the full chain of involved path ids.
func (m *Manager) fail(id respath.ID, err error) error {
	wrapped := fmt.Errorf("load %s: %w", id, err)
	m.record(Completion{Path: id, Kind: KindFailed, Err: wrapped})

	return wrapped
}

// versionHash computes the cache key of one path bottom-up from raw source
// content. It never reads runtime references and never reuses a hash
// recorded by an earlier compile.
func (m *Manager) versionHash(ctx context.Context, id respath.ID, s *session) (hash.VersionHash, error) {
	key := id.String()

	if h, ok := s.hash(key); ok {
		return h, nil
	}

	transform, ok := id.LastTransform()
	if !ok {
		_, contentHash, err := m.source.ReadFile(ctx, id.SourceResource())
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", id, err)
		}

		h := hash.VersionHash(contentHash)
		s.setHash(key, h)

		return h, nil
	}

	stub, found := m.registry.FindCompiler(transform)
	if !found {
		return "", fmt.Errorf("hash %s: %w: %s", id, compiler.ErrCompilerNotFound, transform)
	}

	compilerHash, err := stub.CompilerHash(transform, m.params)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", id, err)
	}

	input, _ := id.PathDependency()
	buildDeps := []respath.ID{input}

	declared, err := m.source.Dependencies(ctx, id.SourceResource())
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", id, err)
	}

	buildDeps = append(buildDeps, declared...)

	depHashes := make([]hash.ContentHash, 0, len(buildDeps))

	for _, dep := range buildDeps {
		depHash, err := m.versionHash(ctx, dep.ToUnnamed(), s)
		if err != nil {
			return "", err
		}

		depHashes = append(depHashes, hash.ContentHash(depHash))
	}

	h := hash.Version(compilerHash, depHashes)
	s.setHash(key, h)

	return h, nil
}

func firstAddr(output compiler.Output) contentstore.Address {
	if len(output.Contents) == 0 {
		return ""
	}

	return output.Contents[0].Addr
}
