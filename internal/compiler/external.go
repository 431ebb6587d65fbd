package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/forgekit/databuild/internal/codes"
	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

// executablePrefix is what compiler executables are named with: the
// transform name follows the prefix ("compiler-tex2bin").
const executablePrefix = "compiler-"

// Location names a discovered compiler executable.
type Location struct {
	// Name of the compiler, derived from the file name.
	Name string

	// Path is the executable's location.
	Path string
}

// ListCompilers returns the compiler executables found in dirs and the
// current working directory.
func ListCompilers(dirs []string) []Location {
	searchDirs := make([]string, 0, len(dirs)+1)
	searchDirs = append(searchDirs, dirs...)

	if cwd, err := os.Getwd(); err == nil {
		searchDirs = append(searchDirs, cwd)
	}

	var found []Location

	for _, dir := range searchDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasPrefix(name, executablePrefix) {
				continue
			}

			path := filepath.Join(dir, name)
			if !isExecutable(path) {
				continue
			}

			found = append(found, Location{
				Name: strings.TrimSuffix(strings.TrimPrefix(name, executablePrefix), filepath.Ext(name)),
				Path: path,
			})
		}
	}

	return found
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	return info.Mode().Perm()&0o111 != 0
}

// Commander interface for testing
type Commander interface {
	Run() error
}

// hashOutput is the stdout payload of the compiler_hash command.
type hashOutput struct {
	CompilerHash hash.CompilerHash `json:"compiler_hash"`
}

// External is a Stub that spawns a compiler executable and communicates
// through its CLI: JSON on stdout, diagnostics on stderr, non-zero exit
// code on failure.
type External struct {
	path        string
	storeDir    string
	execCommand func(ctx context.Context, name string, args ...string) (Commander, *bytes.Buffer, *bytes.Buffer)

	// infos is probed lazily from the executable's info command. The
	// mutex makes the probe safe for stubs shared across goroutines.
	infosMu sync.Mutex
	infos   []Info
}

// NewExternal wraps a compiler executable. storeDir is the content store
// root passed to the executable's compile command.
func NewExternal(path, storeDir string) *External {
	return &External{
		path:     path,
		storeDir: storeDir,
		execCommand: func(ctx context.Context, name string, args ...string) (Commander, *bytes.Buffer, *bytes.Buffer) {
			var stdout, stderr bytes.Buffer

			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			return cmd, &stdout, &stderr
		},
	}
}

// Info implements Stub. The executable's info command is invoked once and
// its JSON descriptor list cached; a broken executable reports no
// transformations.
func (s *External) Info() []Info {
	s.infosMu.Lock()
	defer s.infosMu.Unlock()

	if s.infos != nil {
		return s.infos
	}

	cmd, stdout, _ := s.execCommand(context.Background(), s.path, "info")
	if err := cmd.Run(); err != nil {
		return nil
	}

	var infos []Info
	if err := json.Unmarshal(stdout.Bytes(), &infos); err != nil {
		return nil
	}

	s.infos = infos

	return infos
}

// CompilerHash implements Stub.
func (s *External) CompilerHash(transform respath.Transform, params config.Params) (hash.CompilerHash, error) {
	args := []string{
		"compiler_hash",
		"--transform=" + string(transform),
	}
	args = append(args, paramArgs(params)...)

	cmd, stdout, stderr := s.execCommand(context.Background(), s.path, args...)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compiler %s hash query failed: %w: %s", s.path, err, stderr.String())
	}

	var out hashOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return "", fmt.Errorf("compiler %s returned invalid hash output: %w", s.path, err)
	}

	return out.CompilerHash, nil
}

// Init implements Stub. External compilers load artifacts through the
// default loaders.
func (s *External) Init(opts Options) Options {
	return opts
}

// Compile implements Stub. The executable writes artifacts straight into
// the shared content store and prints the output manifest to stdout.
func (s *External) Compile(ctx context.Context, req Request) (Output, error) {
	transform, ok := req.Path.LastTransform()
	if !ok {
		return Output{}, fmt.Errorf("cannot compile source resource %s", req.Path)
	}

	args := []string{"compile", req.Path.String()}
	args = append(args, paramArgs(req.Params)...)
	args = append(args,
		"--output="+s.storeDir,
		"--project="+req.ProjectDir,
	)

	for _, dep := range req.BuildDeps {
		args = append(args, "--deps="+dep.String())
	}

	for _, dep := range req.DerivedDeps {
		args = append(args, fmt.Sprintf("--derdeps=%s@%s", dep.Path, dep.Addr))
	}

	cmd, stdout, stderr := s.execCommand(ctx, s.path, args...)

	if err := cmd.Run(); err != nil {
		diagnostic := strings.TrimSpace(stderr.String())

		if exitErr, ok := err.(*exec.ExitError); ok {
			diagnostic = fmt.Sprintf("%s (exit code %d): %s",
				codes.GetErrorMessage(exitErr.ExitCode()), exitErr.ExitCode(), diagnostic)
		}

		return Output{}, &CompilationError{
			Transform:  transform,
			Path:       req.Path,
			Diagnostic: diagnostic,
		}
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Output{}, &CompilationError{
			Transform:  transform,
			Path:       req.Path,
			Diagnostic: fmt.Sprintf("invalid output manifest: %v", err),
		}
	}

	return out, nil
}

func paramArgs(params config.Params) []string {
	args := []string{
		"--target=" + params.Target,
		"--platform=" + params.Platform,
		"--locale=" + params.Locale,
	}

	for _, flag := range params.FeatureFlags {
		args = append(args, "--feature="+flag)
	}

	return args
}
