package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
	"github.com/forgekit/databuild/internal/sourcectrl"
)

// mockCommander implements Commander interface for testing
type mockCommander struct {
	runFunc func() error
}

func (m *mockCommander) Run() error {
	return m.runFunc()
}

func testParams() config.Params {
	return config.Params{Target: "game", Platform: "linux", Locale: "en", DataBuildVersion: config.DataBuildVersion}
}

func textureDescriptor(t *testing.T) Descriptor {
	t.Helper()

	return Descriptor{
		Name:        "texture",
		Transform:   "tex2bin",
		CodeVersion: "1",
		DataVersion: "1",
		CompileFunc: func(ctx context.Context, req Request) (Output, error) {
			data, err := req.ReadInput(ctx)
			if err != nil {
				return Output{}, err
			}

			content, err := req.StoreContent(ctx, req.Path, append([]byte("bin:"), data...), nil)
			if err != nil {
				return Output{}, err
			}

			return Output{Contents: []Content{content}}, nil
		},
	}
}

func TestInProcessCompile(t *testing.T) {
	source := sourcectrl.NewMemory()
	guid := uuid.New()
	source.Put(guid, []byte("raw pixels"))

	store := contentstore.NewMemory()
	stub := NewInProcess(textureDescriptor(t))
	path := respath.FromSource(guid).Push("tex2bin")

	output, err := stub.Compile(context.Background(), Request{
		Path:   path,
		Store:  store,
		Source: source,
		Params: testParams(),
	})
	require.NoError(t, err)
	require.Len(t, output.Contents, 1)

	data, err := store.Read(context.Background(), output.Contents[0].Addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("bin:raw pixels"), data)
	assert.Equal(t, len(data), output.Contents[0].Size)
}

func TestInProcessCompileWrongTransform(t *testing.T) {
	stub := NewInProcess(textureDescriptor(t))
	path := respath.FromSource(uuid.New()).Push("mat2bin")

	_, err := stub.Compile(context.Background(), Request{Path: path})
	assert.ErrorIs(t, err, ErrCompilerNotFound)
}

func TestInProcessCompilerHash(t *testing.T) {
	desc := textureDescriptor(t)
	stub := NewInProcess(desc)

	got, err := stub.CompilerHash("tex2bin", testParams())
	require.NoError(t, err)
	assert.Equal(t, hash.Compiler("tex2bin", "1", "1", testParams()), got)

	_, err = stub.CompilerHash("mat2bin", testParams())
	assert.ErrorIs(t, err, ErrCompilerNotFound)

	desc.CompilerHashFunc = func(codeVersion, dataVersion string, params config.Params) hash.CompilerHash {
		return "fixed"
	}

	got, err = NewInProcess(desc).CompilerHash("tex2bin", testParams())
	require.NoError(t, err)
	assert.Equal(t, hash.CompilerHash("fixed"), got)
}

func TestRequestReadInputFromDerivedDep(t *testing.T) {
	store := contentstore.NewMemory()
	ctx := context.Background()

	addr, err := store.Write(ctx, []byte("stage one output"))
	require.NoError(t, err)

	base := respath.FromSource(uuid.New()).Push("tex2bin")

	req := Request{
		Path:        base.Push("atlas"),
		DerivedDeps: []Content{{Path: base, Addr: addr, Size: 16}},
		Store:       store,
	}

	data, err := req.ReadInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("stage one output"), data)
}

func TestRequestReadInputMissing(t *testing.T) {
	base := respath.FromSource(uuid.New()).Push("tex2bin")

	req := Request{Path: base.Push("atlas")}

	_, err := req.ReadInput(context.Background())
	assert.Error(t, err)
}

func TestRegistryFirstRegisteredWins(t *testing.T) {
	first := textureDescriptor(t)
	second := textureDescriptor(t)
	second.Name = "texture-v2"

	a := NewInProcess(first)
	b := NewInProcess(second)

	registry := NewRegistry(a, b)

	stub, ok := registry.FindCompiler("tex2bin")
	require.True(t, ok)
	assert.Same(t, a, stub)

	assert.Len(t, registry.Infos(), 2)
}

func TestRegistryMissIsNotAnError(t *testing.T) {
	registry := NewRegistry(NewInProcess(textureDescriptor(t)))

	_, ok := registry.FindCompiler("sound2bin")
	assert.False(t, ok)
}

func TestRegistryInitExtendsOptions(t *testing.T) {
	desc := textureDescriptor(t)
	desc.InitFunc = func(opts Options) Options {
		return opts.WithLoader("tex2bin", func(data []byte) (any, error) {
			return string(data), nil
		})
	}

	registry := NewRegistry(NewInProcess(desc))

	loader, ok := registry.Options().Loaders["tex2bin"]
	require.True(t, ok)

	v, err := loader([]byte("decoded"))
	require.NoError(t, err)
	assert.Equal(t, "decoded", v)
}

func TestListCompilers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses unix executable bits")
	}

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "compiler-tex2bin"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compiler-notes.txt"), []byte("plain file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme"), []byte("not a compiler"), 0o755))

	found := ListCompilers([]string{dir})

	names := make([]string, 0, len(found))
	for _, loc := range found {
		if filepath.Dir(loc.Path) == dir {
			names = append(names, loc.Name)
		}
	}

	assert.Equal(t, []string{"tex2bin"}, names)
}

func externalWithOutput(t *testing.T, stdout string, runErr error) (*External, *[][]string) {
	t.Helper()

	ext := NewExternal("/opt/compilers/compiler-tex2bin", "/var/cas")

	var calls [][]string

	ext.execCommand = func(ctx context.Context, name string, args ...string) (Commander, *bytes.Buffer, *bytes.Buffer) {
		var out, errBuf bytes.Buffer

		calls = append(calls, append([]string{name}, args...))

		return &mockCommander{runFunc: func() error {
			if runErr != nil {
				errBuf.WriteString("texture is corrupt\n")
				return runErr
			}

			out.WriteString(stdout)

			return nil
		}}, &out, &errBuf
	}

	return ext, &calls
}

func TestExternalInfo(t *testing.T) {
	ext, calls := externalWithOutput(t,
		`[{"name":"texture","transform":"tex2bin","build_version":"0.3.0","code_version":"2","data_version":"1"}]`, nil)

	infos := ext.Info()
	require.Len(t, infos, 1)
	assert.Equal(t, respath.Transform("tex2bin"), infos[0].Transform)
	assert.Equal(t, "2", infos[0].CodeVersion)

	// cached after the first probe
	ext.Info()
	assert.Len(t, *calls, 1)
	assert.Equal(t, []string{"/opt/compilers/compiler-tex2bin", "info"}, (*calls)[0])
}

func TestExternalInfoSharedAcrossGoroutines(t *testing.T) {
	ext, calls := externalWithOutput(t,
		`[{"name":"texture","transform":"tex2bin","build_version":"0.3.0","code_version":"2","data_version":"1"}]`, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, ext.Info(), 1)
		}()
	}
	wg.Wait()

	// concurrent callers share a single probe of the executable
	assert.Len(t, *calls, 1)
}

func TestExternalCompilerHash(t *testing.T) {
	ext, calls := externalWithOutput(t, `{"compiler_hash":"abc123"}`, nil)

	got, err := ext.CompilerHash("tex2bin", config.Params{
		Target: "game", Platform: "linux", Locale: "en", FeatureFlags: []string{"hdr"},
	})
	require.NoError(t, err)
	assert.Equal(t, hash.CompilerHash("abc123"), got)

	require.Len(t, *calls, 1)
	assert.Equal(t, []string{
		"/opt/compilers/compiler-tex2bin",
		"compiler_hash",
		"--transform=tex2bin",
		"--target=game",
		"--platform=linux",
		"--locale=en",
		"--feature=hdr",
	}, (*calls)[0])
}

func TestExternalCompile(t *testing.T) {
	source := uuid.New()
	path := respath.FromSource(source).Push("tex2bin")
	addr := contentstore.AddressOf([]byte("compiled"))

	manifest := fmt.Sprintf(`{"contents":[{"path":"%s","addr":"%s","size":8}]}`, path, addr)

	ext, calls := externalWithOutput(t, manifest, nil)

	output, err := ext.Compile(context.Background(), Request{
		Path:       path,
		BuildDeps:  []respath.ID{respath.FromSource(source)},
		ProjectDir: "/work/project",
		Params:     testParams(),
	})
	require.NoError(t, err)
	require.Len(t, output.Contents, 1)
	assert.True(t, output.Contents[0].Path.Equal(path))
	assert.Equal(t, addr, output.Contents[0].Addr)

	require.Len(t, *calls, 1)
	args := (*calls)[0]
	assert.Equal(t, "compile", args[1])
	assert.Equal(t, path.String(), args[2])
	assert.Contains(t, args, "--output=/var/cas")
	assert.Contains(t, args, "--project=/work/project")
	assert.Contains(t, args, "--deps="+respath.FromSource(source).String())
}

func TestExternalCompileFailure(t *testing.T) {
	path := respath.FromSource(uuid.New()).Push("tex2bin")

	ext, _ := externalWithOutput(t, "", errors.New("exit status 6"))

	_, err := ext.Compile(context.Background(), Request{Path: path, Params: testParams()})
	require.Error(t, err)

	var compilationError *CompilationError
	require.ErrorAs(t, err, &compilationError)
	assert.Equal(t, respath.Transform("tex2bin"), compilationError.Transform)
	assert.Contains(t, compilationError.Diagnostic, "texture is corrupt")
}

func TestExternalCompileRejectsSourcePath(t *testing.T) {
	ext, _ := externalWithOutput(t, "", nil)

	_, err := ext.Compile(context.Background(), Request{Path: respath.FromSource(uuid.New())})
	assert.Error(t, err)
}
