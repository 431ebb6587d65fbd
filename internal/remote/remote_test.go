package remote

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/respath"
)

// fakeCompilerScript implements the compiler CLI contract: it writes one
// blob into the --output directory, named by its sha256, and prints the
// output manifest to stdout.
const fakeCompilerScript = `#!/bin/sh
out=""
path=""
compile=0
for a in "$@"; do
  case "$a" in
    compile) compile=1 ;;
    --output=*) out="${a#--output=}" ;;
    --*) ;;
    *) if [ "$compile" = 1 ] && [ -z "$path" ]; then path="$a"; fi ;;
  esac
done
printf 'compiled bytes' > "$out/tmp.blob"
sum=$(sha256sum "$out/tmp.blob" | cut -d' ' -f1)
mv "$out/tmp.blob" "$out/$sum"
printf '{"contents":[{"path":"%s","addr":"%s","size":14}]}' "$path" "$sum"
`

const failingCompilerScript = `#!/bin/sh
echo "texture is corrupt" >&2
exit 6
`

const sleepingCompilerScript = `#!/bin/sh
sleep 10
`

func requireUnix(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("sandbox tests use shell script compilers")
	}
}

func writeScript(t *testing.T, dir, name, script string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func testSetup(t *testing.T, script string) (string, string, respath.ID, []respath.ID) {
	t.Helper()

	dir := t.TempDir()
	executable := writeScript(t, dir, "compiler-atlas", script)

	projectDir := filepath.Join(dir, "project")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	source := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, source.String()), []byte("atlas def"), 0o644))

	path := respath.FromSource(source).Push("atlas")

	return executable, projectDir, path, []respath.ID{respath.FromSource(source)}
}

func testParams() config.Params {
	return config.Params{Target: "game", Platform: "linux", Locale: "en", DataBuildVersion: config.DataBuildVersion}
}

func TestCollectLocalResourcesLayout(t *testing.T) {
	requireUnix(t)

	executable, projectDir, path, deps := testSetup(t, fakeCompilerScript)

	store := contentstore.NewMemory()
	ctx := context.Background()

	derivedAddr, err := store.Write(ctx, []byte("earlier stage output"))
	require.NoError(t, err)

	derived := []compiler.Content{{Path: path, Addr: derivedAddr, Size: 20}}

	archive, err := CollectLocalResources(ctx, executable, projectDir, store, path, deps, derived, testParams())
	require.NoError(t, err)

	entries := make(map[string][]byte)
	require.NoError(t, readArchive(archive, func(name string, data []byte) error {
		entries[name] = data
		return nil
	}))

	// executable, source file, derived blob and manifest, all re-rooted
	assert.Contains(t, entries, "bin/compiler-atlas")
	assert.Contains(t, entries, "resources/"+path.SourceResource().String())
	assert.Contains(t, entries, "cas/"+derivedAddr.String())
	require.Contains(t, entries, "build.json")

	var script BuildScript
	require.NoError(t, json.Unmarshal(entries["build.json"], &script))
	assert.True(t, script.Path.Equal(path))
	assert.Equal(t, "compiler-atlas", script.Executable)
	require.Len(t, script.Deps, 1)
	assert.Equal(t, []string{path.SourceResource().String()}, script.Deps[0].Files)
	require.Len(t, script.DerivedDeps, 1)
	assert.Equal(t, derivedAddr, script.DerivedDeps[0].Addr)
}

func TestExecuteSandboxCompiler(t *testing.T) {
	requireUnix(t)

	executable, projectDir, path, deps := testSetup(t, fakeCompilerScript)

	store := contentstore.NewMemory()
	ctx := context.Background()

	archive, err := CollectLocalResources(ctx, executable, projectDir, store, path, deps, nil, testParams())
	require.NoError(t, err)

	result, err := ExecuteSandboxCompiler(ctx, archive)
	require.NoError(t, err)

	output, blobs, err := UnpackOutput(result)
	require.NoError(t, err)
	require.Len(t, output.Contents, 1)
	assert.True(t, output.Contents[0].Path.Equal(path))

	blob, ok := blobs[output.Contents[0].Addr]
	require.True(t, ok, "result archive must carry the compiled blob")
	assert.Equal(t, []byte("compiled bytes"), blob)
	assert.Equal(t, contentstore.AddressOf(blob), output.Contents[0].Addr)
}

func TestExecuteSandboxCompilerFailure(t *testing.T) {
	requireUnix(t)

	executable, projectDir, path, deps := testSetup(t, failingCompilerScript)

	store := contentstore.NewMemory()
	ctx := context.Background()

	archive, err := CollectLocalResources(ctx, executable, projectDir, store, path, deps, nil, testParams())
	require.NoError(t, err)

	_, err = ExecuteSandboxCompiler(ctx, archive)
	require.Error(t, err)

	var execError *ExecError
	require.ErrorAs(t, err, &execError)
	assert.Equal(t, KindCompile, execError.Kind)
	assert.Contains(t, execError.Stderr, "texture is corrupt")
}

func TestSandboxCleanup(t *testing.T) {
	requireUnix(t)

	countScratchDirs := func() int {
		matches, err := filepath.Glob(filepath.Join(os.TempDir(), "databuild-sandbox-*"))
		require.NoError(t, err)

		return len(matches)
	}

	before := countScratchDirs()

	executable, projectDir, path, deps := testSetup(t, failingCompilerScript)

	store := contentstore.NewMemory()
	ctx := context.Background()

	archive, err := CollectLocalResources(ctx, executable, projectDir, store, path, deps, nil, testParams())
	require.NoError(t, err)

	_, err = ExecuteSandboxCompiler(ctx, archive)
	require.Error(t, err)

	assert.Equal(t, before, countScratchDirs(), "scratch directory must not leak on failure")
}

func TestStubCompile(t *testing.T) {
	requireUnix(t)

	executable, projectDir, path, deps := testSetup(t, fakeCompilerScript)

	store := contentstore.NewMemory()

	stub := NewStub(executable, "", SandboxExecutor{}, 0)

	output, err := stub.Compile(context.Background(), compiler.Request{
		Path:       path,
		BuildDeps:  deps,
		Store:      store,
		ProjectDir: projectDir,
		Params:     testParams(),
	})
	require.NoError(t, err)
	require.Len(t, output.Contents, 1)

	// the compiled blob landed in the local content store
	data, err := store.Read(context.Background(), output.Contents[0].Addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("compiled bytes"), data)
}

func TestStubTimeout(t *testing.T) {
	requireUnix(t)

	executable, projectDir, path, deps := testSetup(t, sleepingCompilerScript)

	store := contentstore.NewMemory()

	stub := NewStub(executable, "", SandboxExecutor{}, 100*time.Millisecond)

	_, err := stub.Compile(context.Background(), compiler.Request{
		Path:       path,
		BuildDeps:  deps,
		Store:      store,
		ProjectDir: projectDir,
		Params:     testParams(),
	})
	require.Error(t, err)

	var execError *ExecError
	require.ErrorAs(t, err, &execError)
	assert.Equal(t, KindTimeout, execError.Kind)
}

func TestUnpackOutputRejectsMissingManifest(t *testing.T) {
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	_, _, err := UnpackOutput(buf.Bytes())
	assert.ErrorContains(t, err, outputScriptName)

	_, _, err = UnpackOutput(nil)
	assert.Error(t, err)
}
