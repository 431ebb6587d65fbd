package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// atlasCompilerScript speaks the compiler CLI contract and appends one
// line to $COMPILE_LOG per compile so the tests can count invocations.
const atlasCompilerScript = `#!/bin/sh
cmd="$1"
shift
case "$cmd" in
  info)
    printf '[{"name":"atlas","transform":"atlas","build_version":"0.3.0","code_version":"1","data_version":"1"}]'
    ;;
  compiler_hash)
    sum=""
    for a in "$@"; do sum="$sum $a"; done
    printf '{"compiler_hash":"%s"}' "$(printf '%s' "$sum" | sha256sum | cut -d' ' -f1)"
    ;;
  compile)
    path="$1"
    out=""
    for a in "$@"; do case "$a" in --output=*) out="${a#--output=}";; esac; done
    printf 'packed atlas' > "$out/blob.tmp"
    sum=$(sha256sum "$out/blob.tmp" | cut -d' ' -f1)
    mv "$out/blob.tmp" "$out/$sum"
    echo compiled >> "$COMPILE_LOG"
    printf '{"contents":[{"path":"%s","addr":"%s","size":12}]}' "$path" "$sum"
    ;;
esac
`

func countLines(t *testing.T, path string) int {
	t.Helper()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}

	require.NoError(t, err)

	count := 0
	for _, b := range data {
		if b == '\n' {
			count++
		}
	}

	return count
}

func TestBuildCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script compiler")
	}

	dir := t.TempDir()

	projectDir := filepath.Join(dir, "project")
	compilerDir := filepath.Join(dir, "compilers")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	require.NoError(t, os.MkdirAll(compilerDir, 0o755))

	source := uuid.New()
	sourceFile := filepath.Join(projectDir, source.String())
	require.NoError(t, os.WriteFile(sourceFile, []byte("atlas layout"), 0o644))

	script := filepath.Join(compilerDir, "compiler-atlas")
	require.NoError(t, os.WriteFile(script, []byte(atlasCompilerScript), 0o755))

	compileLog := filepath.Join(dir, "compiles.log")
	t.Setenv("COMPILE_LOG", compileLog)

	manifestPath := filepath.Join(dir, "manifest.json")

	run := func() error {
		viper.Reset()
		rootCmd.SetArgs([]string{
			"build", source.String() + "|atlas",
			"--project", projectDir,
			"--cas", filepath.Join(dir, "cas"),
			"--cache-dir", filepath.Join(dir, "cache"),
			"--compiler-dir", compilerDir,
			"--manifest", manifestPath,
		})

		return rootCmd.Execute()
	}

	// first build compiles
	require.NoError(t, run())
	assert.Equal(t, 1, countLines(t, compileLog))

	var m manifest

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	require.Len(t, m.CompiledResources, 1)
	assert.Equal(t, source.String()+"|atlas", m.CompiledResources[0].Path.String())

	// unchanged source serves from the build database
	require.NoError(t, run())
	assert.Equal(t, 1, countLines(t, compileLog))

	// editing the source forces a recompile
	require.NoError(t, os.WriteFile(sourceFile, []byte("atlas layout v2"), 0o644))
	require.NoError(t, run())
	assert.Equal(t, 2, countLines(t, compileLog))
}

func TestBuildCommandRejectsMalformedPath(t *testing.T) {
	viper.Reset()
	rootCmd.SetArgs([]string{"build", "not-a-guid|atlas"})

	err := rootCmd.Execute()
	assert.Error(t, err)
}
