// Package remote packages compiler invocations for out-of-process or
// out-of-host execution and unpacks their results.
//
// An invocation travels as a single self-contained tar.gz archive: the
// compiler executable, the raw bytes of every build dependency re-rooted to
// relative paths, the compiled bytes of every derived dependency addressed
// by checksum, and a build.json manifest describing the invocation. The
// result travels back the same way, as compiled blobs plus an output.json
// manifest.
package remote

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/respath"
)

// Archive layout.
const (
	buildScriptName  = "build.json"
	outputScriptName = "output.json"
	binDir           = "bin"
	resourceDir      = "resources"
	casDir           = "cas"
)

// BuildScript is the manifest at the root of an invocation archive.
type BuildScript struct {
	// Path is the resource path id being compiled.
	Path respath.ID `json:"path"`

	// Executable is the compiler's file name under bin/.
	Executable string `json:"executable"`

	// Deps lists the build dependencies and their archive-relative
	// resource files.
	Deps []ScriptDep `json:"deps,omitempty"`

	// DerivedDeps lists earlier stages' outputs by checksum.
	DerivedDeps []compiler.Content `json:"derived_deps,omitempty"`

	// Params is the compilation parameter snapshot.
	Params config.Params `json:"params"`
}

// ScriptDep names one build dependency inside the archive.
type ScriptDep struct {
	// Path is the dependency's resource path id.
	Path respath.ID `json:"path"`

	// Files are the dependency's files relative to resources/.
	Files []string `json:"files"`
}

// CollectLocalResources packages a compiler invocation into a
// self-contained archive.
//
// Build dependency files are read from projectDir and re-rooted to paths
// relative to the archive's resources/ directory, discarding the local
// absolute prefix. Derived dependency blobs are read from store and placed
// under cas/ by checksum.
func CollectLocalResources(ctx context.Context, executable, projectDir string, store contentstore.Store, pathID respath.ID, buildDeps []respath.ID, derivedDeps []compiler.Content, params config.Params) ([]byte, error) {
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	script := BuildScript{
		Path:        pathID,
		Executable:  filepath.Base(executable),
		DerivedDeps: derivedDeps,
		Params:      params,
	}

	// the compiler executable
	binData, err := os.ReadFile(executable)
	if err != nil {
		return nil, execErr(ctx, KindIO, "read compiler executable", err)
	}

	if err := writeTarFile(tw, path.Join(binDir, script.Executable), binData, 0o755); err != nil {
		return nil, execErr(ctx, KindPack, "pack compiler executable", err)
	}

	// raw bytes of every build dependency, re-rooted
	seen := make(map[string]bool)

	for _, dep := range buildDeps {
		guid := dep.SourceResource().String()
		if seen[guid] {
			continue
		}

		seen[guid] = true

		files := []string{guid}

		data, err := os.ReadFile(filepath.Join(projectDir, guid))
		if err != nil {
			return nil, execErr(ctx, KindIO, fmt.Sprintf("read build dependency %s", dep), err)
		}

		if err := writeTarFile(tw, path.Join(resourceDir, guid), data, 0o644); err != nil {
			return nil, execErr(ctx, KindPack, "pack build dependency", err)
		}

		if meta, err := os.ReadFile(filepath.Join(projectDir, guid+".meta")); err == nil {
			if err := writeTarFile(tw, path.Join(resourceDir, guid+".meta"), meta, 0o644); err != nil {
				return nil, execErr(ctx, KindPack, "pack build dependency metadata", err)
			}

			files = append(files, guid+".meta")
		}

		script.Deps = append(script.Deps, ScriptDep{Path: dep, Files: files})
	}

	// derived dependency blobs, content-addressed by checksum
	for _, dep := range derivedDeps {
		data, err := store.Read(ctx, dep.Addr)
		if err != nil {
			return nil, execErr(ctx, KindIO, fmt.Sprintf("read derived dependency %s", dep.Path), err)
		}

		if err := writeTarFile(tw, path.Join(casDir, dep.Addr.String()), data, 0o644); err != nil {
			return nil, execErr(ctx, KindPack, "pack derived dependency", err)
		}
	}

	manifest, err := json.MarshalIndent(script, "", "  ")
	if err != nil {
		return nil, execErr(ctx, KindPack, "encode build script", err)
	}

	if err := writeTarFile(tw, buildScriptName, manifest, 0o644); err != nil {
		return nil, execErr(ctx, KindPack, "pack build script", err)
	}

	if err := tw.Close(); err != nil {
		return nil, execErr(ctx, KindPack, "finish archive", err)
	}

	if err := gz.Close(); err != nil {
		return nil, execErr(ctx, KindPack, "finish archive", err)
	}

	return buf.Bytes(), nil
}

// UnpackOutput parses a result archive into the compilation output and the
// compiled blobs keyed by address.
func UnpackOutput(archive []byte) (compiler.Output, map[contentstore.Address][]byte, error) {
	var output compiler.Output

	blobs := make(map[contentstore.Address][]byte)
	sawManifest := false

	err := readArchive(archive, func(name string, data []byte) error {
		switch {
		case name == outputScriptName:
			sawManifest = true
			return json.Unmarshal(data, &output)
		case path.Dir(name) == casDir:
			blobs[contentstore.Address(path.Base(name))] = data
		}

		return nil
	})
	if err != nil {
		return compiler.Output{}, nil, err
	}

	if !sawManifest {
		return compiler.Output{}, nil, fmt.Errorf("output archive has no %s", outputScriptName)
	}

	return output, blobs, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte, mode int64) error {
	if err := tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: mode,
		Size: int64(len(data)),
	}); err != nil {
		return err
	}

	_, err := tw.Write(data)

	return err
}

// readArchive streams every regular file of a tar.gz archive to fn.
func readArchive(archive []byte, fn func(name string, data []byte) error) error {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("invalid archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("invalid archive: %w", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("invalid archive entry %s: %w", hdr.Name, err)
		}

		if err := fn(path.Clean(hdr.Name), data); err != nil {
			return err
		}
	}
}
