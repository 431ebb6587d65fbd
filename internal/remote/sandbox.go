package remote

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// ExecuteSandboxCompiler runs an invocation archive in an ephemeral scratch
// directory and returns the result archive.
//
// The scratch directory is removed when the call returns, success or
// failure; it never leaks across invocations. Failures of extraction, of
// the compile step and of repacking all surface as ExecError; none are
// retried here - retry policy belongs to the caller.
func ExecuteSandboxCompiler(ctx context.Context, archive []byte) ([]byte, error) {
	scratch, err := os.MkdirTemp("", "databuild-sandbox-")
	if err != nil {
		return nil, execErr(ctx, KindIO, "create scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	if err := extractTo(scratch, archive); err != nil {
		return nil, execErr(ctx, KindExtract, "extract invocation archive", err)
	}

	// the compiler expects the content store subfolder to exist
	scratchCAS := filepath.Join(scratch, casDir)
	if err := os.MkdirAll(scratchCAS, 0o755); err != nil {
		return nil, execErr(ctx, KindIO, "create scratch content store", err)
	}

	scriptData, err := os.ReadFile(filepath.Join(scratch, buildScriptName))
	if err != nil {
		return nil, execErr(ctx, KindExtract, "read build script", err)
	}

	var script BuildScript
	if err := json.Unmarshal(scriptData, &script); err != nil {
		return nil, execErr(ctx, KindExtract, "parse build script", err)
	}

	args := []string{
		"compile", script.Path.String(),
		"--target=" + script.Params.Target,
		"--platform=" + script.Params.Platform,
		"--locale=" + script.Params.Locale,
		"--output=" + scratchCAS,
		"--project=" + filepath.Join(scratch, resourceDir),
	}

	for _, flag := range script.Params.FeatureFlags {
		args = append(args, "--feature="+flag)
	}

	for _, dep := range script.Deps {
		args = append(args, "--deps="+dep.Path.String())
	}

	for _, dep := range script.DerivedDeps {
		args = append(args, fmt.Sprintf("--derdeps=%s@%s", dep.Path, dep.Addr))
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, filepath.Join(scratch, binDir, script.Executable), args...)
	cmd.Dir = scratch
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		execError := execErr(ctx, KindCompile, "run compiler", err)
		execError.Stdout = stdout.String()
		execError.Stderr = stderr.String()

		return nil, execError
	}

	// the compiler prints its output manifest to stdout
	manifest := stdout.Bytes()

	var output struct {
		Contents []struct {
			Addr string `json:"addr"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(manifest, &output); err != nil {
		execError := execErr(ctx, KindCompile, "parse compiler output", err)
		execError.Stdout = stdout.String()
		execError.Stderr = stderr.String()

		return nil, execError
	}

	// repack: output manifest plus one blob per compiled checksum
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := writeTarFile(tw, outputScriptName, manifest, 0o644); err != nil {
		return nil, execErr(ctx, KindPack, "pack output manifest", err)
	}

	packed := make(map[string]bool)

	for _, content := range output.Contents {
		if packed[content.Addr] {
			continue
		}

		packed[content.Addr] = true

		data, err := os.ReadFile(filepath.Join(scratchCAS, content.Addr))
		if err != nil {
			return nil, execErr(ctx, KindPack, fmt.Sprintf("read compiled blob %s", content.Addr), err)
		}

		if err := writeTarFile(tw, path.Join(casDir, content.Addr), data, 0o644); err != nil {
			return nil, execErr(ctx, KindPack, "pack compiled blob", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, execErr(ctx, KindPack, "finish output archive", err)
	}

	if err := gz.Close(); err != nil {
		return nil, execErr(ctx, KindPack, "finish output archive", err)
	}

	return buf.Bytes(), nil
}

// extractTo unpacks a tar.gz archive under dir, rejecting entries that
// would escape it.
func extractTo(dir string, archive []byte) error {
	return readArchive(archive, func(name string, data []byte) error {
		if path.IsAbs(name) || strings.HasPrefix(name, "..") {
			return fmt.Errorf("archive entry %q escapes the sandbox", name)
		}

		target := filepath.Join(dir, filepath.FromSlash(name))

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		mode := os.FileMode(0o644)
		if path.Dir(name) == binDir {
			mode = 0o755
		}

		return os.WriteFile(target, data, mode)
	})
}
