// Package hash computes the cache keys of the build pipeline.
//
// Two hashes feed every cache decision. The compiler hash captures a
// compiler's identity and configuration: its code version, its data format
// version and the compilation parameters. The version hash captures
// everything that could change one artifact's bytes: the content hashes of
// every build dependency combined with the compiler hash of the last
// transformation.
//
// All functions here are pure. Determinism across process restarts is what
// makes the build cache correct, so nothing below may depend on map
// iteration order, memory addresses or time.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"

	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/respath"
)

// ContentHash identifies the content of one source resource. Stable for
// unchanged content; changes whenever the bytes change.
type ContentHash string

// CompilerHash captures a compiler's observable behavior: two stubs with the
// same CompilerHash are interchangeable for caching purposes.
type CompilerHash string

// VersionHash is the cache key component of one derived artifact.
type VersionHash string

// record separator between hashed fields; keeps ("ab","c") and ("a","bc")
// from colliding.
const sep = "\x1f"

// Content hashes raw resource bytes.
func Content(data []byte) ContentHash {
	sum := sha256.Sum256(data)
	return ContentHash(hex.EncodeToString(sum[:]))
}

// Compiler computes the hash of a compiler's identity under the given
// parameters.
func Compiler(transform respath.Transform, codeVersion, dataVersion string, params config.Params) CompilerHash {
	h := sha256.New()

	writeField(h, string(transform))
	writeField(h, codeVersion)
	writeField(h, dataVersion)
	writeField(h, params.DataBuildVersion)
	writeField(h, params.Target)
	writeField(h, params.Platform)
	writeField(h, params.Locale)

	flags := make([]string, len(params.FeatureFlags))
	copy(flags, params.FeatureFlags)
	sort.Strings(flags)
	writeField(h, strings.Join(flags, sep))

	return CompilerHash(hex.EncodeToString(h.Sum(nil)))
}

// Version combines the content hashes of every build dependency with the
// compiler hash of the transformation producing the artifact.
//
// Dependency hashes are deduplicated and sorted so that discovery order
// never changes the result.
func Version(compiler CompilerHash, deps []ContentHash) VersionHash {
	unique := make(map[ContentHash]struct{}, len(deps))
	for _, d := range deps {
		unique[d] = struct{}{}
	}

	sorted := make([]string, 0, len(unique))
	for d := range unique {
		sorted = append(sorted, string(d))
	}

	sort.Strings(sorted)

	h := sha256.New()
	writeField(h, string(compiler))

	for _, d := range sorted {
		writeField(h, d)
	}

	return VersionHash(hex.EncodeToString(h.Sum(nil)))
}

func writeField(w io.Writer, field string) {
	io.WriteString(w, field)
	io.WriteString(w, sep)
}
