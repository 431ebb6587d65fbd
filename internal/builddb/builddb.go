// Package builddb implements the build database: the cache mapping
// (resource path id, version hash) to a previously produced compilation
// output.
//
// Entries are append-only. They are never mutated and never deleted here;
// a change anywhere in a path's build inputs produces a new version hash
// and therefore a new key, superseding the old entry. Because a compile is
// a pure function of its inputs, concurrent stores of the same key are
// benign: the last writer wins and the content is identical by
// construction.
//
// Metadata lives in a single-file bbolt database under the cache
// directory; a bounded LRU keeps hot entries in memory. A cache hit is
// always trusted without re-verifying the content store - the trust
// boundary is the version hash.
package builddb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.etcd.io/bbolt"

	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/hash"
	"github.com/forgekit/databuild/internal/respath"
)

const (
	// DefaultCacheDir is the default cache directory name
	DefaultCacheDir = ".databuild-cache"

	// outputBucket keys (path id, version hash) to compilation outputs
	outputBucket = "outputs"

	// referenceBucket keys a path id to the runtime references recorded
	// by its most recent successful compile
	referenceBucket = "references"

	// entryCacheSize bounds the in-memory entry cache
	entryCacheSize = 512
)

// DB is the build database
type DB struct {
	db      *bbolt.DB
	root    string
	entries *lru.Cache[string, *Entry]
}

// Open opens the build database in cacheDir
// If cacheDir is empty, uses DefaultCacheDir in current working directory
func Open(cacheDir string) (*DB, error) {
	if cacheDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}

		cacheDir = filepath.Join(cwd, DefaultCacheDir)
	}

	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, "build.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open build database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{outputBucket, referenceBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create build database buckets: %w", err)
	}

	entries, err := lru.New[string, *Entry](entryCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{
		db:      db,
		root:    cacheDir,
		entries: entries,
	}, nil
}

// Close closes the build database
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}

	return nil
}

// Find retrieves the compilation output cached for (path, versionHash)
// Returns nil if cache miss
func (d *DB) Find(path respath.ID, versionHash hash.VersionHash) (*Entry, error) {
	key := entryKey(path, versionHash)

	if entry, ok := d.entries.Get(key); ok {
		return entry, nil
	}

	var entry *Entry
	err := d.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(outputBucket)).Get([]byte(key))
		if data == nil {
			return nil // Cache miss
		}

		entry = &Entry{}

		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read build database entry: %w", err)
	}

	if entry != nil {
		d.entries.Add(key, entry)
	}

	return entry, nil
}

// Store saves a compilation output under (path, versionHash). The write is
// atomic: a reader sees either the whole entry or none of it. Storing the
// same key twice is allowed; racing writers produce identical content.
func (d *DB) Store(path respath.ID, versionHash hash.VersionHash, output compiler.Output, loaded []respath.ID) error {
	entry := &Entry{
		Path:        path,
		VersionHash: versionHash,
		Output:      output,
		Loaded:      loaded,
		Timestamp:   time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode build database entry: %w", err)
	}

	references, err := json.Marshal(output.References())
	if err != nil {
		return fmt.Errorf("failed to encode references: %w", err)
	}

	key := entryKey(path, versionHash)

	err = d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(outputBucket)).Put([]byte(key), data); err != nil {
			return err
		}

		return tx.Bucket([]byte(referenceBucket)).Put([]byte(path.String()), references)
	})
	if err != nil {
		return fmt.Errorf("failed to store build database entry: %w", err)
	}

	d.entries.Add(key, entry)

	return nil
}

// References returns the runtime references recorded by the most recent
// successful compile of path. A path never compiled has none.
func (d *DB) References(path respath.ID) ([]respath.ID, error) {
	var refs []respath.ID

	err := d.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(referenceBucket)).Get([]byte(path.String()))
		if data == nil {
			return nil
		}

		return json.Unmarshal(data, &refs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read references for %s: %w", path, err)
	}

	return refs, nil
}

// Stats returns the number of cached compilation outputs
func (d *DB) Stats() (int, error) {
	var count int

	err := d.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(outputBucket)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// entryKey builds the bucket key for (path, versionHash). The separator
// cannot appear in either part.
func entryKey(path respath.ID, versionHash hash.VersionHash) string {
	return path.String() + "\x00" + string(versionHash)
}
