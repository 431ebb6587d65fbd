// Package config loads the build configuration and the per-session
// compilation parameters.
package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"
)

// DataBuildVersion is the version of the data pipeline itself. Changing it
// invalidates every compiler hash and therefore every cached artifact.
const DataBuildVersion = "0.3.0"

// Default configuration values
const (
	DefaultTarget   = "game"
	DefaultPlatform = "linux"
	DefaultLocale   = "en"
	DefaultCacheDir = ".databuild-cache"
	DefaultStoreDir = ".databuild-cas"
	DefaultVerbose  = false
)

var validTargets = map[string]bool{"game": true, "server": true}

var validPlatforms = map[string]bool{"windows": true, "linux": true, "macos": true}

// Params is the compilation parameter snapshot applied uniformly to one
// build session. Every compiler hash is a function of it; it must not change
// for the lifetime of a session.
type Params struct {
	// Target is the output build flavor (game, server).
	Target string

	// Platform is the output platform (windows, linux, macos).
	Platform string

	// Locale is the output language/region.
	Locale string

	// FeatureFlags are free-form build switches, sorted for hash stability.
	FeatureFlags []string

	// DataBuildVersion is the pipeline version baked into every hash.
	DataBuildVersion string
}

// Config holds the full configuration for a databuild invocation.
type Config struct {
	// Params is the hash-relevant compilation parameter snapshot.
	Params Params

	// ProjectDir is the root of the source resource project.
	ProjectDir string

	// CacheDir holds the build database.
	CacheDir string

	// StoreDir is the root of the content-addressed store.
	StoreDir string

	// CompilerDirs are searched for external compiler executables.
	CompilerDirs []string

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Params: Params{
			Target:           viper.GetString("target"),
			Platform:         viper.GetString("platform"),
			Locale:           viper.GetString("locale"),
			FeatureFlags:     viper.GetStringSlice("feature_flags"),
			DataBuildVersion: DataBuildVersion,
		},
		ProjectDir:   viper.GetString("project"),
		CacheDir:     viper.GetString("cache_dir"),
		StoreDir:     viper.GetString("cas"),
		CompilerDirs: viper.GetStringSlice("compiler_dirs"),
		Verbose:      viper.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.Params.Target == "" {
		cfg.Params.Target = DefaultTarget
	}

	if cfg.Params.Platform == "" {
		cfg.Params.Platform = DefaultPlatform
	}

	if cfg.Params.Locale == "" {
		cfg.Params.Locale = DefaultLocale
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}

	if cfg.StoreDir == "" {
		cfg.StoreDir = DefaultStoreDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !validTargets[c.Params.Target] {
		return fmt.Errorf("invalid target: %s", c.Params.Target)
	}

	if !validPlatforms[c.Params.Platform] {
		return fmt.Errorf("invalid platform: %s", c.Params.Platform)
	}

	// Feature flags are sorted so flag order never changes the hash.
	sort.Strings(c.Params.FeatureFlags)

	// Resolve directories to absolute paths
	for _, dir := range []*string{&c.ProjectDir, &c.CacheDir, &c.StoreDir} {
		if *dir == "" {
			continue
		}

		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("invalid directory path %q: %w", *dir, err)
		}

		*dir = abs
	}

	for i, dir := range c.CompilerDirs {
		if dir != "" {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("invalid compiler directory %q: %w", dir, err)
			}

			c.CompilerDirs[i] = abs
		}
	}

	return nil
}
