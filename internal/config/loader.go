package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForBuild loads configuration specifically for build operations
func (l *Loader) LoadForBuild(cmd *cobra.Command, args []string) (*Config, error) {
	l.setupViperDefaults()

	// flags bind first so --project steers local config discovery; bound
	// flags outrank config file values either way
	l.bindCommandFlags(cmd)
	l.loadGlobalConfig()
	l.loadLocalConfig()

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("target", DefaultTarget)
	viper.SetDefault("platform", DefaultPlatform)
	viper.SetDefault("locale", DefaultLocale)
	viper.SetDefault("cache_dir", DefaultCacheDir)
	viper.SetDefault("cas", DefaultStoreDir)
	viper.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(configDir, "databuild")

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig loads local configuration from the project directory
func (l *Loader) loadLocalConfig() {
	dir := viper.GetString("project")
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return // config.Load() will handle validation
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}

	localPath := FindLocalConfig(abs)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.ReadInConfig()
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for _, flag := range []string{"target", "platform", "locale", "project", "cas", "cache-dir", "compiler-dir", "verbose"} {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}

		key := flag
		switch flag {
		case "cache-dir":
			key = "cache_dir"
		case "compiler-dir":
			key = "compiler_dirs"
		}

		_ = viper.BindPFlag(key, f)
	}
}
