package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forgekit/databuild/internal/builddb"
	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/manager"
	"github.com/forgekit/databuild/internal/respath"
	"github.com/forgekit/databuild/internal/sourcectrl"
)

var buildCmd = &cobra.Command{
	Use:          "build <resource-path-id>",
	Short:        "Compile a resource",
	Long:         `Compile the resource named by a path id, such as "226a6160-e936-4c23-b2c9-e680a0a1a1d1|tex2bin". Cached artifacts are reused when nothing they depend on changed.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runBuild,
	SilenceUsage: true,
}

func init() {
	buildCmd.Flags().String("manifest", "", "Write a JSON manifest of the compiled resources")
}

// manifest is the machine-readable record of one build invocation.
type manifest struct {
	CompiledResources []compiler.Content `json:"compiled_resources"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	id, err := respath.Parse(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.NewLoader().LoadForBuild(cmd, args)
	if err != nil {
		return err
	}

	if cfg.ProjectDir == "" {
		return fmt.Errorf("project directory not specified")
	}

	logger, err := buildLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := builddb.Open(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	source, err := sourcectrl.OpenDir(cfg.ProjectDir)
	if err != nil {
		return err
	}

	mgr := manager.New(db, store, source, openRegistry(cfg), cfg, logger)

	output, err := mgr.Load(cmd.Context(), id)
	if err != nil {
		return err
	}

	for _, completion := range mgr.PopLog() {
		fmt.Printf("%-8s  %s\n", completion.Kind, completion.Path)
	}

	manifestPath, _ := cmd.Flags().GetString("manifest")
	if manifestPath != "" {
		data, err := json.MarshalIndent(manifest{CompiledResources: dedupeByPath(output.Contents)}, "", "  ")
		if err != nil {
			return err
		}

		if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}

	return nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}

	return zap.NewNop(), nil
}

func openStore(cfg *config.Config) (contentstore.Store, error) {
	hdd, err := contentstore.OpenHDD(cfg.StoreDir)
	if err != nil {
		return nil, err
	}

	return contentstore.NewCached(hdd, contentstore.DefaultCacheSize)
}

func dedupeByPath(contents []compiler.Content) []compiler.Content {
	seen := make(map[string]bool, len(contents))

	out := make([]compiler.Content, 0, len(contents))
	for _, c := range contents {
		if key := c.Path.String(); !seen[key] {
			seen[key] = true
			out = append(out, c)
		}
	}

	return out
}

// openRegistry discovers external compiler executables and wraps each as a
// registry stub.
func openRegistry(cfg *config.Config) *compiler.Registry {
	var stubs []compiler.Stub
	for _, loc := range compiler.ListCompilers(cfg.CompilerDirs) {
		stubs = append(stubs, compiler.NewExternal(loc.Path, cfg.StoreDir))
	}

	return compiler.NewRegistry(stubs...)
}
