package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgekit/databuild/internal/builddb"
	"github.com/forgekit/databuild/internal/config"
	"github.com/forgekit/databuild/internal/contentstore"
	"github.com/forgekit/databuild/internal/utils"
)

var statsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show build database and content store statistics",
	RunE:         runStats,
	SilenceUsage: true,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForBuild(cmd, args)
	if err != nil {
		return err
	}

	db, err := builddb.Open(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.Stats()
	if err != nil {
		return err
	}

	store, err := contentstore.OpenHDD(cfg.StoreDir)
	if err != nil {
		return err
	}

	size, err := store.Size()
	if err != nil {
		return err
	}

	fmt.Printf("Build database: %s\n", cfg.CacheDir)
	fmt.Printf("  entries: %d\n", entries)
	fmt.Printf("Content store: %s\n", cfg.StoreDir)
	fmt.Printf("  size: %s\n", utils.FormatBytes(size))

	return nil
}
