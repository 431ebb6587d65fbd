package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgekit/databuild/internal/compiler"
	"github.com/forgekit/databuild/internal/config"
)

var compilersCmd = &cobra.Command{
	Use:          "compilers",
	Short:        "List discovered data compilers",
	Long:         `Searches the configured compiler directories and the working directory for compiler executables and prints the transformations each one implements.`,
	RunE:         runCompilers,
	SilenceUsage: true,
}

func runCompilers(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForBuild(cmd, args)
	if err != nil {
		return err
	}

	locations := compiler.ListCompilers(cfg.CompilerDirs)
	if len(locations) == 0 {
		fmt.Println("no compilers found")
		return nil
	}

	for _, loc := range locations {
		stub := compiler.NewExternal(loc.Path, cfg.StoreDir)

		infos := stub.Info()
		if len(infos) == 0 {
			fmt.Printf("%-24s  (no info reported)  %s\n", loc.Name, loc.Path)
			continue
		}

		for _, info := range infos {
			fmt.Printf("%-24s  %-16s  code %-6s data %-6s  %s\n",
				info.Name, info.Transform, info.CodeVersion, info.DataVersion, loc.Path)
		}
	}

	return nil
}
