package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgekit/databuild/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "databuild",
	Short:        "Incremental game data compiler",
	Long:         `Compiles source resources into runtime assets through chains of data compilers, reusing previously compiled artifacts wherever content and configuration are unchanged.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().StringP("target", "t", "", "Build target (game, server)")
	rootCmd.PersistentFlags().StringP("platform", "p", "", "Output platform (windows, linux, macos)")
	rootCmd.PersistentFlags().StringP("locale", "l", "", "Output locale")
	rootCmd.PersistentFlags().String("project", "", "Project directory holding source resources")
	rootCmd.PersistentFlags().String("cas", "", "Content-addressed store directory")
	rootCmd.PersistentFlags().String("cache-dir", "", "Build database directory")
	rootCmd.PersistentFlags().StringSlice("compiler-dir", []string{}, "Directories searched for compiler executables")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(compilersCmd)
	rootCmd.AddCommand(statsCmd)
}
