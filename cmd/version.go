package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/cardano-indexer/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of cardano-indexer.",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Version: %s\nCommit: %s\nOS/Arch: %s/%s\n",
			version.Release, version.GitCommit, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
