package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "modhost",
	Short: "Hot-reloadable game module host",
	Long: `modhost loads game logic modules from shared libraries and swaps in
rebuilt binaries while the world keeps running.

Use "modhost [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
