// Package commands implements the Courier CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier - personal assistant control plane",
		Long: `Courier runs a personal assistant core: a channel router, a
session store, provider failover, and a WebSocket control plane for
operator clients.

Examples:
  courier serve
  courier serve --config ./courier.yaml
  courier health
  courier keyring set openai`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newHealthCmd(),
		newKeyringCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
