package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the lobby command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lobby",
		Short: "Skill wagering lobby server",
		Long: `lobby runs the wagering lobby API: wallets, match escrow, oracle
result ingestion and prize settlement.

Configuration is read from the environment (and a .env file if present).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTokenCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
