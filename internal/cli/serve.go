package cli

import (
	"fmt"

	"github.com/ayo6706/wager-lobby/internal/app"
	"github.com/ayo6706/wager-lobby/internal/config"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, oracle subscriber and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if port != "" {
				cfg.HTTPPort = port
			}
			return app.Run(cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Override PORT")
	return cmd
}
