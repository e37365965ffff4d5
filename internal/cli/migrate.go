package cli

import (
	"fmt"

	"github.com/ayo6706/wager-lobby/internal/app"
	"github.com/ayo6706/wager-lobby/internal/config"
	"github.com/ayo6706/wager-lobby/internal/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	var (
		databaseURL string
		steps       int
	)

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back Postgres migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := app.NewLogger("info")
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			if databaseURL == "" {
				databaseURL = config.LoadDatabaseURL()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			switch direction {
			case "up":
				return db.Migrate(databaseURL)
			case "down":
				if err := db.MigrateDown(databaseURL, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			default:
				return fmt.Errorf("unknown direction %q, want up or down", direction)
			}
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres URL (env: DATABASE_URL)")
	cmd.Flags().IntVar(&steps, "steps", 1, "Migrations to roll back with down")
	return cmd
}
