package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cswenor/conductor/internal/config"
	"github.com/cswenor/conductor/internal/db"
)

// newMigrateCmd creates the migrate command.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply all pending schema migrations to the configured database.

serve migrates on startup as well; this command exists for deployments that
run migrations as a separate step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			database, err := db.OpenWithDialect(cfg.Database.DSN, cfg.Dialect())
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := database.Migrate(); err != nil {
				return err
			}
			fmt.Printf("Migrations applied (%s: %s)\n", cfg.Database.Dialect, cfg.Database.DSN)
			return nil
		},
	}
}
