package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/persistence"
)

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations (or roll back the latest with --down)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadBase()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			if pg.Pool == nil {
				return errors.New("POSTGRES_DSN is required for migrations")
			}

			if down {
				return persistence.RollbackMigration(ctx, pg.PoolHandle(), logger)
			}
			return persistence.RunMigrations(ctx, pg.PoolHandle(), logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}
