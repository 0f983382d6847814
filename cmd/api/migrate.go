package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/store/postgres"
)

func newMigrateCmd(g *globals) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.Database.URL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if !status {
				if err := postgres.Migrate(cmd.Context(), db); err != nil {
					return err
				}
			}
			version, err := postgres.MigrationVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			log.Info("database schema", zap.Int64("version", version), zap.Bool("applied", !status))
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Print the current schema version without migrating")
	return cmd
}
