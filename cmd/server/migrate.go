package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/trip-approval/migrations"
	"github.com/garyjia/trip-approval/pkg/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back to --to (0 removes the schema)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *database.Migrator) error {
				return m.DownTo(cmd.Context(), target)
			})
		},
	}
	down.Flags().Int64Var(&target, "to", 0, "schema version to roll back to")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *database.Migrator) error {
					return m.Up(cmd.Context())
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *database.Migrator) error {
					v, err := m.Version(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		},
	)
	return cmd
}

// withMigrator opens the configured database without starting the service
func withMigrator(cmd *cobra.Command, fn func(m *database.Migrator) error) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		BusyTimeout:     cfg.Database.BusyTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := database.NewMigrator(db, migrations.FS, logger)
	if err != nil {
		return err
	}
	return fn(m)
}
