package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbeaudouin05/stripe-subscriptions/api/config"
	"github.com/tbeaudouin05/stripe-subscriptions/api/database"
	"github.com/tbeaudouin05/stripe-subscriptions/api/logger"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: runMigrate(database.MigrateUp)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", RunE: runMigrate(database.MigrateDown)},
		&cobra.Command{Use: "status", Short: "Show migration status", RunE: runMigrate(database.MigrateStatus)},
	)
	return cmd
}

func runMigrate(step func(ctx context.Context, db *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Setup(cfg.LogLevel, cfg.LogFormat)

		db, err := database.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		return step(cmd.Context(), db)
	}
}
