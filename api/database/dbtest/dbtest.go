// Package dbtest opens a migrated test database for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	config "github.com/tbeaudouin05/stripe-subscriptions/api/config"
	database "github.com/tbeaudouin05/stripe-subscriptions/api/database"
)

// Open returns a migrated connection to the configured database. The test is
// skipped in -short mode or when no database is configured.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in -short mode")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Skipf("database not configured: %v", err)
	}
	// Prevent tests from running against production database
	config.CheckNotProdDB()

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := database.MigrateUp(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
