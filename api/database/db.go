package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	dsn := withBinaryParameters(databaseURL)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Request handlers and webhooks run concurrently and only contend on
	// row-level locks, so a small pool is enough.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// withBinaryParameters appends binary_parameters=yes to the DSN if not present.
// lib/pq then sends parameters inline instead of preparing unnamed statements,
// which keeps it working behind PgBouncer transaction pooling. Only keys that
// lib/pq consumes itself may be added here: anything else is forwarded to the
// server as a startup parameter and rejected.
func withBinaryParameters(dsn string) string {
	if strings.Contains(strings.ToLower(dsn), "binary_parameters=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "binary_parameters=yes"
}
