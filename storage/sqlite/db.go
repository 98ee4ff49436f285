// Package sqlite implements the run registry on SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the registry directory.
const FileName = "runs.db"

type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{version: 1, name: "runs", up: `
	CREATE TABLE IF NOT EXISTS runs (
		processing_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		store_kind TEXT NOT NULL,
		record TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`},
}

// openDB opens the database file in dir with WAL journaling and applies
// pending migrations.
func openDB(ctx context.Context, dir string, logger *slog.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	// modernc.org/sqlite uses the "sqlite" driver name
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("run registry opened", "path", path)
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if err := runMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration) error {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.up); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}
	return tx.Commit()
}
