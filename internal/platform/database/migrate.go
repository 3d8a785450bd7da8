package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"relaypool/migrations"
)

// Migrate brings the schema up to date by applying every embedded *.up.sql
// file not yet recorded in schema_migrations, in lexical order. Each file
// runs in its own transaction together with its ledger insert, so a failed
// migration leaves no half-applied record behind. Safe to run on every
// startup and from concurrent replicas: the ledger insert conflicts, not
// the DDL.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, file := range migrationFiles() {
		if applied[file] {
			continue
		}
		if err := applyOne(ctx, db, file); err != nil {
			return err
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func migrationFiles() []string {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		// The FS is embedded at compile time; a read failure here is a
		// build defect, not a runtime condition.
		panic("read embedded migrations: " + err.Error())
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files
}

func applyOne(ctx context.Context, db *sql.DB, file string) error {
	content, err := fs.ReadFile(migrations.FS, file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", file, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("execute migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, $2)`,
		file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}
