package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var migrationFiles embed.FS

// Migration represents a single embedded migration file.
type Migration struct {
	Version string
	Name    string
	Path    string
}

// MigrationResult holds the result of a migration run.
type MigrationResult struct {
	Applied []string
	Skipped []string
}

// MigrationStatusEntry represents a single migration in a status report.
type MigrationStatusEntry struct {
	Version   string
	Name      string
	AppliedAt *time.Time // nil for pending
}

// MigrationStatus represents the complete status of migrations.
type MigrationStatus struct {
	Applied []MigrationStatusEntry
	Pending []MigrationStatusEntry
}

// RunMigrations executes the embedded migrations for the database's dialect in
// version order. A tracking table prevents re-running migrations. The initial
// schema uses IF NOT EXISTS so a state file created by earlier tooling is adopted.
func RunMigrations(ctx context.Context, d *DB) (*MigrationResult, error) {
	if d == nil || d.DB == nil {
		return nil, fmt.Errorf("database is nil")
	}

	result := &MigrationResult{}

	if err := ensureMigrationsTable(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := findMigrations(d.driver)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			result.Skipped = append(result.Skipped, m.Version)
			continue
		}
		if err := applyMigration(ctx, d, m); err != nil {
			return result, fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		result.Applied = append(result.Applied, m.Version)
	}

	return result, nil
}

// GetMigrationStatus reports which embedded migrations have been applied.
func GetMigrationStatus(ctx context.Context, d *DB) (*MigrationStatus, error) {
	if d == nil || d.DB == nil {
		return nil, fmt.Errorf("database is nil")
	}

	migrations, err := findMigrations(d.driver)
	if err != nil {
		return nil, err
	}
	applied, err := getAppliedMigrations(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	status := &MigrationStatus{
		Applied: []MigrationStatusEntry{},
		Pending: []MigrationStatusEntry{},
	}
	for _, m := range migrations {
		if at, ok := applied[m.Version]; ok {
			at := at
			status.Applied = append(status.Applied, MigrationStatusEntry{Version: m.Version, Name: m.Name, AppliedAt: &at})
		} else {
			status.Pending = append(status.Pending, MigrationStatusEntry{Version: m.Version, Name: m.Name})
		}
	}
	return status, nil
}

func ensureMigrationsTable(ctx context.Context, d *DB) error {
	_, err := d.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	return err
}

// findMigrations lists the embedded .sql files for the driver's dialect.
func findMigrations(driver Driver) ([]Migration, error) {
	dir := path.Join("migrations", dialectDir(driver))
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".sql") {
			continue
		}
		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(name, path.Ext(name)),
			Name:    name,
			Path:    path.Join(dir, name),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func dialectDir(driver Driver) string {
	if driver == DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

func getAppliedMigrations(ctx context.Context, d *DB) (map[string]time.Time, error) {
	applied := make(map[string]time.Time)

	rows, err := d.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version, appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, appliedAt)
		applied[version] = t
	}
	return applied, rows.Err()
}

// applyMigration executes one migration file and records it in a single transaction.
func applyMigration(ctx context.Context, d *DB, m Migration) error {
	content, err := migrationFiles.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	statements := splitStatements(string(content))
	if len(statements) == 0 {
		return fmt.Errorf("migration file is empty")
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		d.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
		m.Version, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// splitStatements splits a migration script on ';' and drops empty fragments.
// Migration files must not contain semicolons inside string literals.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
