// Package db opens the relational store behind meetsync's sync state.
//
// SQLite (pure Go, no cgo) is the default and keeps the state file next to the
// user's config. PostgreSQL is supported for people who already run one and
// want the ledger shared between machines.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config holds state database connection configuration.
type Config struct {
	Driver Driver
	// Path is the SQLite database file. ":memory:" opens a private in-memory database.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN             string
	ReadOnly        bool
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		Path:            "meetings_state.db",
		MaxOpenConns:    4,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// Validate checks if the config has required fields set.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q (valid: sqlite, postgres)", c.Driver)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("invalid max open connections: %d", c.MaxOpenConns)
	}
	return nil
}

// DB is a database handle that knows its SQL dialect.
type DB struct {
	*sql.DB
	driver Driver
	// memory is true when a read-only SQLite open fell back to an empty in-memory schema.
	memory bool
}

// Driver returns the backend in use.
func (d *DB) Driver() Driver {
	return d.driver
}

// InMemory reports whether the handle is a throwaway in-memory database.
func (d *DB) InMemory() bool {
	return d.memory
}

// Rebind converts '?' placeholders to the dialect's bind syntax.
func (d *DB) Rebind(query string) string {
	return Rebind(d.driver, query)
}

// Rebind converts '?' placeholders to '$n' for PostgreSQL. Other drivers are unchanged.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Open connects to the configured database and applies pending migrations.
// In read-only mode migrations are skipped; a SQLite file that does not yet
// exist is replaced by an empty in-memory schema so nothing touches disk.
// The caller is responsible for calling Close when done.
func Open(ctx context.Context, cfg *Config) (*DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if !cfg.ReadOnly || d.memory {
		if _, err := RunMigrations(ctx, d); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return d, nil
}

func open(ctx context.Context, cfg *Config) (*DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		sqlDB, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return &DB{DB: sqlDB, driver: DriverPostgres}, nil
	default:
		return openSQLite(ctx, cfg)
	}
}

func openSQLite(ctx context.Context, cfg *Config) (*DB, error) {
	path := cfg.Path
	memory := path == ":memory:"

	if cfg.ReadOnly && !memory {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ":memory:"
			memory = true
		}
	}

	dsn := path
	if cfg.ReadOnly && !memory {
		dsn = "file:" + path + "?mode=ro"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps an in-memory schema alive.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())}
	if !cfg.ReadOnly && !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: sqlDB, driver: DriverSQLite, memory: memory}, nil
}

// OpenWithRetry opens the database with retry logic. Useful for PostgreSQL
// servers that are still starting.
func OpenWithRetry(ctx context.Context, cfg *Config, maxAttempts int, retryDelay time.Duration) (*DB, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d, err := Open(ctx, cfg)
		if err == nil {
			return d, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, lastErr)
}

// Close gracefully closes a database handle if it is not nil.
func Close(d *DB) error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
