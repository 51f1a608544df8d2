package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	cfg := DefaultConfig()
	cfg.Path = path
	d, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { Close(d) })
	return d, path
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sqlite ok", Config{Driver: DriverSQLite, Path: "x.db"}, false},
		{"sqlite missing path", Config{Driver: DriverSQLite}, true},
		{"postgres ok", Config{Driver: DriverPostgres, DSN: "postgres://localhost/x"}, false},
		{"postgres missing dsn", Config{Driver: DriverPostgres}, true},
		{"unknown driver", Config{Driver: "mysql", Path: "x"}, true},
		{"negative conns", Config{Driver: DriverSQLite, Path: "x.db", MaxOpenConns: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver Driver
		in     string
		want   string
	}{
		{DriverSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{DriverPostgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{DriverPostgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{DriverPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.driver, tt.in))
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	d, path := openTemp(t)
	ctx := context.Background()

	_, err := os.Stat(path)
	require.NoError(t, err)

	for _, table := range []string{"meetings", "sync_state", "schema_migrations"} {
		var name string
		err := d.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	status, err := GetMigrationStatus(ctx, d)
	require.NoError(t, err)
	assert.Len(t, status.Applied, 2)
	assert.Empty(t, status.Pending)
	assert.NotNil(t, status.Applied[0].AppliedAt)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	d, _ := openTemp(t)

	result, err := RunMigrations(context.Background(), d)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Equal(t, []string{"001_initial", "002_meetings_platform_index"}, result.Skipped)
}

func TestOpen_AdoptsExistingSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	ctx := context.Background()

	// A database created by earlier tooling without schema_migrations.
	cfg := DefaultConfig()
	cfg.Path = path
	raw, err := open(ctx, cfg)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `CREATE TABLE meetings (
		id INTEGER PRIMARY KEY AUTOINCREMENT, meeting_id TEXT NOT NULL, platform TEXT NOT NULL,
		meeting_title TEXT, meeting_date TEXT, download_timestamp TEXT NOT NULL, file_path TEXT,
		UNIQUE(meeting_id, platform))`)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `INSERT INTO meetings (meeting_id, platform, download_timestamp) VALUES ('m1', 'Zoom', '2024-01-25T10:00:00')`)
	require.NoError(t, err)
	require.NoError(t, Close(raw))

	d, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer Close(d)

	var count int
	require.NoError(t, d.QueryRowContext(ctx, "SELECT COUNT(*) FROM meetings").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpen_ReadOnlyMissingFileUsesMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")
	cfg := DefaultConfig()
	cfg.Path = path
	cfg.ReadOnly = true

	d, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer Close(d)

	assert.True(t, d.InMemory())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "read-only open must not create the file")

	var count int
	require.NoError(t, d.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM meetings").Scan(&count))
	assert.Zero(t, count)
}

func TestOpen_ReadOnlyExistingFile(t *testing.T) {
	_, path := openTemp(t)

	cfg := DefaultConfig()
	cfg.Path = path
	cfg.ReadOnly = true
	d, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer Close(d)

	assert.False(t, d.InMemory())
	var count int
	require.NoError(t, d.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM sync_state").Scan(&count))
}

func TestOpenWithRetry_InvalidConfig(t *testing.T) {
	_, err := OpenWithRetry(context.Background(), &Config{Driver: "mysql"}, 2, time.Millisecond)
	assert.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  ;CREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, got)
}

func TestHealthCheck(t *testing.T) {
	d, _ := openTemp(t)

	require.NoError(t, Ping(context.Background(), d))
	status := Check(context.Background(), d)
	assert.True(t, status.Healthy)
	assert.Equal(t, DriverSQLite, status.Driver)
	assert.NoError(t, status.Error)

	nilStatus := Check(context.Background(), nil)
	assert.False(t, nilStatus.Healthy)
	assert.Error(t, nilStatus.Error)
	assert.Error(t, Ping(context.Background(), nil))
}

func TestStatsCollector(t *testing.T) {
	d, _ := openTemp(t)
	reg := prometheus.NewRegistry()

	c, err := RegisterStatsCollector(d, "meetsync", reg)
	require.NoError(t, err)
	assert.Equal(t, 4, testutil.CollectAndCount(c))

	_, err = RegisterStatsCollector(d, "meetsync", reg)
	assert.NoError(t, err, "re-registration is tolerated")
}
