package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetsync/config"
	"github.com/otherjamesbrown/meetsync/credentials"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/state"
)

// testEncryptionKey is a valid 32-byte (64 hex chars) encryption key for testing.
const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

var runAt = time.Date(2024, 1, 27, 8, 0, 0, 0, time.UTC)

// testEnv is an isolated home, vault, config file and state database.
type testEnv struct {
	Deps       *CommandDeps
	Dir        string
	Vault      string
	ConfigFile string
	StatePath  string
	CredsPath  string
}

// newTestEnv writes a config with heypocket enabled and the browser
// platforms disabled. extra is appended to the platforms.heypocket block.
func newTestEnv(t *testing.T, heypocketExtra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("MEETSYNC_CONFIG_DIR", filepath.Join(dir, ".meetsync"))
	for _, v := range []string{
		"MEETSYNC_VAULT_PATH", "MEETSYNC_OUTPUT_FOLDER", "MEETSYNC_TIMEZONE",
		"MEETSYNC_LOG_LEVEL", "MEETSYNC_LOG_FORMAT", "MEETSYNC_STATE_DRIVER",
		"MEETSYNC_STATE_PATH", "MEETSYNC_STATE_DSN", "MEETSYNC_HEYPOCKET_API_KEY",
		"MEETSYNC_HEYPOCKET_RPS", "MEETSYNC_CHROME_PATH", "MEETSYNC_HEADLESS",
		"MEETSYNC_METRICS_FILE", "MEETSYNC_DEBUG_DIR", credentials.EnvPassphrase,
	} {
		t.Setenv(v, "")
	}
	t.Setenv(credentials.EnvEncryptionKey, testEncryptionKey)

	env := &testEnv{
		Dir:        dir,
		Vault:      filepath.Join(dir, "vault"),
		ConfigFile: filepath.Join(dir, "config.yaml"),
		StatePath:  filepath.Join(dir, "state", "meetings_state.db"),
		CredsPath:  filepath.Join(dir, ".meetsync", "credentials.yaml"),
	}
	require.NoError(t, os.MkdirAll(env.Vault, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(env.StatePath), 0o755))

	cfg := fmt.Sprintf(`obsidian_vault_path: %s
output_folder: Meetings
timezone: UTC
state:
  driver: sqlite
  path: %s
platforms:
  heypocket:
    enabled: true
%s
  zoom:
    enabled: false
  googlemeet:
    enabled: false
`, env.Vault, env.StatePath, heypocketExtra)
	require.NoError(t, os.WriteFile(env.ConfigFile, []byte(cfg), 0o600))

	deps := DefaultDeps(&GlobalOptions{ConfigFile: env.ConfigFile})
	deps.LogOutput = io.Discard
	deps.Now = func() time.Time { return runAt }
	deps.OpenCredentials = func() (*credentials.Store, error) {
		return credentials.NewStoreWithKeyProvider(env.CredsPath, credentials.NewEnvKeyProvider(credentials.EnvEncryptionKey))
	}
	env.Deps = deps
	return env
}

// openState opens the test state database for assertions.
func (e *testEnv) openState(t *testing.T) *state.Store {
	t.Helper()
	cfg, err := e.Deps.Config()
	require.NoError(t, err)
	s, err := state.Open(context.Background(), cfg.StateDB())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (e *testEnv) notes(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.Vault, "Meetings"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newMeeting(t *testing.T, p meeting.Platform, id, title string, at time.Time, summary string) *meeting.Meeting {
	t.Helper()
	m, err := meeting.New(meeting.Fields{
		Platform:   p,
		ExternalID: id,
		Title:      title,
		OccurredAt: at,
		Summary:    summary,
	})
	require.NoError(t, err)
	return m
}

func TestGlobalOptions_Overlay(t *testing.T) {
	cfg := config.DefaultConfig()
	(&GlobalOptions{Verbose: true, LogFormat: "json", Timezone: "Europe/London"}).Overlay(cfg)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "Europe/London", cfg.Timezone)

	before := *config.DefaultConfig()
	cfg = config.DefaultConfig()
	(&GlobalOptions{}).Overlay(cfg)
	assert.Equal(t, before.LogLevel, cfg.LogLevel)
	assert.Equal(t, before.Timezone, cfg.Timezone)

	var nilOpts *GlobalOptions
	nilOpts.Overlay(cfg)
}

func TestCommandDeps_ConfigAppliesFlags(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Options.Timezone = "America/Denver"

	cfg, err := env.Deps.Config(func(c *config.Config) { c.OutputFolder = "Calls" })
	require.NoError(t, err)
	assert.Equal(t, "America/Denver", cfg.Timezone)
	assert.Equal(t, "Calls", cfg.OutputFolder)
	assert.Equal(t, env.Vault, cfg.VaultPath)
}

func TestCommandDeps_ConfigInvalidFlag(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Options.Timezone = "Mars/Olympus"

	_, err := env.Deps.Config()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading configuration")
	assert.Contains(t, err.Error(), "Mars/Olympus")
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    config.OutputFormat
		wantErr bool
	}{
		{"", config.OutputFormatText, false},
		{"text", config.OutputFormatText, false},
		{"JSON", config.OutputFormatJSON, false},
		{" yaml ", config.OutputFormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseOutputFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlatformArg(t *testing.T) {
	p, err := parsePlatformArg("")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parsePlatformArg("meet")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, meeting.GoogleMeet, *p)

	_, err = parsePlatformArg("teams")
	assert.Error(t, err)
}

func TestOutput(t *testing.T) {
	v := map[string]int{"saved": 2}

	var buf bytes.Buffer
	require.NoError(t, output(&buf, config.OutputFormatJSON, v, nil))
	assert.JSONEq(t, `{"saved":2}`, buf.String())

	buf.Reset()
	require.NoError(t, output(&buf, config.OutputFormatYAML, v, nil))
	assert.Equal(t, "saved: 2\n", buf.String())

	buf.Reset()
	require.NoError(t, output(&buf, config.OutputFormatText, v, func(w io.Writer) error {
		_, err := io.WriteString(w, "text")
		return err
	}))
	assert.Equal(t, "text", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "Réunion...", truncate("Réunion hebdomadaire", 10))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}, time.UTC))
	denver := time.FixedZone("UTC-7", -7*3600)
	assert.Equal(t, "2024-01-24 20:00", formatTime(time.Date(2024, 1, 25, 3, 0, 0, 0, time.UTC), denver))
}
