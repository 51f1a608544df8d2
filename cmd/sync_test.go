package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/sources"
)

// staticSources serves fixed meetings per platform; platforms in failing
// return a configuration error from the factory.
func staticSources(byPlatform map[meeting.Platform][]*meeting.Meeting, failing ...meeting.Platform) SourceFactory {
	return func(ctx context.Context, p meeting.Platform, env SourceEnv) (sources.Source, error) {
		for _, f := range failing {
			if f == p {
				return nil, syncerr.Configuration("browser not available", nil)
			}
		}
		return &sources.Static{P: p, Meetings: byPlatform[p]}, nil
	}
}

func weeklySync(t *testing.T) *meeting.Meeting {
	return newMeeting(t, meeting.Heypocket, "rec-1", "Weekly sync", time.Date(2024, 1, 25, 19, 30, 0, 0, time.UTC), "## Notes\n- shipped")
}

func TestSyncCommand_Flags(t *testing.T) {
	cmd := NewSyncCommand(DefaultDeps(nil))

	assert.Equal(t, "sync", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	for name, typ := range map[string]string{
		"platform":      "stringSlice",
		"since":         "string",
		"dry-run":       "bool",
		"limit":         "int",
		"output":        "string",
		"metrics-file":  "string",
		"progress-file": "string",
	} {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, "missing --%s", name)
		assert.Equal(t, typ, f.Value.Type(), "--%s type", name)
		assert.NotEmpty(t, f.Usage, "--%s usage", name)
	}
}

func TestSync_WritesNotesAndAdvancesWatermark(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Sources = staticSources(map[meeting.Platform][]*meeting.Meeting{
		meeting.Heypocket: {weeklySync(t)},
	})

	out, err := execute(t, NewSyncCommand(env.Deps), "")
	require.NoError(t, err)
	assert.Contains(t, out, "heypocket")
	assert.Contains(t, out, "Saved 1 note(s)")
	assert.Equal(t, []string{"2024-01-25_19-30_Heypocket_Weekly sync.md"}, env.notes(t))

	store := env.openState(t)
	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	wm, ok, err := store.Watermark(context.Background(), meeting.Heypocket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wm.Equal(runAt))
}

func TestSync_SecondRunSkips(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Sources = staticSources(map[meeting.Platform][]*meeting.Meeting{
		meeting.Heypocket: {weeklySync(t)},
	})

	_, err := execute(t, NewSyncCommand(env.Deps), "")
	require.NoError(t, err)
	out, err := execute(t, NewSyncCommand(env.Deps), "", "--since", "2024-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved 0 note(s)")
	assert.Len(t, env.notes(t), 1)
}

func TestSync_DryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Sources = staticSources(map[meeting.Platform][]*meeting.Meeting{
		meeting.Heypocket: {weeklySync(t)},
	})

	out, err := execute(t, NewSyncCommand(env.Deps), "", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "Would save 1 note(s)")
	assert.Empty(t, env.notes(t))

	store := env.openState(t)
	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := store.Watermark(context.Background(), meeting.Heypocket)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSync_JSONOutput(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Sources = staticSources(map[meeting.Platform][]*meeting.Meeting{
		meeting.Heypocket: {weeklySync(t)},
	})

	out, err := execute(t, NewSyncCommand(env.Deps), "", "--output", "json")
	require.NoError(t, err)

	var got struct {
		RunID     string `json:"run_id"`
		DryRun    bool   `json:"dry_run"`
		Platforms []struct {
			Platform string   `json:"platform"`
			Fetched  int      `json:"fetched"`
			Saved    int      `json:"saved"`
			Files    []string `json:"files"`
		} `json:"platforms"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.NotEmpty(t, got.RunID)
	assert.False(t, got.DryRun)
	require.Len(t, got.Platforms, 1)
	assert.Equal(t, "heypocket", got.Platforms[0].Platform)
	assert.Equal(t, 1, got.Platforms[0].Saved)
	require.Len(t, got.Platforms[0].Files, 1)
	assert.Equal(t, filepath.Join(env.Vault, "Meetings", "2024-01-25_19-30_Heypocket_Weekly sync.md"), got.Platforms[0].Files[0])
}

func TestSync_FailedPlatformIsIsolated(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Sources = staticSources(map[meeting.Platform][]*meeting.Meeting{
		meeting.Heypocket: {weeklySync(t)},
	}, meeting.Zoom)

	out, err := execute(t, NewSyncCommand(env.Deps), "", "--platform", "zoom", "--platform", "heypocket")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.Contains(t, err.Error(), "zoom")

	assert.Contains(t, out, "Zoom failed")
	assert.Contains(t, out, "FAILED (configuration)")
	assert.Contains(t, out, "Suggested action")
	assert.Len(t, env.notes(t), 1, "heypocket still syncs")

	store := env.openState(t)
	_, ok, err := store.Watermark(context.Background(), meeting.Zoom)
	require.NoError(t, err)
	assert.False(t, ok, "failed platform keeps its watermark")
	_, ok, err = store.Watermark(context.Background(), meeting.Heypocket)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSync_LimitKeepsWatermark(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Sources = staticSources(map[meeting.Platform][]*meeting.Meeting{
		meeting.Heypocket: {
			weeklySync(t),
			newMeeting(t, meeting.Heypocket, "rec-2", "Retro", time.Date(2024, 1, 26, 9, 0, 0, 0, time.UTC), "Went well"),
		},
	})

	out, err := execute(t, NewSyncCommand(env.Deps), "", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "limited")
	assert.Len(t, env.notes(t), 1)

	_, ok, err := env.openState(t).Watermark(context.Background(), meeting.Heypocket)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSync_MetricsAndProgressFiles(t *testing.T) {
	env := newTestEnv(t, "")
	env.Deps.Sources = staticSources(map[meeting.Platform][]*meeting.Meeting{
		meeting.Heypocket: {weeklySync(t)},
	})
	metricsPath := filepath.Join(env.Dir, "metrics", "meetsync.prom")
	progressPath := filepath.Join(env.Dir, "progress.json")

	_, err := execute(t, NewSyncCommand(env.Deps), "", "--metrics-file", metricsPath, "--progress-file", progressPath)
	require.NoError(t, err)

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `meetsync_meetings_total{outcome="saved",platform="heypocket"} 1`)
	assert.Contains(t, string(metrics), "meetsync_last_run_success 1")
	assert.Contains(t, string(metrics), "meetsync_state_db_open_connections")

	raw, err := os.ReadFile(progressPath)
	require.NoError(t, err)
	var snap struct {
		Status string `json:"status"`
		Saved  int    `json:"saved"`
	}
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, 1, snap.Saved)
}

func TestSync_MissingHeypocketKey(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := execute(t, NewSyncCommand(env.Deps), "")
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.Contains(t, out, "FAILED (configuration)")
	assert.Contains(t, out, "meetsync auth set-key heypocket")
}

func TestSync_LiveHeypocketWithStoredKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer pk_live_0123456789" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/public/recordings":
			_, _ = w.Write([]byte(`{"data":{"items":[
				{"id":"rec-1","title":"Weekly sync","recorded_at":"2024-01-25T19:30:00Z","duration":1830,
				 "summarizations":{"v2_summary":{"markdown":"## Notes\n- shipped"}}}
			],"total_pages":1,"page":1}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	env := newTestEnv(t, "    base_url: "+srv.URL+"\n    requests_per_second: 1000")
	store, err := env.Deps.OpenCredentials()
	require.NoError(t, err)
	require.NoError(t, store.SetKey("heypocket", "pk_live_0123456789"))

	out, err := execute(t, NewSyncCommand(env.Deps), "")
	require.NoError(t, err, out)
	assert.Equal(t, []string{"2024-01-25_19-30_Heypocket_Weekly sync.md"}, env.notes(t))
}

func TestSync_RejectsBadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"since format", []string{"--since", "25/01/2024"}, "expected YYYY-MM-DD"},
		{"output", []string{"--output", "xml"}, "invalid output format"},
		{"platform", []string{"--platform", "teams"}, "unknown platform"},
		{"limit", []string{"--limit", "-1"}, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.Deps.Sources = staticSources(nil)
			_, err := execute(t, NewSyncCommand(env.Deps), "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.NotErrorIs(t, err, ErrSyncFailed)
		})
	}
}

func TestParseSince(t *testing.T) {
	denver := time.FixedZone("UTC-7", -7*3600)

	got, err := parseSince("2024-01-25", denver)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 1, 25, 7, 0, 0, 0, time.UTC)))

	got, err = parseSince("  ", denver)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseSince("2024-13-01", denver)
	assert.Error(t, err)
}

func TestSelectPlatforms(t *testing.T) {
	env := newTestEnv(t, "")
	cfg, err := env.Deps.Config()
	require.NoError(t, err)

	got, err := selectPlatforms(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []meeting.Platform{meeting.Heypocket}, got)

	got, err = selectPlatforms(cfg, []string{"meet", "heypocket", "zoom", "Zoom"})
	require.NoError(t, err)
	assert.Equal(t, []meeting.Platform{meeting.Heypocket, meeting.Zoom, meeting.GoogleMeet}, got, "sync order, no duplicates")
}
