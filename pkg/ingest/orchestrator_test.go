package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetsync/pkg/db"
	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/observability"
	"github.com/otherjamesbrown/meetsync/pkg/sources"
	"github.com/otherjamesbrown/meetsync/pkg/sources/heypocket"
	"github.com/otherjamesbrown/meetsync/pkg/state"
	"github.com/otherjamesbrown/meetsync/pkg/vault"
)

var runAt = time.Date(2024, 1, 27, 8, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return runAt }

func openStore(t *testing.T, opts ...state.Option) *state.Store {
	t.Helper()
	cfg := *db.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "meetings_state.db")
	s, err := state.Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
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

func notes(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_HeypocketItemsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/recordings":
			_, _ = w.Write([]byte(`{"data":{"items":[
				{"id":"rec-1","title":"Weekly sync","recorded_at":"2024-01-25T19:30:00Z","duration":1830,
				 "summarizations":{"v2_summary":{"markdown":"## Notes\n- shipped"}}},
				{"id":"rec-2","title":"Hallway chat","created_at":"2024-01-26T10:00:00Z"}
			],"total_pages":1,"page":1}}`))
		case "/public/recordings/rec-2":
			_, _ = w.Write([]byte(`{"data":{"id":"rec-2","title":"Hallway chat","created_at":"2024-01-26T10:00:00Z"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := heypocket.NewClient(heypocket.Config{BaseURL: srv.URL, APIKey: "secret", RequestsPerSecond: 1000}, nil, nil)
	require.NoError(t, err)

	store := openStore(t)
	w := vault.NewWriter(t.TempDir(), "Meetings")
	o := New(store, w, nil, Options{Location: time.UTC, Now: fixedNow})

	res := o.Run(context.Background(), []sources.Source{heypocket.NewSource(client, nil)})
	require.True(t, res.Success())
	require.Len(t, res.Platforms, 1)

	pr := res.Platforms[0]
	assert.Equal(t, 2, pr.Fetched)
	assert.Equal(t, 1, pr.Saved)
	assert.Equal(t, 1, pr.NoSummary)
	assert.True(t, pr.Since.IsZero())
	assert.True(t, pr.WatermarkAdvanced)

	assert.Equal(t, []string{"2024-01-25_19-30_Heypocket_Weekly sync.md"}, notes(t, w.Dir()))
	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	wm, ok, err := store.Watermark(context.Background(), meeting.Heypocket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wm.Equal(runAt))
}

func TestRun_Idempotent(t *testing.T) {
	store := openStore(t)
	w := vault.NewWriter(t.TempDir(), "Meetings")
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_1", "Standup", time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC), "Notes one"),
		newMeeting(t, meeting.Zoom, "zoom_2", "Retro", time.Date(2024, 1, 26, 9, 0, 0, 0, time.UTC), "Notes two"),
	}}
	o := New(store, w, nil, Options{Location: time.UTC, Now: fixedNow})

	first := o.Run(context.Background(), []sources.Source{src})
	require.True(t, first.Success())
	assert.Equal(t, 2, first.Saved())

	second := o.Run(context.Background(), []sources.Source{src})
	require.True(t, second.Success())
	assert.Equal(t, 0, second.Saved())
	assert.Equal(t, 2, second.Platforms[0].AlreadySynced)
	assert.Len(t, notes(t, w.Dir()), 2)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_PlatformFailureIsIsolated(t *testing.T) {
	store := openStore(t)
	w := vault.NewWriter(t.TempDir(), "Meetings")
	at := time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC)

	failing := &sources.Static{
		P:        meeting.Zoom,
		Meetings: []*meeting.Meeting{newMeeting(t, meeting.Zoom, "zoom_1", "Standup", at, "Notes")},
		Err:      syncerr.AuthenticationTimeout("zoom", 2*time.Minute),
	}
	healthy := &sources.Static{
		P:        meeting.GoogleMeet,
		Meetings: []*meeting.Meeting{newMeeting(t, meeting.GoogleMeet, "doc1", "Planning", at, "Plan")},
	}
	o := New(store, w, nil, Options{Location: time.UTC, Now: fixedNow})

	res := o.Run(context.Background(), []sources.Source{failing, healthy})
	assert.False(t, res.Success())
	require.Len(t, res.Platforms, 2)

	zoom := res.Platforms[0]
	assert.False(t, zoom.OK())
	assert.Equal(t, 1, zoom.Saved)
	assert.Equal(t, "authentication_timeout", zoom.ErrorCode)
	assert.NotEmpty(t, zoom.Suggestion)
	assert.False(t, zoom.WatermarkAdvanced)
	_, ok, err := store.Watermark(context.Background(), meeting.Zoom)
	require.NoError(t, err)
	assert.False(t, ok)

	meet := res.Platforms[1]
	assert.True(t, meet.OK())
	assert.True(t, meet.WatermarkAdvanced)
	assert.Len(t, res.Failed(), 1)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	store := openStore(t)
	w := vault.NewWriter(t.TempDir(), "Meetings")
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_1", "Standup", time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC), "Notes"),
	}}
	o := New(store, w, nil, Options{DryRun: true, Location: time.UTC, Now: fixedNow})

	res := o.Run(context.Background(), []sources.Source{src})
	require.True(t, res.Success())
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Platforms[0].DryRun)
	assert.Equal(t, 0, res.Saved())
	assert.False(t, res.Platforms[0].WatermarkAdvanced)
	assert.Empty(t, notes(t, w.Dir()))

	n, err := store.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_LimitStopsEarlyAndKeepsWatermark(t *testing.T) {
	store := openStore(t)
	w := vault.NewWriter(t.TempDir(), "Meetings")
	at := time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC)
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_1", "One", at, "Notes"),
		newMeeting(t, meeting.Zoom, "zoom_2", "Two", at.Add(time.Hour), "Notes"),
		newMeeting(t, meeting.Zoom, "zoom_3", "Three", at.Add(2*time.Hour), "Notes"),
	}}
	o := New(store, w, nil, Options{Limit: 2, Location: time.UTC, Now: fixedNow})

	res := o.Run(context.Background(), []sources.Source{src})
	require.True(t, res.Success())
	pr := res.Platforms[0]
	assert.Equal(t, 2, pr.Saved)
	assert.Equal(t, 2, pr.Fetched)
	assert.True(t, pr.Limited)
	assert.False(t, pr.WatermarkAdvanced)
}

func TestRun_SkipsMeetingsBeforeWatermark(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetWatermark(ctx, meeting.Zoom, time.Date(2024, 1, 20, 15, 0, 0, 0, time.UTC)))

	w := vault.NewWriter(t.TempDir(), "Meetings")
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_old", "Old", time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), "Notes"),
		newMeeting(t, meeting.Zoom, "zoom_same_day", "Morning", time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC), "Notes"),
	}}
	o := New(store, w, nil, Options{Location: time.UTC, Now: fixedNow})

	res := o.Run(ctx, []sources.Source{src})
	pr := res.Platforms[0]
	assert.Equal(t, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), pr.Since)
	assert.Equal(t, 1, pr.BeforeWindow)
	assert.Equal(t, 1, pr.Saved)
}

// memStore is an in-memory StateStore with injectable failures.
type memStore struct {
	recorded   map[meeting.Key]string
	watermarks map[meeting.Platform]time.Time

	recordErr    error
	watermarkErr error
}

func newMemStore() *memStore {
	return &memStore{recorded: map[meeting.Key]string{}, watermarks: map[meeting.Platform]time.Time{}}
}

func (s *memStore) IsDownloaded(_ context.Context, id string, p meeting.Platform) (bool, error) {
	_, ok := s.recorded[meeting.Key{Platform: p, ExternalID: id}]
	return ok, nil
}

func (s *memStore) Record(_ context.Context, m *meeting.Meeting, path string) (bool, error) {
	if s.recordErr != nil {
		return false, s.recordErr
	}
	if _, ok := s.recorded[m.Key()]; ok {
		return false, nil
	}
	s.recorded[m.Key()] = path
	return true, nil
}

func (s *memStore) Watermark(_ context.Context, p meeting.Platform) (time.Time, bool, error) {
	if s.watermarkErr != nil {
		return time.Time{}, false, s.watermarkErr
	}
	t, ok := s.watermarks[p]
	return t, ok, nil
}

func (s *memStore) SetWatermark(_ context.Context, p meeting.Platform, at time.Time) error {
	s.watermarks[p] = at
	return nil
}

func TestWindow(t *testing.T) {
	loc := time.FixedZone("UTC-7", -7*3600)
	wm := time.Date(2024, 1, 20, 3, 0, 0, 0, time.UTC)
	override := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		watermark *time.Time
		override  time.Time
		lookback  time.Duration
		want      time.Time
	}{
		{"nothing fetches all", nil, time.Time{}, 0, time.Time{}},
		{"lookback", nil, time.Time{}, 48 * time.Hour, time.Date(2024, 1, 25, 0, 0, 0, 0, loc)},
		{"override without watermark", nil, override, 48 * time.Hour, time.Date(2024, 1, 5, 0, 0, 0, 0, loc)},
		{"watermark truncated in local zone", &wm, time.Time{}, 0, time.Date(2024, 1, 19, 0, 0, 0, 0, loc)},
		{"earlier override ignored", &wm, override, 0, time.Date(2024, 1, 19, 0, 0, 0, 0, loc)},
		{"later override wins", &wm, time.Date(2024, 1, 22, 12, 0, 0, 0, time.UTC), 0, time.Date(2024, 1, 22, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.watermark != nil {
				store.watermarks[meeting.Zoom] = *tt.watermark
			}
			o := New(store, nil, nil, Options{
				Since:     tt.override,
				Lookbacks: map[meeting.Platform]time.Duration{meeting.Zoom: tt.lookback},
				Location:  loc,
				Now:       fixedNow,
			})
			got, err := o.window(context.Background(), meeting.Zoom)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestRun_RecordFailureFailsItemOnly(t *testing.T) {
	store := newMemStore()
	store.recordErr = errors.New("disk full")
	w := vault.NewWriter(t.TempDir(), "Meetings")
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_1", "Standup", time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC), "Notes"),
	}}
	o := New(store, w, nil, Options{Location: time.UTC, Now: fixedNow})

	res := o.Run(context.Background(), []sources.Source{src})
	require.True(t, res.Success())
	pr := res.Platforms[0]
	assert.Equal(t, 1, pr.Failed)
	require.Len(t, pr.Items, 1)
	assert.Equal(t, "persistence", pr.Items[0].Code)
	assert.False(t, pr.WatermarkAdvanced)
	assert.Empty(t, store.watermarks)
	assert.Empty(t, notes(t, w.Dir()), "unrecorded note should be removed")
}

func TestRun_FailedItemIsRetriedNextRun(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetWatermark(context.Background(), meeting.Zoom, time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)))
	w := vault.NewWriter(t.TempDir(), "Meetings")
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_1", "Standup", time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC), "Notes"),
	}}

	store.recordErr = errors.New("disk full")
	first := New(store, w, nil, Options{Location: time.UTC, Now: fixedNow}).Run(context.Background(), []sources.Source{src})
	require.Equal(t, 1, first.Platforms[0].Failed)
	assert.True(t, store.watermarks[meeting.Zoom].Equal(time.Date(2024, 1, 20, 8, 0, 0, 0, time.UTC)))

	store.recordErr = nil
	nextDay := func() time.Time { return runAt.Add(24 * time.Hour) }
	second := New(store, w, nil, Options{Location: time.UTC, Now: nextDay}).Run(context.Background(), []sources.Source{src})
	pr := second.Platforms[0]
	assert.Equal(t, 1, pr.Saved)
	assert.Zero(t, pr.BeforeWindow)
	assert.Zero(t, pr.Failed)
	assert.True(t, pr.WatermarkAdvanced)
	assert.Equal(t, []string{"2024-01-25_09-00_Zoom_Standup.md"}, notes(t, w.Dir()))
}

func TestRun_WatermarkReadFailureFailsPlatform(t *testing.T) {
	store := newMemStore()
	store.watermarkErr = errors.New("database is locked")
	src := &sources.Static{P: meeting.Zoom}
	o := New(store, vault.NewWriter(t.TempDir(), "Meetings"), nil, Options{Now: fixedNow})

	res := o.Run(context.Background(), []sources.Source{src})
	assert.False(t, res.Success())
	assert.True(t, syncerr.IsPersistence(res.Platforms[0].Err))
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_1", "Standup", time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC), "Notes"),
	}}
	o := New(newMemStore(), vault.NewWriter(t.TempDir(), "Meetings"), nil, Options{Now: fixedNow})

	res := o.Run(ctx, []sources.Source{src, &sources.Static{P: meeting.GoogleMeet}})
	assert.False(t, res.Success())
	require.Len(t, res.Platforms, 2)
	for _, pr := range res.Platforms {
		assert.Equal(t, string(syncerr.CodeCancelled), pr.ErrorCode)
	}
}

func TestRun_MetricsAndProgress(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewSyncMetrics(reg)
	var snaps []ProgressSnapshot

	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		newMeeting(t, meeting.Zoom, "zoom_1", "Standup", time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC), "Notes"),
		newMeeting(t, meeting.Zoom, "zoom_2", "Pending", time.Date(2024, 1, 25, 10, 0, 0, 0, time.UTC), ""),
	}}
	o := New(newMemStore(), vault.NewWriter(t.TempDir(), "Meetings"), nil, Options{
		Location:   time.UTC,
		Now:        fixedNow,
		Metrics:    metrics,
		OnProgress: func(s ProgressSnapshot) { snaps = append(snaps, s) },
	})

	res := o.Run(context.Background(), []sources.Source{src})
	require.True(t, res.Success())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MeetingsTotal.WithLabelValues("zoom", observability.OutcomeSaved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MeetingsTotal.WithLabelValues("zoom", observability.OutcomeNoSummary)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PlatformRunsTotal.WithLabelValues("zoom", observability.StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LastRunSuccess))
	assert.Equal(t, float64(runAt.Unix()), testutil.ToFloat64(metrics.Watermark.WithLabelValues("zoom")))

	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, res.RunID, last.RunID)
	assert.Equal(t, "completed", last.Status)
	assert.Equal(t, 2, last.Seen)
	assert.Equal(t, 1, last.Saved)
	assert.Equal(t, 1, last.Skipped)
	assert.True(t, last.IsSuccess())
}

func TestRun_LegacySeriesIDMatchesOneOccurrence(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	lastWeek := time.Date(2024, 1, 18, 14, 30, 0, 0, time.UTC)
	thisWeek := time.Date(2024, 1, 25, 14, 30, 0, 0, time.UTC)

	// Older ledgers keyed every occurrence of a series by its meeting number.
	_, err := store.Record(ctx, newMeeting(t, meeting.Zoom, "zoom_95944950711", "Weekly Sync", lastWeek, "Notes"), "old.md")
	require.NoError(t, err)

	occurrence := func(id string, at time.Time) *meeting.Meeting {
		m, err := meeting.New(meeting.Fields{
			Platform:   meeting.Zoom,
			ExternalID: id,
			LegacyID:   "zoom_95944950711",
			Title:      "Weekly Sync",
			OccurredAt: at,
			Summary:    "Notes",
		})
		require.NoError(t, err)
		return m
	}
	src := &sources.Static{P: meeting.Zoom, Meetings: []*meeting.Meeting{
		occurrence("zoom_95944950711_202401251430", thisWeek),
		occurrence("zoom_95944950711_202401181430", lastWeek),
	}}
	w := vault.NewWriter(t.TempDir(), "Meetings")

	res := New(store, w, nil, Options{Location: time.UTC, Now: fixedNow}).Run(ctx, []sources.Source{src})
	require.True(t, res.Success())
	pr := res.Platforms[0]
	assert.Equal(t, 1, pr.Saved)
	assert.Equal(t, 1, pr.AlreadySynced)
	assert.Equal(t, []string{"2024-01-25_14-30_Zoom_Weekly Sync.md"}, notes(t, w.Dir()))

	done, err := store.IsDownloaded(ctx, "zoom_95944950711_202401251430", meeting.Zoom)
	require.NoError(t, err)
	assert.True(t, done)
}
