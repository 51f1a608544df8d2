package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetsync/config"
	"github.com/otherjamesbrown/meetsync/credentials"
	"github.com/otherjamesbrown/meetsync/pkg/db"
	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/ingest"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/observability"
	"github.com/otherjamesbrown/meetsync/pkg/sources"
	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
	"github.com/otherjamesbrown/meetsync/pkg/sources/googlemeet"
	"github.com/otherjamesbrown/meetsync/pkg/sources/heypocket"
	"github.com/otherjamesbrown/meetsync/pkg/sources/zoom"
	"github.com/otherjamesbrown/meetsync/pkg/state"
	"github.com/otherjamesbrown/meetsync/pkg/vault"
)

// metricsNamespace prefixes the state database collector.
const metricsNamespace = "meetsync"

// ErrSyncFailed is returned when at least one platform did not complete.
var ErrSyncFailed = errors.New("sync failed")

// Sync command flags
var (
	syncPlatforms    []string
	syncSince        string
	syncDryRun       bool
	syncLimit        int
	syncOutput       string
	syncMetricsFile  string
	syncProgressFile string
)

// SourceEnv is what a source factory may draw on.
type SourceEnv struct {
	Config   *config.Config
	Location *time.Location
	Store    *state.Store
	Logger   logging.Logger
}

// SourceFactory builds the source for one platform.
type SourceFactory func(ctx context.Context, p meeting.Platform, env SourceEnv) (sources.Source, error)

// NewSyncCommand creates the sync command.
func NewSyncCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync meeting summaries into the Obsidian vault",
		Long: `Fetch AI meeting summaries from every enabled platform and write each new
meeting as a markdown note in the vault.

Platforms run one after another. A platform that fails is reported and the
rest still run; its watermark stays where it was so the next run retries the
same window. Meetings already in the state store are skipped, so running sync
twice never duplicates notes.

The fetch window starts at the later of the platform's watermark and --since,
so --since can narrow a pass but never re-opens synced history; use
'meetsync state reset --platform <name>' for that. A platform that has never
synced looks back default_lookback from its config (0 means everything). The
window always starts at local midnight. A meeting that fails to save keeps the
watermark where it was, so the next run retries it.

Heypocket uses its REST API. Zoom and Google Meet drive a Chrome window; if the
profile is signed out, log in within the window and sync continues.

Exit status is 1 when any platform failed.

Examples:
  # Sync every enabled platform
  meetsync sync

  # Preview what would be written
  meetsync sync --dry-run

  # Re-fetch Zoom from the start of January
  meetsync state reset --platform zoom --yes
  meetsync sync --platform zoom --since 2024-01-01

  # Save at most 5 meetings per platform and print JSON
  meetsync sync --limit 5 --output json`,
		Example: `  meetsync sync
  meetsync sync --platform heypocket --dry-run
  meetsync sync --since 2024-01-01 --limit 10`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}

	cmd.Flags().StringSliceVarP(&syncPlatforms, "platform", "p", nil, "Platform to sync (repeatable): heypocket, zoom, googlemeet")
	cmd.Flags().StringVar(&syncSince, "since", "", "Fetch meetings from this date (YYYY-MM-DD) when later than the watermark")
	cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Log what would be saved without writing notes or state")
	cmd.Flags().IntVar(&syncLimit, "limit", 0, "Stop each platform after N saved meetings (0 = no limit)")
	cmd.Flags().StringVarP(&syncOutput, "output", "o", "text", "Output format: text, json, yaml")
	cmd.Flags().StringVar(&syncMetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	cmd.Flags().StringVar(&syncProgressFile, "progress-file", "", "Keep a JSON progress snapshot in this file during the run")

	return cmd
}

func runSync(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	format, err := parseOutputFormat(syncOutput)
	if err != nil {
		return err
	}
	if syncLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	cfg, err := deps.Config(func(c *config.Config) {
		if syncMetricsFile != "" {
			c.MetricsFile = syncMetricsFile
		}
	})
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	since, err := parseSince(syncSince, loc)
	if err != nil {
		return err
	}
	platforms, err := selectPlatforms(cfg, syncPlatforms)
	if err != nil {
		return err
	}

	logger := deps.Logger(cfg)
	if len(platforms) == 0 {
		logger.Warn("No platforms enabled; nothing to sync")
	}

	store, err := deps.openState(ctx, cfg, logger, syncDryRun)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewSyncMetrics(reg)
	if _, err := db.RegisterStatsCollector(store.DB(), metricsNamespace, reg); err != nil {
		logger.Warn("State database metrics unavailable", logging.Err(err))
	}

	env := SourceEnv{Config: cfg, Location: loc, Store: store, Logger: logger}
	factory := deps.Sources
	if factory == nil {
		factory = deps.liveSource
	}
	srcs := make([]sources.Source, 0, len(platforms))
	for _, p := range platforms {
		src, err := factory(ctx, p, env)
		if err != nil {
			// The platform is reported as failed; the others still run.
			src = &sources.Static{P: p, Err: err}
		}
		srcs = append(srcs, src)
	}

	orch := ingest.New(store, vault.NewWriter(cfg.VaultPath, cfg.OutputFolder), logger, ingest.Options{
		DryRun:     syncDryRun,
		Since:      since,
		Limit:      syncLimit,
		Lookbacks:  cfg.Lookbacks(),
		Location:   loc,
		Now:        deps.Now,
		Metrics:    metrics,
		OnProgress: progressWriter(syncProgressFile, logger),
	})
	res := orch.Run(ctx, srcs)

	if cfg.MetricsFile != "" {
		if err := observability.WriteTextfile(cfg.MetricsFile, reg); err != nil {
			logger.Error("Failed to write metrics file", logging.F("path", cfg.MetricsFile), logging.Err(err))
		}
	}

	if err := output(out, format, res, func(w io.Writer) error {
		return outputSyncText(w, res, loc)
	}); err != nil {
		return err
	}

	if !res.Success() {
		names := make([]string, 0, len(res.Failed()))
		for _, f := range res.Failed() {
			names = append(names, string(f.Platform))
		}
		return fmt.Errorf("%w: %s", ErrSyncFailed, strings.Join(names, ", "))
	}
	return nil
}

// parseSince parses a --since date as local midnight in loc.
func parseSince(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// selectPlatforms returns the platforms named on the command line in sync
// order, or every enabled platform when none are named. Naming a platform
// runs it even when it is disabled in the config.
func selectPlatforms(cfg *config.Config, names []string) ([]meeting.Platform, error) {
	if len(names) == 0 {
		return cfg.EnabledPlatforms(), nil
	}
	want := make(map[meeting.Platform]bool)
	for _, n := range names {
		p, err := meeting.ParsePlatform(n)
		if err != nil {
			return nil, err
		}
		want[p] = true
	}
	var out []meeting.Platform
	for _, p := range meeting.AllPlatforms {
		if want[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// liveSource builds the real adapter for p.
func (d *CommandDeps) liveSource(ctx context.Context, p meeting.Platform, env SourceEnv) (sources.Source, error) {
	cfg := env.Config
	logger := env.Logger.With(logging.F("platform", string(p)))
	known := func(ctx context.Context, externalID string) bool {
		ok, err := env.Store.IsDownloaded(ctx, externalID, p)
		return err == nil && ok
	}

	switch p {
	case meeting.Heypocket:
		hp := cfg.Platforms.Heypocket
		key, origin, err := credentials.ResolveAPIKey(string(p), hp.APIKey, d.OpenCredentials)
		if err != nil {
			if errors.Is(err, credentials.ErrNoCredentials) {
				return nil, syncerr.Configuration(fmt.Sprintf(
					"no Heypocket API key: set %s or run 'meetsync auth set-key heypocket'",
					credentials.EnvVar(string(p))), err)
			}
			return nil, syncerr.Configuration("reading Heypocket API key", err)
		}
		logger.Debug("Using API key", logging.F("source", string(origin)))

		client, err := heypocket.NewClient(heypocket.Config{
			BaseURL:           hp.BaseURL,
			APIKey:            key,
			RequestsPerSecond: hp.RequestsPerSecond,
			Timeout:           hp.Timeout,
		}, nil, logger)
		if err != nil {
			return nil, syncerr.Configuration("creating Heypocket client", err)
		}
		return heypocket.NewSource(client, logger, heypocket.WithKnown(known)), nil

	case meeting.Zoom:
		bc := cfg.Platforms.Zoom.Browser
		timings := zoom.DefaultTimings()
		if bc.LoginTimeout > 0 {
			timings.LoginTimeout = bc.LoginTimeout
		}
		if bc.LoginPollInterval > 0 {
			timings.LoginPoll = bc.LoginPollInterval
		}
		legacyKnown := func(ctx context.Context, legacyID string, at time.Time) bool {
			ok, err := env.Store.IsDownloadedAt(ctx, legacyID, p, at)
			return err == nil && ok
		}
		return zoom.NewSource(zoom.Config{
			Launch:   browser.ChromeLauncher(launchConfig(bc)),
			Location: env.Location,
			DebugDir: cfg.DebugDir,
			Timings:  timings,
		}, logger, zoom.WithKnown(known), zoom.WithLegacyKnown(legacyKnown)), nil

	case meeting.GoogleMeet:
		bc := cfg.Platforms.GoogleMeet.Browser
		timings := googlemeet.DefaultTimings()
		if bc.LoginTimeout > 0 {
			timings.LoginTimeout = bc.LoginTimeout
		}
		if bc.LoginPollInterval > 0 {
			timings.LoginPoll = bc.LoginPollInterval
		}
		return googlemeet.NewSource(googlemeet.Config{
			Launch:   browser.ChromeLauncher(launchConfig(bc)),
			Location: env.Location,
			DebugDir: cfg.DebugDir,
			Timings:  timings,
		}, logger, googlemeet.WithKnown(known)), nil
	}
	return nil, syncerr.Configuration(fmt.Sprintf("unsupported platform %q", p), nil)
}

func launchConfig(bc config.BrowserConfig) browser.LaunchConfig {
	return browser.LaunchConfig{
		UserDataDir: bc.UserDataDir,
		Ephemeral:   bc.Ephemeral,
		Headless:    bc.Headless,
		ExecPath:    bc.ExecPath,
	}
}

// progressWriter returns a callback that logs progress and, when path is
// set, replaces path with the latest snapshot.
func progressWriter(path string, logger logging.Logger) func(ingest.ProgressSnapshot) {
	return func(s ingest.ProgressSnapshot) {
		logger.Debug("Progress",
			logging.F("platform", string(s.Platform)),
			logging.F("status", s.Status),
			logging.F("seen", s.Seen),
			logging.F("saved", s.Saved),
			logging.F("failed", s.Failed),
		)
		if path == "" {
			return
		}
		if err := writeSnapshot(path, s); err != nil {
			logger.Warn("Failed to write progress file", logging.F("path", path), logging.Err(err))
		}
	}
}

func writeSnapshot(path string, s ingest.ProgressSnapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// platformStatus is the STATUS column for one platform pass.
func platformStatus(r *ingest.PlatformResult, dryRun bool) string {
	switch {
	case !r.OK():
		return "FAILED (" + r.ErrorCode + ")"
	case dryRun:
		return "dry run"
	case r.Limited:
		return "limited"
	default:
		return "ok"
	}
}

func outputSyncText(w io.Writer, res *ingest.RunResult, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tSINCE\tFETCHED\tSAVED\tSYNCED\tEARLIER\tNO SUMMARY\tFAILED\tSTATUS")
	fmt.Fprintln(tw, "--------\t-----\t-------\t-----\t------\t-------\t----------\t------\t------")
	total := 0
	for _, r := range res.Platforms {
		saved := r.Saved
		if res.DryRun {
			saved = r.DryRun
		}
		total += saved
		since := "all"
		if !r.Since.IsZero() {
			since = r.Since.In(loc).Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Platform, since, r.Fetched, saved, r.AlreadySynced, r.BeforeWindow, r.NoSummary, r.Failed,
			platformStatus(r, res.DryRun))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, r := range res.Platforms {
		for _, f := range r.Files {
			fmt.Fprintf(w, "  + %s\n", f)
		}
	}

	for _, r := range res.Platforms {
		if len(r.Items) > 0 {
			fmt.Fprintf(w, "\n%s meetings that failed:\n", r.Platform.DisplayName())
			for _, item := range r.Items {
				fmt.Fprintf(w, "  %s %q (%s): %s\n", item.ExternalID, truncate(item.Title, 60), item.Code, item.Error)
			}
		}
		if !r.OK() {
			fmt.Fprintf(w, "\n%s failed: %s\n", r.Platform.DisplayName(), r.Error)
			if r.Suggestion != "" {
				fmt.Fprintf(w, "  Suggested action: %s\n", r.Suggestion)
			}
		}
	}

	verb := "Saved"
	if res.DryRun {
		verb = "Would save"
	}
	fmt.Fprintf(w, "\n%s %d note(s) in %s\n", verb, total, res.FinishedAt.Sub(res.StartedAt).Round(time.Second))
	return nil
}
