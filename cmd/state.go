package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetsync/pkg/db"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/state"
	"github.com/otherjamesbrown/meetsync/pkg/vault"
)

// State command flags
var (
	stateOutput   string
	statePlatform string
	stateLimit    int
	stateYes      bool
)

// NewStateCommand creates the state command with all subcommands.
func NewStateCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and manage the sync state store",
		Long: `Inspect and manage the state store that records which meetings have been
synced and the watermark of each platform.

The state store lives in a SQLite file (default ~/.meetsync/meetings_state.db)
or a PostgreSQL database. It is compatible with the file written by
meetings2obsidian, so an existing ledger keeps working.

Examples:
  # Per-platform counts and watermarks
  meetsync state status

  # The 20 most recent Zoom meetings
  meetsync state list --platform zoom

  # Forget Google Meet so the next sync fetches everything again
  meetsync state reset --platform googlemeet

  # Check that every recorded note still exists in the vault
  meetsync state verify`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&stateOutput, "output", "o", "text", "Output format: text, json, yaml")

	cmd.AddCommand(newStateStatusCommand(deps))
	cmd.AddCommand(newStateListCommand(deps))
	cmd.AddCommand(newStateResetCommand(deps))
	cmd.AddCommand(newStateVerifyCommand(deps))

	return cmd
}

// newStateStatusCommand creates the 'state status' subcommand.
func newStateStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-platform meeting counts and watermarks",
		Long: `Show how many meetings each platform has recorded, the newest meeting date,
and the watermark the next sync starts from.

A platform with no watermark has never completed a sync; its first run looks
back default_lookback.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateStatus(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
}

// newStateListCommand creates the 'state list' subcommand.
func newStateListCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded meetings",
		Long: `List recorded meetings, newest meeting date first.

Examples:
  meetsync state list
  meetsync state list --platform heypocket --limit 50
  meetsync state list --limit 0 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateList(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}

	cmd.Flags().StringVarP(&statePlatform, "platform", "p", "", "Only list this platform")
	cmd.Flags().IntVarP(&stateLimit, "limit", "n", 20, "Maximum meetings to list (0 = all)")

	return cmd
}

// newStateResetCommand creates the 'state reset' subcommand.
func newStateResetCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget synced meetings so they are fetched again",
		Long: `Delete the recorded meetings and the watermark of one platform, or of every
platform when --platform is not given. Notes already in the vault are left
alone; the next sync writes a new copy with a numeric suffix.

Asks for confirmation unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateReset(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps)
		},
	}

	cmd.Flags().StringVarP(&statePlatform, "platform", "p", "", "Only reset this platform")
	cmd.Flags().BoolVarP(&stateYes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

// newStateVerifyCommand creates the 'state verify' subcommand.
func newStateVerifyCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the vault against the state store",
		Long: `Scan the output folder for notes and compare it with the state store.

Reports recorded meetings whose note is missing from disk and generated notes
that have no state entry. Exits 1 when the two disagree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStateVerify(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
}

// platformStatusRow is one line of 'state status'.
type platformStatusRow struct {
	Platform  meeting.Platform `json:"platform" yaml:"platform"`
	Enabled   bool             `json:"enabled" yaml:"enabled"`
	Meetings  int              `json:"meetings" yaml:"meetings"`
	Newest    *time.Time       `json:"newest_meeting,omitempty" yaml:"newest_meeting,omitempty"`
	Watermark *time.Time       `json:"watermark,omitempty" yaml:"watermark,omitempty"`
}

func runStateStatus(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	format, err := parseOutputFormat(stateOutput)
	if err != nil {
		return err
	}
	cfg, err := deps.Config()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	logger := deps.Logger(cfg)

	store, err := deps.openState(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	byPlatform := make(map[meeting.Platform]state.PlatformStats, len(stats))
	for _, st := range stats {
		byPlatform[st.Platform] = st
	}

	rows := make([]platformStatusRow, 0, len(meeting.AllPlatforms))
	for _, p := range meeting.AllPlatforms {
		st := byPlatform[p]
		delete(byPlatform, p)
		rows = append(rows, platformStatusRow{
			Platform:  p,
			Enabled:   cfg.Enabled(p),
			Meetings:  st.Meetings,
			Newest:    st.NewestDate,
			Watermark: st.LastSync,
		})
	}
	// Platforms recorded by another tool still show up.
	for _, st := range stats {
		if _, ok := byPlatform[st.Platform]; ok {
			rows = append(rows, platformStatusRow{
				Platform:  st.Platform,
				Meetings:  st.Meetings,
				Newest:    st.NewestDate,
				Watermark: st.LastSync,
			})
		}
	}

	return output(out, format, rows, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PLATFORM\tENABLED\tMEETINGS\tNEWEST MEETING\tWATERMARK")
		fmt.Fprintln(tw, "--------\t-------\t--------\t--------------\t---------")
		total := 0
		for _, r := range rows {
			total += r.Meetings
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				r.Platform, yesNo(r.Enabled), r.Meetings, timePtr(r.Newest, loc), watermarkText(r.Watermark, loc))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nTotal: %d meeting(s)\n", total)
		fmt.Fprintf(w, "State store: %s\n", storeSummary(ctx, store.DB()))
		return nil
	})
}

// storeSummary describes the backend, its schema version and reachability.
func storeSummary(ctx context.Context, d *db.DB) string {
	if d.InMemory() {
		return "in memory, no database file yet"
	}
	health := db.Check(ctx, d)
	if !health.Healthy {
		return fmt.Sprintf("%s, unreachable: %v", health.Driver, health.Error)
	}
	migrations, err := db.GetMigrationStatus(ctx, d)
	if err != nil {
		return fmt.Sprintf("%s, schema unknown: %v", health.Driver, err)
	}
	applied := len(migrations.Applied)
	summary := fmt.Sprintf("%s, schema %d/%d", health.Driver, applied, applied+len(migrations.Pending))
	if len(migrations.Pending) > 0 {
		summary += " (run 'meetsync sync' to migrate)"
	}
	return summary
}

func runStateList(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	format, err := parseOutputFormat(stateOutput)
	if err != nil {
		return err
	}
	platform, err := parsePlatformArg(statePlatform)
	if err != nil {
		return err
	}
	if stateLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	cfg, err := deps.Config()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := deps.openState(ctx, cfg, deps.Logger(cfg), true)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Meetings(ctx, state.Filter{Platform: platform, Limit: stateLimit})
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []state.Entry{}
	}

	return output(out, format, entries, func(w io.Writer) error {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No meetings recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tPLATFORM\tTITLE\tSYNCED\tID")
		fmt.Fprintln(tw, "----\t--------\t-----\t------\t--")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				formatTime(e.MeetingDate, loc), e.Platform, truncate(e.Title, 50),
				formatTime(e.DownloadedAt, loc), truncate(e.ExternalID, 24))
		}
		return tw.Flush()
	})
}

func runStateReset(ctx context.Context, in io.Reader, out io.Writer, deps *CommandDeps) error {
	platform, err := parsePlatformArg(statePlatform)
	if err != nil {
		return err
	}
	cfg, err := deps.Config()
	if err != nil {
		return err
	}

	store, err := deps.openState(ctx, cfg, deps.Logger(cfg), false)
	if err != nil {
		return err
	}
	defer store.Close()

	scope := "all platforms"
	if platform != nil {
		scope = platform.DisplayName()
	}

	if !stateYes {
		n, err := store.Count(ctx, platform)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "This forgets %d meeting(s) and the watermark for %s.\n", n, scope)
		fmt.Fprint(out, "Continue? [y/N]: ")
		if !confirm(in) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	removed, err := store.Reset(ctx, platform)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Reset %s: removed %d meeting record(s).\n", scope, removed)
	return nil
}

// confirm reads one line and reports whether it is a yes.
func confirm(in io.Reader) bool {
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func runStateVerify(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	format, err := parseOutputFormat(stateOutput)
	if err != nil {
		return err
	}
	cfg, err := deps.Config()
	if err != nil {
		return err
	}

	store, err := deps.openState(ctx, cfg, deps.Logger(cfg), true)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Meetings(ctx, state.Filter{})
	if err != nil {
		return err
	}
	recorded := make([]string, 0, len(entries))
	for _, e := range entries {
		recorded = append(recorded, e.FilePath)
	}

	writer := vault.NewWriter(cfg.VaultPath, cfg.OutputFolder)
	report, err := writer.Verify(recorded)
	if err != nil {
		return err
	}

	if err := output(out, format, report, func(w io.Writer) error {
		fmt.Fprintf(w, "Scanned %d note(s) in %s against %d state entries.\n", report.Scanned, writer.Dir(), len(entries))
		if len(report.Missing) > 0 {
			fmt.Fprintf(w, "\nRecorded but missing from the vault (%d):\n", len(report.Missing))
			for _, p := range report.Missing {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
		if len(report.Untracked) > 0 {
			fmt.Fprintf(w, "\nIn the vault but not recorded (%d):\n", len(report.Untracked))
			for _, p := range report.Untracked {
				fmt.Fprintf(w, "  ? %s\n", p)
			}
		}
		if report.OK() {
			fmt.Fprintln(w, "Vault and state store agree.")
		}
		return nil
	}); err != nil {
		return err
	}

	if !report.OK() {
		return fmt.Errorf("vault and state store disagree: %d missing, %d untracked",
			len(report.Missing), len(report.Untracked))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func timePtr(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t, loc)
}

func watermarkText(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "never synced"
	}
	return formatTime(*t, loc)
}
