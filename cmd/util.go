// Package cmd provides the meetsync subcommands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetsync/config"
	"github.com/otherjamesbrown/meetsync/credentials"
	"github.com/otherjamesbrown/meetsync/pkg/buildinfo"
	"github.com/otherjamesbrown/meetsync/pkg/db"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/state"
)

// GlobalOptions holds the root command's persistent flags.
type GlobalOptions struct {
	ConfigFile string
	Verbose    bool
	LogFormat  string
	Timezone   string
}

// Overlay applies flag values on top of file and environment settings.
func (o *GlobalOptions) Overlay(cfg *config.Config) {
	if o == nil {
		return
	}
	if o.Verbose {
		cfg.LogLevel = string(logging.LevelDebug)
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if o.Timezone != "" {
		cfg.Timezone = o.Timezone
	}
}

// CommandDeps holds the dependencies shared by meetsync commands.
type CommandDeps struct {
	Options         *GlobalOptions
	LoadConfig      func(explicit string, overlays ...func(*config.Config)) (*config.Config, error)
	OpenState       func(ctx context.Context, cfg db.Config, opts ...state.Option) (*state.Store, error)
	OpenCredentials func() (*credentials.Store, error)
	// Sources builds the source for one platform. Nil uses the live adapters.
	Sources SourceFactory
	// LogOutput receives log lines; nil means stderr.
	LogOutput io.Writer
	Now       func() time.Time
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps(opts *GlobalOptions) *CommandDeps {
	if opts == nil {
		opts = &GlobalOptions{}
	}
	return &CommandDeps{
		Options:         opts,
		LoadConfig:      config.LoadConfig,
		OpenState:       state.Open,
		OpenCredentials: credentials.NewStore,
		Now:             time.Now,
	}
}

// Config loads and validates configuration with the global flags applied
// last, followed by any command-specific overlays.
func (d *CommandDeps) Config(extra ...func(*config.Config)) (*config.Config, error) {
	overlays := append([]func(*config.Config){d.Options.Overlay}, extra...)
	cfg, err := d.LoadConfig(d.Options.ConfigFile, overlays...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// Logger builds the process logger from cfg.
func (d *CommandDeps) Logger(cfg *config.Config) logging.Logger {
	out := d.LogOutput
	noColor := false
	if out == nil {
		out = os.Stderr
		noColor = !term.IsTerminal(int(os.Stderr.Fd()))
	}
	return logging.NewLogger(&logging.Config{
		Level:       logging.ParseLevel(cfg.LogLevel),
		ServiceName: buildinfo.Name,
		JSONFormat:  cfg.LogFormat == "json",
		NoColor:     noColor,
		Output:      out,
	})
}

func (d *CommandDeps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// openState opens the state ledger. A store that cannot be opened ends the process.
func (d *CommandDeps) openState(ctx context.Context, cfg *config.Config, logger logging.Logger, readOnly bool) (*state.Store, error) {
	opts := []state.Option{state.WithLogger(logger)}
	if readOnly {
		opts = append(opts, state.WithReadOnly())
	}
	store, err := d.OpenState(ctx, cfg.StateDB(), opts...)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return store, nil
}

// parseOutputFormat validates an --output value.
func parseOutputFormat(s string) (config.OutputFormat, error) {
	f := config.OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return config.OutputFormatText, nil
	}
	if !f.IsValid() {
		return "", fmt.Errorf("invalid output format %q (valid: text, json, yaml)", s)
	}
	return f, nil
}

// parsePlatformArg parses an optional --platform value. Empty means all.
func parsePlatformArg(s string) (*meeting.Platform, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	p, err := meeting.ParsePlatform(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputYAML writes v as YAML.
func outputYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// output renders v in a structured format, or calls text for the default.
func output(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		return outputJSON(w, v)
	case config.OutputFormatYAML:
		return outputYAML(w, v)
	default:
		return text(w)
	}
}

// formatTime renders t in loc, or "-" for the zero time.
func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
