// Package main provides the meetsync CLI entry point.
// meetsync copies meeting summaries from Heypocket, Zoom and Google Meet into
// an Obsidian vault as markdown notes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetsync/cmd"
	"github.com/otherjamesbrown/meetsync/config"
	"github.com/otherjamesbrown/meetsync/pkg/buildinfo"
)

// opts holds the persistent flags shared with every subcommand.
var opts = &cmd.GlobalOptions{}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meetsync",
	Short: "Sync meeting summaries into an Obsidian vault",
	Long: `meetsync copies AI meeting summaries into an Obsidian vault as markdown notes.

Sources:
  Heypocket    REST API, authenticated with an API key
  Zoom         AI Companion summaries, read through a signed-in Chrome profile
  Google Meet  "Notes by Gemini" documents, read through a signed-in Chrome profile

Each meeting is written once. A state database remembers what was saved and
how far each platform has been synced, so repeated runs only fetch new meetings.

COMMON WORKFLOWS:
  First run:    meetsync config init --vault ~/Obsidian  ->  meetsync auth set-key heypocket
  Daily sync:   meetsync sync
  Catch up:     meetsync state reset -p zoom -y  ->  meetsync sync -p zoom --since 2024-01-01
  Inspect:      meetsync state status  |  meetsync state verify`,
	SilenceErrors: true,
}

// Version command flags.
var versionOutputJSON bool

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of meetsync.

Use --output-json for machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.Get(buildinfo.Name)
		out := cmd.OutOrStdout()

		if versionOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}

		fmt.Fprintf(out, "%s version %s\n", info.ServiceName, buildinfo.String())
		fmt.Fprintf(out, "  go: %s\n", info.GoVersion)
		return nil
	},
}

// configCmd manages meetsync configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and create the meetsync configuration file.

Configuration is read from, in order: --config, $MEETSYNC_CONFIG_DIR/config.yaml,
./config.yaml, ~/.config/meetings2obsidian/config.yaml, ~/.meetsync/config.yaml.
MEETSYNC_* environment variables and global flags override file values.`,
}

// configShowCmd displays the effective configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print the configuration after file, environment and flag overlays, as YAML.
Secrets are redacted. Validation problems are reported on stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := config.Read(opts.ConfigFile)
		if err != nil {
			return err
		}
		opts.Overlay(cfg)

		out := cmd.OutOrStdout()
		if path == "" {
			fmt.Fprintln(out, "# no config file found, showing defaults")
		} else {
			fmt.Fprintf(out, "# config file: %s\n", path)
		}

		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Redacted()); err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}

		if err := cfg.ExpandPaths(); err == nil {
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: configuration is not valid: %v\n", err)
			}
		}
		return nil
	},
}

// configPathCmd prints which config file is in use.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Locate(opts.ConfigFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if path != "" {
			fmt.Fprintln(out, path)
			return nil
		}

		path, err = config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (not created yet, run 'meetsync config init')\n", path)
		return nil
	},
}

// Config init flags.
var (
	configInitVault string
	configInitForce bool
)

// configInitCmd writes a default configuration file.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with default values",
	Long: `Create a configuration file with default values.

The file is written to --config when given, otherwise to ~/.meetsync/config.yaml
(or $MEETSYNC_CONFIG_DIR/config.yaml). An existing file is kept unless --force is set.`,
	Example: `  meetsync config init --vault ~/Documents/Obsidian
  meetsync config init --vault ~/notes --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if configInitVault != "" {
			vault, err := config.ExpandPath(configInitVault)
			if err != nil {
				return fmt.Errorf("invalid vault path: %w", err)
			}
			cfg.VaultPath = vault
		}
		opts.Overlay(cfg)

		target := ""
		if opts.ConfigFile != "" {
			p, err := config.ExpandPath(opts.ConfigFile)
			if err != nil {
				return err
			}
			target = p
		}

		path, err := config.SaveConfig(cfg, target, configInitForce)
		if err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Created configuration file: %s\n", path)
		if cfg.VaultPath == "" {
			fmt.Fprintln(out, "\nSet obsidian_vault_path before running 'meetsync sync'.")
		}
		fmt.Fprintln(out, "Next: 'meetsync auth set-key heypocket' to add your Heypocket API key.")
		return nil
	},
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default is ~/.meetsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format: console, json")
	rootCmd.PersistentFlags().StringVar(&opts.Timezone, "timezone", "", "IANA time zone for note names and --since (overrides config)")

	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output version information as JSON")

	configInitCmd.Flags().StringVar(&configInitVault, "vault", "", "Obsidian vault directory")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)

	// Add command groups for organized help output.
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Syncing:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	deps := cmd.DefaultDeps(opts)

	syncCmd := cmd.NewSyncCommand(deps)
	syncCmd.GroupID = "sync"
	stateCmd := cmd.NewStateCommand(deps)
	stateCmd.GroupID = "sync"

	authCmd := cmd.NewAuthCommand(deps)
	authCmd.GroupID = "setup"
	configCmd.GroupID = "setup"
	versionCmd.GroupID = "setup"

	rootCmd.AddCommand(syncCmd, stateCmd, authCmd, configCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
