package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/meetsync/credentials"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// minAPIKeyLength rejects obviously truncated pastes.
const minAPIKeyLength = 8

// Auth command flags
var (
	authKey    string
	authStdin  bool
	authOutput string
)

// apiPlatforms are the platforms that authenticate with an API key. Browser
// platforms sign in through the Chrome profile instead.
var apiPlatforms = []meeting.Platform{meeting.Heypocket}

// NewAuthCommand creates the auth command with all subcommands.
func NewAuthCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage platform API keys",
		Long: `Manage the API keys meetsync uses for API-based platforms.

Keys are stored encrypted (AES-256-GCM) in ~/.meetsync/credentials.yaml.
The encryption key comes from, in order:
  1. MEETSYNC_ENCRYPTION_KEY (64 hex characters)
  2. MEETSYNC_PASSPHRASE (Argon2id; the salt is kept in the credentials file)
  3. The system keyring (macOS Keychain, Windows Credential Manager, Secret Service)

At sync time a key is looked up in MEETSYNC_<PLATFORM>_API_KEY first, then
in the config file, then in the credentials store.

Zoom and Google Meet need no key: sign in once in the Chrome window that
meetsync opens and the profile keeps the session.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newAuthSetKeyCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthRemoveCommand(deps))

	return cmd
}

// newAuthSetKeyCommand creates the 'auth set-key' subcommand.
func newAuthSetKeyCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key <platform>",
		Short: "Store an API key",
		Long: `Store the API key for a platform in the encrypted credentials store.

The key is read without echo from the terminal. Use --stdin to pipe it in
from a password manager. --key works too but leaves the key in shell history.`,
		Example: `  meetsync auth set-key heypocket
  op read op://vault/heypocket/key | meetsync auth set-key heypocket --stdin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthSetKey(cmd, deps, args[0])
		},
	}

	cmd.Flags().StringVar(&authKey, "key", "", "API key value (visible in shell history)")
	cmd.Flags().BoolVar(&authStdin, "stdin", false, "Read the API key from standard input")

	return cmd
}

// newAuthStatusCommand creates the 'auth status' subcommand.
func newAuthStatusCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where each API key comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd, deps)
		},
	}

	cmd.Flags().StringVarP(&authOutput, "output", "o", "text", "Output format: text, json, yaml")

	return cmd
}

// newAuthRemoveCommand creates the 'auth remove' subcommand.
func newAuthRemoveCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <platform>",
		Short: "Delete a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthRemove(cmd, deps, args[0])
		},
	}
}

// parseAPIPlatform accepts only platforms that use an API key.
func parseAPIPlatform(name string) (meeting.Platform, error) {
	p, err := meeting.ParsePlatform(name)
	if err != nil {
		return "", err
	}
	for _, ap := range apiPlatforms {
		if p == ap {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s signs in through the browser and has no API key", p.DisplayName())
}

func runAuthSetKey(cmd *cobra.Command, deps *CommandDeps, name string) error {
	p, err := parseAPIPlatform(name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var key string
	switch {
	case authKey != "":
		key = authKey
	case authStdin:
		key, err = readLine(cmd.InOrStdin())
	default:
		key, err = readSecret(cmd.InOrStdin(), out, fmt.Sprintf("%s API key: ", p.DisplayName()))
	}
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}
	key = strings.TrimSpace(key)
	if err := validateAPIKey(key); err != nil {
		return err
	}

	store, err := deps.OpenCredentials()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	if err := store.SetKey(string(p), key); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}

	fmt.Fprintf(out, "Stored %s API key %s (id %s)\n", p.DisplayName(), credentials.MaskAPIKey(key), credentials.GenerateAPIKeyID(key))
	fmt.Fprintf(out, "Credentials file: %s\n", store.Path())
	fmt.Fprintf(out, "Encryption key:   %s\n", store.KeySource())
	if os.Getenv(credentials.EnvVar(string(p))) != "" {
		fmt.Fprintf(out, "\nNote: %s is set and takes precedence over the stored key.\n", credentials.EnvVar(string(p)))
	}
	return nil
}

// validateAPIKey performs basic validation on an API key.
func validateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("API key is empty")
	}
	if len(key) < minAPIKeyLength {
		return fmt.Errorf("API key is too short")
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("API key must not contain whitespace")
	}
	return nil
}

// readSecret prompts on out and reads without echo when in is a terminal,
// otherwise it reads one line.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readLine(in)
}

func readLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// keyStatus describes how one platform's API key resolves.
type keyStatus struct {
	Platform  meeting.Platform `json:"platform" yaml:"platform"`
	EnvVar    string           `json:"env_var" yaml:"env_var"`
	EnvSet    bool             `json:"env_set" yaml:"env_set"`
	InConfig  bool             `json:"in_config" yaml:"in_config"`
	Stored    string           `json:"stored,omitempty" yaml:"stored,omitempty"`
	KeyID     string           `json:"key_id,omitempty" yaml:"key_id,omitempty"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Error     string           `json:"error,omitempty" yaml:"error,omitempty"`
	Active    string           `json:"active" yaml:"active"`
}

type authReport struct {
	CredentialsFile string      `json:"credentials_file" yaml:"credentials_file"`
	KeySource       string      `json:"key_source,omitempty" yaml:"key_source,omitempty"`
	StoreError      string      `json:"store_error,omitempty" yaml:"store_error,omitempty"`
	Keys            []keyStatus `json:"keys" yaml:"keys"`
}

func runAuthStatus(cmd *cobra.Command, deps *CommandDeps) error {
	format, err := parseOutputFormat(authOutput)
	if err != nil {
		return err
	}

	// Status is useful before a config exists, so a load failure only hides
	// the config column.
	configKeys := map[meeting.Platform]string{}
	if cfg, err := deps.Config(); err == nil {
		configKeys[meeting.Heypocket] = cfg.Platforms.Heypocket.APIKey
	}

	report := authReport{}
	stored := map[string]credentials.Status{}
	store, err := deps.OpenCredentials()
	if err != nil {
		report.StoreError = err.Error()
	} else {
		report.CredentialsFile = store.Path()
		report.KeySource = store.KeySource()
		list, err := store.List()
		if err != nil {
			report.StoreError = err.Error()
		}
		for _, st := range list {
			stored[st.Platform] = st
		}
	}
	if report.CredentialsFile == "" {
		report.CredentialsFile, _ = credentials.CredentialsPath()
	}

	for _, p := range apiPlatforms {
		ks := keyStatus{
			Platform: p,
			EnvVar:   credentials.EnvVar(string(p)),
			InConfig: strings.TrimSpace(configKeys[p]) != "",
			Active:   "none",
		}
		ks.EnvSet = os.Getenv(ks.EnvVar) != ""
		if st, ok := stored[string(p)]; ok {
			ks.Stored = st.Masked
			ks.KeyID = st.Fingerprint
			ks.Error = st.Error
			updated := st.UpdatedAt
			ks.UpdatedAt = &updated
		}
		switch {
		case ks.EnvSet:
			ks.Active = string(credentials.OriginEnv)
		case ks.InConfig:
			ks.Active = string(credentials.OriginConfig)
		case ks.Stored != "" && ks.Error == "":
			ks.Active = string(credentials.OriginStore)
		}
		report.Keys = append(report.Keys, ks)
	}

	return output(cmd.OutOrStdout(), format, report, func(w io.Writer) error {
		fmt.Fprintln(w, "Authentication Status")
		fmt.Fprintln(w, "=====================")
		fmt.Fprintf(w, "Credentials file: %s\n", report.CredentialsFile)
		if report.KeySource != "" {
			fmt.Fprintf(w, "Encryption key:   %s\n", report.KeySource)
		}
		if report.StoreError != "" {
			fmt.Fprintf(w, "Store error:      %s\n", report.StoreError)
		}
		for _, ks := range report.Keys {
			fmt.Fprintf(w, "\n%s:\n", ks.Platform.DisplayName())
			if ks.EnvSet {
				fmt.Fprintf(w, "  %s: set\n", ks.EnvVar)
			} else {
				fmt.Fprintf(w, "  %s: (not set)\n", ks.EnvVar)
			}
			fmt.Fprintf(w, "  Config api_key: %s\n", yesNo(ks.InConfig))
			switch {
			case ks.Error != "":
				fmt.Fprintf(w, "  Stored key: unreadable (%s)\n", ks.Error)
			case ks.Stored != "":
				fmt.Fprintf(w, "  Stored key: %s (id %s, updated %s)\n", ks.Stored, ks.KeyID, ks.UpdatedAt.Format(time.RFC3339))
			default:
				fmt.Fprintln(w, "  Stored key: none")
			}
			if ks.Active == "none" {
				fmt.Fprintf(w, "  Active: none. Run 'meetsync auth set-key %s'.\n", ks.Platform)
			} else {
				fmt.Fprintf(w, "  Active: %s\n", ks.Active)
			}
		}
		return nil
	})
}

func runAuthRemove(cmd *cobra.Command, deps *CommandDeps, name string) error {
	p, err := parseAPIPlatform(name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	store, err := deps.OpenCredentials()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	removed, err := store.Remove(string(p))
	if err != nil {
		return fmt.Errorf("removing API key: %w", err)
	}
	if !removed {
		fmt.Fprintf(out, "No stored %s API key.\n", p.DisplayName())
	} else {
		fmt.Fprintf(out, "Removed stored %s API key.\n", p.DisplayName())
	}

	if env := credentials.EnvVar(string(p)); os.Getenv(env) != "" {
		fmt.Fprintf(out, "\nNote: %s is still set.\nUnset it with: unset %s\n", env, env)
	}
	return nil
}
