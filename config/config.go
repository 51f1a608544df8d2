// Package config provides configuration management for the meetsync command-line tool.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetsync/pkg/db"
	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultConfigDir       = ".meetsync"
	DefaultConfigFile      = "config.yaml"
	DefaultStateFile       = "meetings_state.db"
	DefaultOutputFolder    = "Meetings"
	DefaultTimezone        = "Local"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultHeypocketURL    = "https://public.heypocketai.com/api/v1"
	DefaultHeypocketRPS    = 5.0
	DefaultRequestTimeout  = 30 * time.Second
	DefaultBrowserLookback = 30 * 24 * time.Hour
	DefaultLoginTimeout    = 120 * time.Second
	DefaultLoginPoll       = 2 * time.Second

	// legacyConfigDir is where earlier releases kept config.yaml, relative to home.
	legacyConfigDir = ".config/meetings2obsidian"
)

// StateConfig selects the state ledger backend.
type StateConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `yaml:"path,omitempty" validate:"required_if=Driver sqlite"`
	DSN    string `yaml:"dsn,omitempty" validate:"required_if=Driver postgres"`
}

// HeypocketConfig configures the REST API source.
type HeypocketConfig struct {
	Enabled bool `yaml:"enabled"`
	// APIKey is usually left empty in favor of the credentials store.
	APIKey            string        `yaml:"api_key,omitempty"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	DefaultLookback   time.Duration `yaml:"default_lookback" validate:"gte=0"`
}

// BrowserConfig controls the Chrome instance a browser platform drives.
type BrowserConfig struct {
	// UserDataDir keeps the login between runs. Empty uses the shared default profile.
	UserDataDir       string        `yaml:"user_data_dir,omitempty"`
	Ephemeral         bool          `yaml:"ephemeral"`
	Headless          bool          `yaml:"headless"`
	ExecPath          string        `yaml:"exec_path,omitempty"`
	LoginTimeout      time.Duration `yaml:"login_timeout" validate:"gte=0"`
	LoginPollInterval time.Duration `yaml:"login_poll_interval" validate:"gte=0"`
}

// BrowserPlatformConfig configures a browser-driven source.
type BrowserPlatformConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DefaultLookback time.Duration `yaml:"default_lookback" validate:"gte=0"`
	Browser         BrowserConfig `yaml:"browser"`
}

// PlatformsConfig groups the per-platform settings.
type PlatformsConfig struct {
	Heypocket  HeypocketConfig       `yaml:"heypocket"`
	Zoom       BrowserPlatformConfig `yaml:"zoom"`
	GoogleMeet BrowserPlatformConfig `yaml:"googlemeet"`
}

// Config holds the meetsync configuration.
type Config struct {
	// VaultPath is the root of the Obsidian vault. It must already exist.
	VaultPath    string `yaml:"obsidian_vault_path" validate:"required,dir"`
	OutputFolder string `yaml:"output_folder" validate:"required"`
	// Timezone is an IANA zone name, or Local.
	Timezone  string          `yaml:"timezone" validate:"required,tzname"`
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string          `yaml:"log_format" validate:"oneof=console json"`
	State     StateConfig     `yaml:"state"`
	Platforms PlatformsConfig `yaml:"platforms"`

	// MetricsFile receives a Prometheus textfile after each sync.
	MetricsFile string `yaml:"metrics_file,omitempty"`
	// DebugDir receives page HTML when a selector cascade finds nothing.
	DebugDir string `yaml:"debug_dir,omitempty"`
}

// DefaultConfig returns a Config with default values. VaultPath is left empty.
func DefaultConfig() *Config {
	statePath := DefaultStateFile
	if dir, err := ConfigDir(); err == nil {
		statePath = filepath.Join(dir, DefaultStateFile)
	}
	browserPlatform := BrowserPlatformConfig{
		Enabled:         true,
		DefaultLookback: DefaultBrowserLookback,
		Browser: BrowserConfig{
			LoginTimeout:      DefaultLoginTimeout,
			LoginPollInterval: DefaultLoginPoll,
		},
	}
	return &Config{
		OutputFolder: DefaultOutputFolder,
		Timezone:     DefaultTimezone,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		State: StateConfig{
			Driver: string(db.DriverSQLite),
			Path:   statePath,
		},
		Platforms: PlatformsConfig{
			Heypocket: HeypocketConfig{
				Enabled:           true,
				BaseURL:           DefaultHeypocketURL,
				RequestsPerSecond: DefaultHeypocketRPS,
				Timeout:           DefaultRequestTimeout,
			},
			Zoom:       browserPlatform,
			GoogleMeet: browserPlatform,
		},
	}
}

// ConfigDir returns the configuration directory path.
// Uses $MEETSYNC_CONFIG_DIR if set, otherwise ~/.meetsync
func ConfigDir() (string, error) {
	if dir := os.Getenv("MEETSYNC_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the path new configuration is written to.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// SearchPaths lists the candidate config files in lookup order, excluding
// an explicit --config path.
func SearchPaths() []string {
	var paths []string
	if dir := os.Getenv("MEETSYNC_CONFIG_DIR"); dir != "" {
		paths = append(paths, filepath.Join(dir, DefaultConfigFile))
	}
	paths = append(paths, DefaultConfigFile)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, legacyConfigDir, DefaultConfigFile),
			filepath.Join(home, DefaultConfigDir, DefaultConfigFile),
		)
	}
	return paths
}

// Locate returns the config file to load. An explicit path must exist. With
// no explicit path the first existing entry of SearchPaths wins, and an empty
// string means none was found.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		path, err := ExpandPath(explicit)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	for _, p := range SearchPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", nil
}

// Read loads defaults, the located file, and the environment overlay without
// validating. It returns the file used, empty when none was found.
func Read(explicit string) (*Config, string, error) {
	cfg := DefaultConfig()

	path, err := Locate(explicit)
	if err != nil {
		return nil, "", syncerr.Configuration("locating config file", err)
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, path, syncerr.Configuration("loading "+path, err)
		}
	}

	loadFromEnv(cfg)
	return cfg, path, nil
}

// LoadConfig loads the configuration and validates it.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (see Locate)
// 3. Environment variables (MEETSYNC_*)
// 4. overlays, typically command-line flags
func LoadConfig(explicit string, overlays ...func(*Config)) (*Config, error) {
	cfg, _, err := Read(explicit)
	if err != nil {
		return nil, err
	}
	for _, apply := range overlays {
		apply(cfg)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, syncerr.Configuration("expanding paths", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. Keys absent from the
// file keep their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("MEETSYNC_VAULT_PATH"); v != "" {
		cfg.VaultPath = v
	}

	if v := os.Getenv("MEETSYNC_OUTPUT_FOLDER"); v != "" {
		cfg.OutputFolder = v
	}

	if v := os.Getenv("MEETSYNC_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}

	if v := os.Getenv("MEETSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v := os.Getenv("MEETSYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	if v := os.Getenv("MEETSYNC_STATE_DRIVER"); v != "" {
		cfg.State.Driver = strings.ToLower(v)
	}

	if v := os.Getenv("MEETSYNC_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}

	if v := os.Getenv("MEETSYNC_STATE_DSN"); v != "" {
		cfg.State.DSN = v
	}

	if v := os.Getenv("MEETSYNC_HEYPOCKET_API_KEY"); v != "" {
		cfg.Platforms.Heypocket.APIKey = v
	}

	if v := os.Getenv("MEETSYNC_HEYPOCKET_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Platforms.Heypocket.RequestsPerSecond = rps
		}
	}

	if v := os.Getenv("MEETSYNC_CHROME_PATH"); v != "" {
		cfg.Platforms.Zoom.Browser.ExecPath = v
		cfg.Platforms.GoogleMeet.Browser.ExecPath = v
	}

	if v := os.Getenv("MEETSYNC_HEADLESS"); v == "true" || v == "1" {
		cfg.Platforms.Zoom.Browser.Headless = true
		cfg.Platforms.GoogleMeet.Browser.Headless = true
	}

	if v := os.Getenv("MEETSYNC_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}

	if v := os.Getenv("MEETSYNC_DEBUG_DIR"); v != "" {
		cfg.DebugDir = v
	}
}

// ExpandPaths expands ~ in every path setting.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.VaultPath,
		&c.State.Path,
		&c.MetricsFile,
		&c.DebugDir,
		&c.Platforms.Zoom.Browser.UserDataDir,
		&c.Platforms.GoogleMeet.Browser.UserDataDir,
		&c.Platforms.Zoom.Browser.ExecPath,
		&c.Platforms.GoogleMeet.Browser.ExecPath,
	} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. Field names in errors use the
// yaml keys so messages match the config file.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("tzname", func(fl validator.FieldLevel) bool {
			_, err := loadLocation(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return syncerr.Configuration("validating config", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return syncerr.Configuration(strings.Join(msgs, "; "), nil)
}

func fieldMessage(fe validator.FieldError) string {
	// Namespace is "Config.platforms.heypocket.timeout"; drop the type name.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "dir":
		return fmt.Sprintf("%s: %q is not an existing directory", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: %q must be one of %s", field, fe.Value(), fe.Param())
	case "tzname":
		return fmt.Sprintf("%s: unknown time zone %q", field, fe.Value())
	case "url":
		return fmt.Sprintf("%s: %q is not a URL", field, fe.Value())
	case "gte":
		return field + " must not be negative"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return nil, syncerr.Configuration("timezone", err)
	}
	return loc, nil
}

func loadLocation(name string) (*time.Location, error) {
	switch {
	case name == "":
		return nil, errors.New("time zone is empty")
	case strings.EqualFold(name, "local"):
		return time.Local, nil
	default:
		return time.LoadLocation(name)
	}
}

// StateDB returns the state ledger connection settings.
func (c *Config) StateDB() db.Config {
	cfg := *db.DefaultConfig()
	cfg.Driver = db.Driver(c.State.Driver)
	if c.State.Path != "" {
		cfg.Path = c.State.Path
	}
	cfg.DSN = c.State.DSN
	return cfg
}

// EnabledPlatforms returns the enabled platforms in sync order.
func (c *Config) EnabledPlatforms() []meeting.Platform {
	var out []meeting.Platform
	for _, p := range meeting.AllPlatforms {
		if c.Enabled(p) {
			out = append(out, p)
		}
	}
	return out
}

// Enabled reports whether p is switched on.
func (c *Config) Enabled(p meeting.Platform) bool {
	switch p {
	case meeting.Heypocket:
		return c.Platforms.Heypocket.Enabled
	case meeting.Zoom:
		return c.Platforms.Zoom.Enabled
	case meeting.GoogleMeet:
		return c.Platforms.GoogleMeet.Enabled
	default:
		return false
	}
}

// Lookbacks returns each platform's default_lookback.
func (c *Config) Lookbacks() map[meeting.Platform]time.Duration {
	return map[meeting.Platform]time.Duration{
		meeting.Heypocket:  c.Platforms.Heypocket.DefaultLookback,
		meeting.Zoom:       c.Platforms.Zoom.DefaultLookback,
		meeting.GoogleMeet: c.Platforms.GoogleMeet.DefaultLookback,
	}
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Platforms.Heypocket.APIKey != "" {
		out.Platforms.Heypocket.APIKey = "********"
	}
	if out.State.DSN != "" {
		out.State.DSN = redactDSN(out.State.DSN)
	}
	return &out
}

// redactDSN hides the password of a postgres URL or key=value DSN.
func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		rest := dsn[i+3:]
		at := strings.LastIndexByte(rest, '@')
		if at < 0 {
			return dsn
		}
		if colon := strings.IndexByte(rest[:at], ':'); colon >= 0 {
			return dsn[:i+3] + rest[:colon] + ":****" + rest[at:]
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=****"
		}
	}
	return strings.Join(fields, " ")
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig writes cfg to path, or to ConfigPath when path is empty. It
// refuses to overwrite an existing file unless force is set.
func SaveConfig(cfg *Config, path string, force bool) (string, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return "", fmt.Errorf("getting config path: %w", err)
		}
		path = p
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%s already exists", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return path, fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return path, fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return path, fmt.Errorf("writing config file: %w", err)
	}

	return path, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
