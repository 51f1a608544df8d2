package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/otherjamesbrown/meetsync/cmd"
	"github.com/otherjamesbrown/meetsync/pkg/buildinfo"
)

// run executes the root command with args and returns stdout. Flag values
// from a previous run are cleared first.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags() {
	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	*opts = cmd.GlobalOptions{}
	versionOutputJSON = false
	configInitVault = ""
	configInitForce = false
}

// isolate points the config search path at an empty temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("MEETSYNC_CONFIG_DIR", filepath.Join(dir, ".meetsync"))
	t.Setenv("MEETSYNC_HEYPOCKET_API_KEY", "")
	t.Setenv("MEETSYNC_VAULT_PATH", "")
	t.Chdir(dir)
	return dir
}

func TestRootCommand_Subcommands(t *testing.T) {
	found := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"sync", "state", "auth", "config", "version"} {
		if !found[name] {
			t.Errorf("root command is missing %q", name)
		}
	}

	for _, name := range []string{"config", "verbose", "log-format", "timezone"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s persistent flag not found", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	if versionCmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", versionCmd.Use)
	}
	if versionCmd.Flags().Lookup("output-json") == nil {
		t.Error("--output-json flag not found on version command")
	}

	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "meetsync version "+buildinfo.Version) {
		t.Errorf("version output does not contain 'meetsync version'. Output:\n%s", out)
	}
	if !strings.Contains(out, "("+buildinfo.Commit+", ") {
		t.Errorf("version output does not contain the commit. Output:\n%s", out)
	}
}

func TestVersionCommand_JSON(t *testing.T) {
	out, err := run(t, "version", "--output-json")
	if err != nil {
		t.Fatalf("version --output-json failed: %v", err)
	}

	var info buildinfo.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version --output-json produced invalid JSON: %v\nOutput:\n%s", err, out)
	}
	if info.ServiceName != "meetsync" {
		t.Errorf("service_name = %q, want meetsync", info.ServiceName)
	}
	if info.GoVersion == "" {
		t.Error("go_version is empty")
	}
}

func TestConfigInitShowPath(t *testing.T) {
	dir := isolate(t)
	vault := filepath.Join(dir, "vault")
	if err := os.MkdirAll(vault, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "custom.yaml")

	out, err := run(t, "config", "init", "--config", cfgPath, "--vault", vault)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, "Created configuration file: "+cfgPath) {
		t.Errorf("unexpected init output:\n%s", out)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if _, err := run(t, "config", "init", "--config", cfgPath); err == nil {
		t.Error("config init over an existing file should fail without --force")
	}
	if _, err := run(t, "config", "init", "--config", cfgPath, "--vault", vault, "--force"); err != nil {
		t.Errorf("config init --force failed: %v", err)
	}

	out, err = run(t, "config", "path", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if strings.TrimSpace(out) != cfgPath {
		t.Errorf("config path = %q, want %q", strings.TrimSpace(out), cfgPath)
	}

	t.Setenv("MEETSYNC_HEYPOCKET_API_KEY", "pk_live_secret_value")
	out, err = run(t, "config", "show", "--config", cfgPath, "--timezone", "Europe/Paris")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"# config file: " + cfgPath, "obsidian_vault_path: " + vault, "timezone: Europe/Paris"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "pk_live_secret_value") {
		t.Errorf("config show leaked the API key:\n%s", out)
	}
}

func TestConfigPath_NotCreated(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	want := filepath.Join(dir, ".meetsync", "config.yaml")
	if !strings.Contains(out, want) || !strings.Contains(out, "not created yet") {
		t.Errorf("config path output = %q, want %s (not created yet ...)", out, want)
	}
}
