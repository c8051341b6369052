package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/web3scout/scout/examples"
	"github.com/web3scout/scout/internal/config"
	"github.com/web3scout/scout/internal/policy"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// writeConfig writes a minimal config file so tests never pick up a
// config.yaml from the developer's machine.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}, envMap(nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Scout ") {
		t.Errorf("output = %q, want Scout banner", out.String())
	}
	if !strings.Contains(out.String(), "go_version:") {
		t.Errorf("output missing go_version: %q", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}, envMap(nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Errorf("version missing from %v", info)
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args, envMap(nil)); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: scout") {
			t.Errorf("run(%v) output = %q, want usage", args, out.String())
		}
	}
}

func TestRun_BadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"unknown flag", []string{"--verbose", "serve"}, "unknown flag"},
		{"bad output format", []string{"-o", "xml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: scout ask"},
		{"search without query", []string{"search"}, "usage: scout search"},
		{"missing config file", []string{"-config", "/nonexistent/scout.yaml", "serve"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args, envMap(nil))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_ServeMissingCredentials(t *testing.T) {
	path := writeConfig(t, "log_level: error\n")
	env := envMap(map[string]string{
		config.EnvGeminiKey: "g-key",
		config.EnvTavilyKey: "t-key",
	})

	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", path, "serve"}, env)

	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *config.ConfigurationError", err)
	}
	if !slices.Contains(cfgErr.Missing, config.EnvCryptoPanicKey) {
		t.Errorf("Missing = %v, want %s", cfgErr.Missing, config.EnvCryptoPanicKey)
	}
	if slices.Contains(cfgErr.Missing, config.EnvGeminiKey) {
		t.Errorf("Missing = %v, should not list the supplied %s", cfgErr.Missing, config.EnvGeminiKey)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9000\npersistence:\n  driver: memory\n")
	env := envMap(map[string]string{
		config.EnvGeminiKey:      "g-key",
		config.EnvTavilyKey:      "t-key",
		config.EnvCryptoPanicKey: "c-key",
		config.EnvListenPort:     "9100",
	})

	cfg, gotPath, err := loadConfig(path, env)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if gotPath != path {
		t.Errorf("path = %q, want %q", gotPath, path)
	}
	if cfg.Listen.Port != 9100 {
		t.Errorf("port = %d, want 9100 from the environment", cfg.Listen.Port)
	}
	if cfg.Persistence.Driver != "memory" {
		t.Errorf("driver = %q, want memory from the file", cfg.Persistence.Driver)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	got := policyFromConfig(config.PolicyConfig{
		OutputFormat:         "table",
		RecentDays:           14,
		WidenedDays:          7,
		MinResults:           5,
		MaxClarifyCandidates: 2,
		ExcludedTerms:        []string{"Initial Coin Office"},
		RequireSources:       false,
	})

	want := policy.Default()
	want.Recency = policy.Recency{DefaultDays: 14, WidenedDays: 14, MinResults: 5}
	want.Clarify.MaxCandidates = 2
	want.Relevance.ExcludedTerms = []string{"Initial Coin Office"}
	want.Output.Format = policy.FormatTable
	want.Verification.RequireSources = false

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}
}

func TestPolicyFromConfig_DefaultsMatchStockPolicy(t *testing.T) {
	got := policyFromConfig(config.Default().Policy)
	if diff := cmp.Diff(policy.Default(), got); diff != "" {
		t.Errorf("default config drifts from policy.Default (-want +got):\n%s", diff)
	}
}

func TestExampleConfig_LoadsAndMatchesDefaults(t *testing.T) {
	// Every ${VAR} in the example expands to empty here.
	path := writeConfig(t, os.Expand(string(examples.ConfigYAML), func(string) string { return "" }))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("example config drifts from defaults (-default +example):\n%s", diff)
	}
}

// clearUmask makes file permission assertions deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "scout")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	path := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, examples.ConfigYAML) {
		t.Error("config.yaml does not match the embedded example")
	}
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output = %q, want a ✓ line", buf.String())
	}
}

func TestRunInit_PreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	custom := []byte("listen:\n  port: 1234\n")
	if err := os.WriteFile(path, custom, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, custom) {
		t.Errorf("config.yaml overwritten: %q", data)
	}
	if !strings.Contains(buf.String(), "left unchanged") {
		t.Errorf("output = %q, want left unchanged note", buf.String())
	}
}
