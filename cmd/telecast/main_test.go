package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeCLIConfig writes a minimal valid config pointing at temp directories
// and returns its path.
func writeCLIConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\n",
		filepath.Join(base, "data"),
		filepath.Join(base, "logs"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got %q", want, output)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	cfgPath := writeCLIConfig(t)
	target := filepath.Join(t.TempDir(), "telecast.toml")

	out, err := runCLI(t, cfgPath, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, cfgPath, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init over an existing file to fail")
	}
}

func TestConfigShowReportsState(t *testing.T) {
	cfgPath := writeCLIConfig(t)

	out, err := runCLI(t, cfgPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "Config path:")
	requireContains(t, out, "not configured")
}

func TestSubscriptionsLifecycle(t *testing.T) {
	cfgPath := writeCLIConfig(t)

	out, err := runCLI(t, cfgPath, "subscriptions", "add", "Viewer@Example.com", "Severance")
	if err != nil {
		t.Fatalf("subscriptions add: %v", err)
	}
	requireContains(t, out, `Subscribed viewer@example.com to "Severance"`)

	out, err = runCLI(t, cfgPath, "subscriptions", "list", "viewer@example.com")
	if err != nil {
		t.Fatalf("subscriptions list: %v", err)
	}
	requireContains(t, out, "Severance")
	requireContains(t, out, "subscribed")

	out, err = runCLI(t, cfgPath, "subscriptions", "opt-out", "viewer@example.com", "Severance")
	if err != nil {
		t.Fatalf("subscriptions opt-out: %v", err)
	}
	requireContains(t, out, `Opted out viewer@example.com for "Severance"`)

	out, err = runCLI(t, cfgPath, "subscriptions", "list", "viewer@example.com")
	if err != nil {
		t.Fatalf("subscriptions list after opt-out: %v", err)
	}
	requireContains(t, out, "opted out")

	out, err = runCLI(t, cfgPath, "subscriptions", "opt-out", "viewer@example.com")
	if err != nil {
		t.Fatalf("global opt-out: %v", err)
	}
	requireContains(t, out, "all notifications")

	out, err = runCLI(t, cfgPath, "subscriptions", "list", "viewer@example.com")
	if err != nil {
		t.Fatalf("subscriptions list after global opt-out: %v", err)
	}
	requireContains(t, out, "opted out of all notifications")

	out, err = runCLI(t, cfgPath, "subscriptions", "remove", "viewer@example.com", "Severance")
	if err != nil {
		t.Fatalf("subscriptions remove: %v", err)
	}
	requireContains(t, out, `Unsubscribed viewer@example.com from "Severance"`)
}

func TestDaemonBackedCommandsNeedRunningDaemon(t *testing.T) {
	cfgPath := writeCLIConfig(t)

	if _, err := runCLI(t, cfgPath, "status"); err == nil {
		t.Fatal("expected status without a daemon to fail")
	} else if !strings.Contains(err.Error(), "connect to daemon") {
		t.Fatalf("unexpected error: %v", err)
	}
}
