package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"telecast/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[plex]
url = "http://plex.local:32400"
token = "abc123"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved == "" {
		t.Fatalf("expected config at %s to be found", path)
	}
	if cfg.Notify.WatchedThreshold != 0.8 {
		t.Fatalf("expected default threshold 0.8, got %v", cfg.Notify.WatchedThreshold)
	}
	if cfg.Workflow.PollIntervalMinutes != 30 {
		t.Fatalf("expected default poll interval 30, got %d", cfg.Workflow.PollIntervalMinutes)
	}
	if cfg.Notify.HistoryPageLength != 1000 {
		t.Fatalf("expected page length 1000, got %d", cfg.Notify.HistoryPageLength)
	}
	if cfg.Plex.LibrarySection != "TV Shows" {
		t.Fatalf("unexpected library section %q", cfg.Plex.LibrarySection)
	}
}

func TestLoadRejectsInsecureAPIToken(t *testing.T) {
	path := writeConfig(t, `
[paths]
api_token = "telecast-dev-token"
`)

	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for published default api token")
	}
	if !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsPartialTautulli(t *testing.T) {
	path := writeConfig(t, `
[tautulli]
url = "http://tautulli.local:8181"
`)

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error when tautulli api key missing")
	}
}

func TestPageLengthCeilingEnforced(t *testing.T) {
	path := writeConfig(t, `
[notify]
history_page_length = 5000
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Notify.HistoryPageLength != 1000 {
		t.Fatalf("expected ceiling 1000, got %d", cfg.Notify.HistoryPageLength)
	}
}

func TestPlaceholderDetection(t *testing.T) {
	path := writeConfig(t, `
[plex]
url = "http://plex.local:32400"
token = "REPLACE_WITH_PLEX_TOKEN"
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PlexConfigured() {
		t.Fatal("placeholder token should not count as configured")
	}
	if cfg.TautulliConfigured() {
		t.Fatal("empty tautulli settings should not count as configured")
	}
}
