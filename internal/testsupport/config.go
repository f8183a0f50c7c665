package testsupport

import (
	"path/filepath"
	"testing"

	"telecast/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Paths.APIToken = "test-token"
	cfg.Plex.URL = "http://plex.test:32400"
	cfg.Plex.Token = "plex-test-token"
	cfg.Tautulli.URL = "http://tautulli.test:8181"
	cfg.Tautulli.APIKey = "tautulli-test-key"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWatchedThreshold overrides the watched-completion threshold.
func WithWatchedThreshold(threshold float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Notify.WatchedThreshold = threshold
	}
}

// WithoutTautulli clears the Tautulli settings so eligibility falls back to
// subscriptions.
func WithoutTautulli() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Tautulli.URL = ""
		cfg.Tautulli.APIKey = ""
	}
}
