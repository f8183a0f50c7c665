package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Plex contains connection settings for the media server.
type Plex struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	LibrarySection string `toml:"library_section"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Tautulli contains connection settings for the watch-history service.
type Tautulli struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SMTP carries outbound mail settings. Telecast itself never speaks SMTP;
// the values are handed to the delivery collaborator and used to decide
// whether delivery is configured at all.
type SMTP struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	FromAddress string `toml:"from_address"`
}

// Notify contains eligibility and dedup tuning.
type Notify struct {
	WatchedThreshold    float64 `toml:"watched_threshold"`
	HistoryPageLength   int     `toml:"history_page_length"`
	HistoryCacheTTL     int     `toml:"history_cache_ttl_seconds"`
	HistoryCacheLimit   int     `toml:"history_cache_limit"`
	RetryAttempts       int     `toml:"retry_attempts"`
	RetryMinWaitSeconds int     `toml:"retry_min_wait_seconds"`
	RetryMaxWaitSeconds int     `toml:"retry_max_wait_seconds"`
}

// Workflow contains daemon timing and reconciliation settings.
type Workflow struct {
	PollIntervalMinutes int  `toml:"poll_interval_minutes"`
	ManualLookbackHours int  `toml:"manual_lookback_hours"`
	ReconcileOnStartup  bool `toml:"reconcile_on_startup"`
	ReconcileBatchSize  int  `toml:"reconcile_batch_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Telecast.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Plex: media server connection and library section
//   - Tautulli: watch-history service connection
//   - SMTP: outbound mail settings handed to the delivery collaborator
//   - Notify: watch threshold, dedup cache, and retry tuning
//   - Workflow: poll interval and reconciliation settings
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Plex     Plex     `toml:"plex"`
	Tautulli Tautulli `toml:"tautulli"`
	SMTP     SMTP     `toml:"smtp"`
	Notify   Notify   `toml:"notify"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/telecast/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("telecast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path,
// refusing to clobber an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration text.
func Sample() string {
	return sampleConfig
}

// EnsureDirectories creates the data and log directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// PlexConfigured reports whether usable media server settings are present.
func (c *Config) PlexConfigured() bool {
	return !isPlaceholder(c.Plex.URL) && !isPlaceholder(c.Plex.Token)
}

// TautulliConfigured reports whether usable watch-history settings are present.
func (c *Config) TautulliConfigured() bool {
	return !isPlaceholder(c.Tautulli.URL) && !isPlaceholder(c.Tautulli.APIKey)
}

// DeliveryConfigured reports whether the SMTP collaborator has real settings.
func (c *Config) DeliveryConfigured() bool {
	return !isPlaceholder(c.SMTP.Host) && !isPlaceholder(c.SMTP.FromAddress)
}

func isPlaceholder(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "replace") || strings.HasPrefix(lower, "your-") || lower == "changeme"
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}
