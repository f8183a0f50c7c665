package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePlex()
	c.normalizeTautulli()
	c.normalizeSMTP()
	c.normalizeNotify()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizePlex() {
	c.Plex.URL = strings.TrimRight(strings.TrimSpace(c.Plex.URL), "/")
	if c.Plex.Token == "" {
		if value, ok := os.LookupEnv("PLEX_TOKEN"); ok {
			c.Plex.Token = value
		}
	}
	if strings.TrimSpace(c.Plex.LibrarySection) == "" {
		c.Plex.LibrarySection = defaultLibrarySection
	}
	if c.Plex.TimeoutSeconds <= 0 {
		c.Plex.TimeoutSeconds = defaultPlexTimeoutSeconds
	}
}

func (c *Config) normalizeTautulli() {
	c.Tautulli.URL = strings.TrimRight(strings.TrimSpace(c.Tautulli.URL), "/")
	if c.Tautulli.APIKey == "" {
		if value, ok := os.LookupEnv("TAUTULLI_API_KEY"); ok {
			c.Tautulli.APIKey = value
		}
	}
	if c.Tautulli.TimeoutSeconds <= 0 {
		c.Tautulli.TimeoutSeconds = defaultTautulliTimeout
	}
}

func (c *Config) normalizeSMTP() {
	if c.SMTP.Password == "" {
		if value, ok := os.LookupEnv("SMTP_PASSWORD"); ok {
			c.SMTP.Password = value
		}
	}
	if c.SMTP.Port <= 0 {
		c.SMTP.Port = defaultSMTPPort
	}
	c.SMTP.FromAddress = strings.TrimSpace(c.SMTP.FromAddress)
}

func (c *Config) normalizeNotify() {
	if c.Notify.WatchedThreshold <= 0 {
		c.Notify.WatchedThreshold = defaultWatchedThreshold
	}
	if c.Notify.HistoryPageLength <= 0 || c.Notify.HistoryPageLength > defaultHistoryPageLength {
		c.Notify.HistoryPageLength = defaultHistoryPageLength
	}
	if c.Notify.HistoryCacheTTL <= 0 {
		c.Notify.HistoryCacheTTL = defaultHistoryCacheTTL
	}
	if c.Notify.HistoryCacheLimit <= 0 {
		c.Notify.HistoryCacheLimit = defaultHistoryCacheLimit
	}
	if c.Notify.RetryAttempts <= 0 {
		c.Notify.RetryAttempts = defaultRetryAttempts
	}
	if c.Notify.RetryMinWaitSeconds <= 0 {
		c.Notify.RetryMinWaitSeconds = defaultRetryMinWaitSeconds
	}
	if c.Notify.RetryMaxWaitSeconds < c.Notify.RetryMinWaitSeconds {
		c.Notify.RetryMaxWaitSeconds = defaultRetryMaxWaitSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PollIntervalMinutes <= 0 {
		c.Workflow.PollIntervalMinutes = defaultPollIntervalMinutes
	}
	if c.Workflow.ManualLookbackHours <= 0 {
		c.Workflow.ManualLookbackHours = defaultManualLookbackHours
	}
	if c.Workflow.ReconcileBatchSize <= 0 {
		c.Workflow.ReconcileBatchSize = defaultReconcileBatchSize
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
