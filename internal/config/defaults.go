package config

const (
	defaultDataDir             = "~/.local/share/telecast"
	defaultLogDir              = "~/.local/share/telecast/logs"
	defaultAPIBind             = "127.0.0.1:7519"
	defaultLibrarySection      = "TV Shows"
	defaultPlexTimeoutSeconds  = 15
	defaultTautulliTimeout     = 15
	defaultSMTPPort            = 587
	defaultWatchedThreshold    = 0.8
	defaultHistoryPageLength   = 1000
	defaultHistoryCacheTTL     = 300
	defaultHistoryCacheLimit   = 200
	defaultRetryAttempts       = 3
	defaultRetryMinWaitSeconds = 2
	defaultRetryMaxWaitSeconds = 16
	defaultPollIntervalMinutes = 30
	defaultManualLookbackHours = 24
	defaultReconcileBatchSize  = 200
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"

	// insecureAPIToken is the placeholder token shipped in older sample
	// configs. Running with it would expose the control API to anything that
	// can guess a published default, so Validate rejects it outright.
	insecureAPIToken = "telecast-dev-token"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Plex: Plex{
			LibrarySection: defaultLibrarySection,
			TimeoutSeconds: defaultPlexTimeoutSeconds,
		},
		Tautulli: Tautulli{
			TimeoutSeconds: defaultTautulliTimeout,
		},
		SMTP: SMTP{
			Port: defaultSMTPPort,
		},
		Notify: Notify{
			WatchedThreshold:    defaultWatchedThreshold,
			HistoryPageLength:   defaultHistoryPageLength,
			HistoryCacheTTL:     defaultHistoryCacheTTL,
			HistoryCacheLimit:   defaultHistoryCacheLimit,
			RetryAttempts:       defaultRetryAttempts,
			RetryMinWaitSeconds: defaultRetryMinWaitSeconds,
			RetryMaxWaitSeconds: defaultRetryMaxWaitSeconds,
		},
		Workflow: Workflow{
			PollIntervalMinutes: defaultPollIntervalMinutes,
			ManualLookbackHours: defaultManualLookbackHours,
			ReconcileOnStartup:  true,
			ReconcileBatchSize:  defaultReconcileBatchSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
