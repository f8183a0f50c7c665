package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePlex(); err != nil {
		return err
	}
	if err := c.validateTautulli(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	// Missing or placeholder credentials elsewhere only degrade behavior; a
	// published default API token is the one setting that must never run.
	if c.Paths.APIToken == insecureAPIToken {
		return fmt.Errorf("paths.api_token is set to the published default %q; generate your own token or leave it empty to disable auth", insecureAPIToken)
	}
	return nil
}

func (c *Config) validatePlex() error {
	if c.Plex.URL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Plex.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("plex.url %q is not a valid URL", c.Plex.URL)
	}
	return nil
}

func (c *Config) validateTautulli() error {
	if c.Tautulli.URL == "" && c.Tautulli.APIKey == "" {
		return nil
	}
	if c.Tautulli.URL == "" || c.Tautulli.APIKey == "" {
		return errors.New("tautulli.url and tautulli.api_key must be set together")
	}
	parsed, err := url.Parse(c.Tautulli.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("tautulli.url %q is not a valid URL", c.Tautulli.URL)
	}
	return nil
}

func (c *Config) validateNotify() error {
	if c.Notify.WatchedThreshold <= 0 || c.Notify.WatchedThreshold > 1 {
		return errors.New("notify.watched_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}
