// Package config loads, normalizes, and validates Telecast configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PLEX_TOKEN, TAUTULLI_API_KEY, and SMTP_PASSWORD. The Config type centralizes
// every knob the daemon and CLI need.
//
// Missing upstream credentials are not load errors: the poll and reconcile
// jobs check PlexConfigured/TautulliConfigured and skip with a warning so a
// half-configured install stays inspectable. The one hard failure is the
// published default API token, which Validate rejects at startup.
package config
