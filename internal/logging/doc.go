// Package logging constructs slog loggers for the daemon and CLI.
//
// It supports console and JSON formats, mirrors output into the configured
// log directory, and exposes attribute helpers plus the standardized field
// keys components use so the structured output stays greppable.
package logging
