// Package main hosts the Telecast CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon's API, local preference edits, delivery checks,
// and configuration scaffolding. It centralizes configuration resolution so
// subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
