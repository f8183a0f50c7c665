// Package store provides the SQLite-backed persistence layer: canonical show
// identities, notification bookkeeping, user preferences, and first-seen
// episode timestamps.
package store
