// Package identity defines the canonical show identity model and the pure
// functions that derive identifiers from raw upstream data.
//
// The media server and the watch-history service expose the same show under
// several identifier schemes: internal library keys that change when a show
// is removed and re-added, plex:// GUIDs, legacy agent GUIDs, and external
// database IDs. ParseGUIDs turns the raw strings into typed ExternalIDs, and
// the fingerprint helpers produce the normalized title/year key used as a
// last resort when nothing stable is available.
//
// Everything here is pure and total: parsing never fails, it only populates
// fewer fields.
package identity
