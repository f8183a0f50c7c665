package dedup

import (
	"fmt"

	"telecast/internal/identity"
)

// Keys returns every deduplication key the episode answers to: the stable
// title-derived key first, then one key per populated show identifier. Any
// single overlapping key marks two candidates as the same notification.
func Keys(ref identity.Ref, season, episode int) []string {
	keys := make([]string, 0, 5)
	if stable := StableKey(ref, season, episode); stable != "" {
		keys = append(keys, stable)
	}
	add := func(prefix, value string) {
		if value != "" {
			keys = append(keys, fmt.Sprintf("%s:%s|S%dE%d", prefix, value, season, episode))
		}
	}
	add("key", ref.LibraryKey)
	add("guid", ref.GUID)
	add("imdb", ref.External.IMDB)
	add("tmdb", ref.External.TMDB)
	add("tvdb", ref.External.TVDB)
	return keys
}

// StableKey is the identifier-free episode key derived from the normalized
// title. It survives GUID reissues and library rebuilds.
func StableKey(ref identity.Ref, season, episode int) string {
	if identity.FallbackKey(ref.Title, ref.Year) == "" {
		return ""
	}
	return identity.Fingerprint(ref.Title, ref.Year, season, episode)
}
