package identity

import "strings"

// guidSchemes maps recognized GUID URL-scheme prefixes to providers. Plex has
// shipped several generations of agent identifiers; both the modern short
// schemes and the legacy com.plexapp.agents forms appear in the wild,
// sometimes on the same item.
var guidSchemes = map[string]Provider{
	"imdb://":                          ProviderIMDB,
	"tmdb://":                          ProviderTMDB,
	"tvdb://":                          ProviderTVDB,
	"com.plexapp.agents.imdb://":       ProviderIMDB,
	"com.plexapp.agents.themoviedb://": ProviderTMDB,
	"com.plexapp.agents.thetvdb://":    ProviderTVDB,
}

// primaryGUIDPrefix marks the media server's own stable identifier scheme.
const primaryGUIDPrefix = "plex://"

// ParseGUIDs extracts typed external IDs and the primary server GUID from a
// list of raw GUID strings. Unrecognized schemes are ignored; the function is
// total and never fails, it only returns fewer fields populated.
func ParseGUIDs(raw []string) (primary string, external ExternalIDs) {
	for _, guid := range raw {
		guid = strings.TrimSpace(guid)
		if guid == "" {
			continue
		}
		if strings.HasPrefix(guid, primaryGUIDPrefix) {
			if primary == "" {
				primary = guid
			}
			continue
		}
		for prefix, provider := range guidSchemes {
			if !strings.HasPrefix(guid, prefix) {
				continue
			}
			id := strings.TrimPrefix(guid, prefix)
			// Legacy agent GUIDs carry ?lang=xx qualifiers.
			if idx := strings.IndexByte(id, '?'); idx >= 0 {
				id = id[:idx]
			}
			id = strings.TrimSpace(id)
			if id != "" && external.Get(provider) == "" {
				external.Set(provider, id)
			}
			break
		}
	}
	return primary, external
}
