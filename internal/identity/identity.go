package identity

import (
	"fmt"
	"strings"
	"time"
)

// Provider names an external database that can identify a show.
type Provider string

const (
	ProviderIMDB Provider = "imdb"
	ProviderTMDB Provider = "tmdb"
	ProviderTVDB Provider = "tvdb"
)

// ProviderOrder is the fixed priority used when resolving by external ID.
var ProviderOrder = []Provider{ProviderIMDB, ProviderTMDB, ProviderTVDB}

// ExternalIDs holds per-provider identifiers for one show. Empty fields mean
// the provider has not been observed for the show yet.
type ExternalIDs struct {
	IMDB string
	TMDB string
	TVDB string
}

// Get returns the identifier for the given provider.
func (e ExternalIDs) Get(p Provider) string {
	switch p {
	case ProviderIMDB:
		return e.IMDB
	case ProviderTMDB:
		return e.TMDB
	case ProviderTVDB:
		return e.TVDB
	}
	return ""
}

// Set stores the identifier for the given provider, ignoring unknown providers.
func (e *ExternalIDs) Set(p Provider, id string) {
	switch p {
	case ProviderIMDB:
		e.IMDB = id
	case ProviderTMDB:
		e.TMDB = id
	case ProviderTVDB:
		e.TVDB = id
	}
}

// Empty reports whether no provider IDs are populated.
func (e ExternalIDs) Empty() bool {
	return e.IMDB == "" && e.TMDB == "" && e.TVDB == ""
}

// Count returns how many provider IDs are populated.
func (e ExternalIDs) Count() int {
	n := 0
	for _, p := range ProviderOrder {
		if e.Get(p) != "" {
			n++
		}
	}
	return n
}

// ShowIdentity is the canonical record for one real-world show. At most one
// exists per show; raw identifiers from either upstream all point at it.
// Identities are merged forward over time and never deleted.
type ShowIdentity struct {
	ID          int64
	LibraryKey  string
	GUID        string
	External    ExternalIDs
	Title       string
	Year        int
	Fingerprint string
	UpdatedAt   time.Time
}

// IdentifierCount scores identity completeness: the number of populated
// identifier fields. Used to pick a survivor when records collide.
func (s *ShowIdentity) IdentifierCount() int {
	n := s.External.Count()
	if s.LibraryKey != "" {
		n++
	}
	if s.GUID != "" {
		n++
	}
	return n
}

// Ref is a show reference expressed in whatever identifier space the caller
// has available. Any subset of fields may be populated.
type Ref struct {
	LibraryKey string
	GUID       string
	External   ExternalIDs
	Title      string
	Year       int
}

// Empty reports whether the reference carries no identifying information.
func (r Ref) Empty() bool {
	return r.LibraryKey == "" && r.GUID == "" && r.External.Empty() && strings.TrimSpace(r.Title) == ""
}

// HasIdentifier reports whether the reference carries anything stronger than
// a title.
func (r Ref) HasIdentifier() bool {
	return r.LibraryKey != "" || r.GUID != "" || !r.External.Empty()
}

// String renders a compact diagnostic form.
func (r Ref) String() string {
	parts := make([]string, 0, 4)
	if r.LibraryKey != "" {
		parts = append(parts, "key="+r.LibraryKey)
	}
	if r.GUID != "" {
		parts = append(parts, "guid="+r.GUID)
	}
	for _, p := range ProviderOrder {
		if id := r.External.Get(p); id != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", p, id))
		}
	}
	if r.Title != "" {
		if r.Year > 0 {
			parts = append(parts, fmt.Sprintf("title=%q (%d)", r.Title, r.Year))
		} else {
			parts = append(parts, fmt.Sprintf("title=%q", r.Title))
		}
	}
	if len(parts) == 0 {
		return "<empty ref>"
	}
	return strings.Join(parts, " ")
}
