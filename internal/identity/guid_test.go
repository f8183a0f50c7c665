package identity_test

import (
	"testing"

	"telecast/internal/identity"
)

func TestParseGUIDsRecognizesModernSchemes(t *testing.T) {
	primary, ids := identity.ParseGUIDs([]string{
		"plex://show/5d9c086c7b1fcd001e6ccd70",
		"imdb://tt0903747",
		"tmdb://1396",
		"tvdb://81189",
	})

	if primary != "plex://show/5d9c086c7b1fcd001e6ccd70" {
		t.Fatalf("unexpected primary guid %q", primary)
	}
	if ids.IMDB != "tt0903747" || ids.TMDB != "1396" || ids.TVDB != "81189" {
		t.Fatalf("unexpected external ids %+v", ids)
	}
}

func TestParseGUIDsHandlesLegacyAgentForms(t *testing.T) {
	_, ids := identity.ParseGUIDs([]string{
		"com.plexapp.agents.thetvdb://81189?lang=en",
		"com.plexapp.agents.imdb://tt0903747?lang=en",
		"com.plexapp.agents.themoviedb://1396",
	})

	if ids.TVDB != "81189" {
		t.Fatalf("expected lang qualifier stripped, got %q", ids.TVDB)
	}
	if ids.IMDB != "tt0903747" || ids.TMDB != "1396" {
		t.Fatalf("unexpected external ids %+v", ids)
	}
}

func TestParseGUIDsIgnoresUnknownSchemesAndKeepsFirst(t *testing.T) {
	primary, ids := identity.ParseGUIDs([]string{
		"local://4031",
		"",
		"tvdb://111",
		"tvdb://222",
		"plex://show/aaa",
		"plex://show/bbb",
	})

	if ids.TVDB != "111" {
		t.Fatalf("expected first tvdb id kept, got %q", ids.TVDB)
	}
	if primary != "plex://show/aaa" {
		t.Fatalf("expected first primary guid kept, got %q", primary)
	}
	if ids.IMDB != "" || ids.TMDB != "" {
		t.Fatalf("unknown schemes should be ignored, got %+v", ids)
	}
}

func TestParseGUIDsIsTotal(t *testing.T) {
	primary, ids := identity.ParseGUIDs(nil)
	if primary != "" || !ids.Empty() {
		t.Fatalf("expected empty result, got %q %+v", primary, ids)
	}
}
