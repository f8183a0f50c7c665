package resolver_test

import (
	"context"
	"testing"
	"time"

	"telecast/internal/identity"
	"telecast/internal/resolver"
	"telecast/internal/services/plex"
	"telecast/internal/store"
	"telecast/internal/testsupport"
)

type fakePlex struct {
	shows []plex.Show
}

func (f *fakePlex) RecentEpisodes(context.Context, time.Time) ([]plex.Episode, error) {
	return nil, nil
}

func (f *fakePlex) Shows(context.Context) ([]plex.Show, error) {
	return f.shows, nil
}

func (f *fakePlex) ShowByKey(_ context.Context, ratingKey string) (*plex.Show, error) {
	for i := range f.shows {
		if f.shows[i].RatingKey == ratingKey {
			return &f.shows[i], nil
		}
	}
	return nil, nil
}

func (f *fakePlex) ShowByGUID(_ context.Context, guid string) (*plex.Show, error) {
	for i := range f.shows {
		if f.shows[i].GUID == guid {
			return &f.shows[i], nil
		}
	}
	return nil, nil
}

func (f *fakePlex) SearchShows(_ context.Context, title string) ([]plex.Show, error) {
	var out []plex.Show
	for _, s := range f.shows {
		if s.Title == title {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakePlex) AccountUsers(context.Context) ([]plex.User, error) {
	return nil, nil
}

func newResolver(t *testing.T, shows ...plex.Show) (*resolver.Resolver, *store.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	return resolver.New(st, &fakePlex{shows: shows}, nil), st
}

func TestResolveByGUID(t *testing.T) {
	r, _ := newResolver(t, plex.Show{
		RatingKey: "42",
		GUID:      "plex://show/dark",
		Title:     "Dark",
		Year:      2017,
	})

	outcome, err := r.Resolve(context.Background(), identity.Ref{GUID: "plex://show/dark"}, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Matched || outcome.Reason != resolver.ReasonMatchedGUID {
		t.Fatalf("expected guid match, got %+v", outcome)
	}
	if outcome.Show.RatingKey != "42" {
		t.Fatalf("wrong show: %+v", outcome.Show)
	}
	if outcome.Identity.ID == 0 {
		t.Fatal("expected identity recorded")
	}
}

func TestResolveDriftedGUIDThroughLibraryKey(t *testing.T) {
	// The show's GUID changed server-side; the stale reference still carries
	// the library key, which resolves and relinks the new GUID.
	r, st := newResolver(t, plex.Show{
		RatingKey: "42",
		GUID:      "plex://show/dark-v2",
		Title:     "Dark",
		Year:      2017,
	})

	ref := identity.Ref{GUID: "plex://show/dark-v1", LibraryKey: "42", Title: "Dark"}
	outcome, err := r.Resolve(context.Background(), ref, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Matched || outcome.Reason != resolver.ReasonMatchedLibraryKey {
		t.Fatalf("expected library key match, got %+v", outcome)
	}

	stored, err := st.FindIdentity(context.Background(), store.IdentityLookup{GUID: "plex://show/dark-v2"})
	if err != nil {
		t.Fatalf("FindIdentity: %v", err)
	}
	if stored == nil {
		t.Fatal("new guid should be linked in the identity store")
	}
}

func TestResolveByExternalIDPriority(t *testing.T) {
	r, _ := newResolver(t,
		plex.Show{RatingKey: "1", GUID: "plex://show/a", Title: "Show A", External: identity.ExternalIDs{TMDB: "100"}},
		plex.Show{RatingKey: "2", GUID: "plex://show/b", Title: "Show B", External: identity.ExternalIDs{IMDB: "tt200"}},
	)

	// Both IDs present: the IMDB match must win over TMDB.
	ref := identity.Ref{External: identity.ExternalIDs{IMDB: "tt200", TMDB: "100"}}
	outcome, err := r.Resolve(context.Background(), ref, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Matched || outcome.Reason != resolver.ReasonMatchedExternalID {
		t.Fatalf("expected external id match, got %+v", outcome)
	}
	if outcome.Show.RatingKey != "2" {
		t.Fatalf("imdb should take priority, got show %s", outcome.Show.RatingKey)
	}
}

func TestResolveExternalIDBeatsStaleGUID(t *testing.T) {
	// A library rebuild reissued GUIDs but the external IDs survived: the
	// reference's old GUID now points at an unrelated show, so the external
	// rung must run first and carry the match.
	r, _ := newResolver(t,
		plex.Show{RatingKey: "1", GUID: "plex://show/old-slot", Title: "Recycled Slot"},
		plex.Show{RatingKey: "2", GUID: "plex://show/fresh", Title: "Dark", External: identity.ExternalIDs{IMDB: "tt5753856"}},
	)

	ref := identity.Ref{GUID: "plex://show/old-slot", External: identity.ExternalIDs{IMDB: "tt5753856"}}
	outcome, err := r.Resolve(context.Background(), ref, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Matched || outcome.Reason != resolver.ReasonMatchedExternalID {
		t.Fatalf("expected external id match, got %+v", outcome)
	}
	if outcome.Show.RatingKey != "2" {
		t.Fatalf("external id should outrank guid, got show %s", outcome.Show.RatingKey)
	}
}

func TestResolveFailureReasonNamesDeepestRung(t *testing.T) {
	r, _ := newResolver(t, plex.Show{RatingKey: "1", GUID: "plex://show/present", Title: "Present"})

	cases := []struct {
		name string
		ref  identity.Ref
		opts resolver.Options
		want resolver.Reason
	}{
		{"external only", identity.Ref{External: identity.ExternalIDs{TVDB: "999"}}, resolver.Options{}, resolver.ReasonNoMatchExternal},
		{"guid only", identity.Ref{GUID: "plex://show/gone"}, resolver.Options{}, resolver.ReasonNoMatchGUID},
		{"library key only", identity.Ref{LibraryKey: "404"}, resolver.Options{}, resolver.ReasonNoMatchLibraryKey},
		{"title without search", identity.Ref{Title: "Absent"}, resolver.Options{}, resolver.ReasonNoMatchFingerprint},
		{"title with search", identity.Ref{Title: "Absent"}, resolver.Options{AllowTitleSearch: true}, resolver.ReasonNoMatchTitle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := r.Resolve(context.Background(), tc.ref, tc.opts)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if outcome.Matched || outcome.Reason != tc.want {
				t.Fatalf("want %s, got %+v", tc.want, outcome)
			}
		})
	}
}

func TestResolveTitleExactYear(t *testing.T) {
	r, _ := newResolver(t,
		plex.Show{RatingKey: "1", Title: "Ghosts", Year: 2019},
		plex.Show{RatingKey: "2", Title: "Ghosts", Year: 2021},
	)

	outcome, err := r.Resolve(context.Background(), identity.Ref{Title: "Ghosts (2021)"}, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Matched || outcome.Show.RatingKey != "2" {
		t.Fatalf("expected year-disambiguated match, got %+v", outcome)
	}
}

func TestResolveAmbiguousTitleRefuses(t *testing.T) {
	r, _ := newResolver(t,
		plex.Show{RatingKey: "1", Title: "Ghosts", Year: 2019},
		plex.Show{RatingKey: "2", Title: "Ghosts", Year: 2021},
	)

	outcome, err := r.Resolve(context.Background(), identity.Ref{Title: "Ghosts"}, resolver.Options{AllowTitleSearch: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Matched || outcome.Reason != resolver.ReasonAmbiguous {
		t.Fatalf("expected ambiguous refusal, got %+v", outcome)
	}
}

func TestResolveTitleSearchGatedByOption(t *testing.T) {
	r, _ := newResolver(t,
		plex.Show{RatingKey: "1", Title: "Severance", Year: 2022},
	)

	// Title differs only loosely (no year recorded anywhere): matches either
	// way here, but a show absent from the library must report the fingerprint
	// miss, and the diacritic-folded comparison still finds the real row.
	off, err := r.Resolve(context.Background(), identity.Ref{Title: "Los Espookys"}, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if off.Matched || off.Reason != resolver.ReasonNoMatchFingerprint {
		t.Fatalf("expected fingerprint miss, got %+v", off)
	}

	on, err := r.Resolve(context.Background(), identity.Ref{Title: "SEVERANCE!"}, resolver.Options{AllowTitleSearch: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !on.Matched {
		t.Fatalf("expected normalized title match, got %+v", on)
	}
}

func TestResolveEmptyRef(t *testing.T) {
	r, _ := newResolver(t)
	outcome, err := r.Resolve(context.Background(), identity.Ref{}, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if outcome.Matched || outcome.Reason != resolver.ReasonNoIdentifiers {
		t.Fatalf("expected no_identifiers, got %+v", outcome)
	}
}

func TestResolveEnrichesFromStoredIdentity(t *testing.T) {
	r, st := newResolver(t, plex.Show{
		RatingKey: "42",
		GUID:      "plex://show/dark",
		Title:     "Dark",
		Year:      2017,
	})

	// A past resolution linked the title to the GUID.
	if _, _, err := st.UpsertIdentity(context.Background(), identity.ShowIdentity{
		GUID:        "plex://show/dark",
		Title:       "Dark",
		Year:        2017,
		Fingerprint: "dark|year:2017",
	}); err != nil {
		t.Fatalf("UpsertIdentity: %v", err)
	}

	// A title-only reference now rides the stored GUID instead of needing a
	// title search.
	outcome, err := r.Resolve(context.Background(), identity.Ref{Title: "Dark", Year: 2017}, resolver.Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !outcome.Matched || outcome.Reason != resolver.ReasonMatchedGUID {
		t.Fatalf("expected enrichment to guid match, got %+v", outcome)
	}
}
