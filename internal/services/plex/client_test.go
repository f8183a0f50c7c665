package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"telecast/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(config.Plex{
		URL:            server.URL,
		Token:          "token",
		LibrarySection: "2",
	}, WithAccountURL(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestRecentEpisodesDecodesAndFilters(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/sections/2/recentlyAdded" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Plex-Token") != "token" {
			t.Fatal("missing plex token header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MediaContainer":{"size":3,"Metadata":[
            {"ratingKey":"9001","type":"episode","title":"Hello, Elliot","parentIndex":4,"index":13,
             "grandparentRatingKey":"42","grandparentGuid":"plex://show/mr-robot","grandparentTitle":"Mr. Robot",
             "originallyAvailableAt":"2019-12-22","addedAt":1756000000,"duration":3360000},
            {"ratingKey":"9002","type":"episode","title":"Old One","parentIndex":1,"index":1,
             "grandparentRatingKey":"42","grandparentGuid":"plex://show/mr-robot","grandparentTitle":"Mr. Robot",
             "originallyAvailableAt":"2015-06-24","addedAt":1756000000},
            {"ratingKey":"9003","type":"show","title":"Not An Episode"}
        ]}}`))
	})

	client := newTestClient(t, handler)
	cutoff := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	episodes, err := client.RecentEpisodes(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("RecentEpisodes: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("expected the one episode past the cutoff, got %d", len(episodes))
	}
	ep := episodes[0]
	if ep.Show.GUID != "plex://show/mr-robot" || ep.Show.RatingKey != "42" {
		t.Fatalf("show identifiers not decoded: %+v", ep.Show)
	}
	if ep.Season != 4 || ep.Episode != 13 {
		t.Fatalf("episode numbering wrong: S%dE%d", ep.Season, ep.Episode)
	}
	if ep.DurationMins != 56 {
		t.Fatalf("duration not converted: %d", ep.DurationMins)
	}
	if !ep.AvailableAt().Equal(time.Date(2019, 12, 22, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("air date should win for ordering: %v", ep.AvailableAt())
	}
}

func TestRecentEpisodesFallsBackToAddedAt(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MediaContainer":{"size":1,"Metadata":[
            {"ratingKey":"9010","type":"episode","title":"Special","parentIndex":0,"index":1,
             "grandparentRatingKey":"50","grandparentTitle":"Some Show","addedAt":1756000000}
        ]}}`))
	})

	client := newTestClient(t, handler)
	episodes, err := client.RecentEpisodes(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("RecentEpisodes: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("expected one episode, got %d", len(episodes))
	}
	if !episodes[0].AvailableAt().Equal(time.Unix(1756000000, 0)) {
		t.Fatalf("expected added-at fallback, got %v", episodes[0].AvailableAt())
	}
}

func TestShowByKeyParsesExternalIDs(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/metadata/42" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MediaContainer":{"size":1,"Metadata":[
            {"ratingKey":"42","type":"show","title":"Mr. Robot","year":2015,
             "guid":"plex://show/mr-robot",
             "Guid":[{"id":"imdb://tt4158110"},{"id":"tmdb://62560"},{"id":"tvdb://289590"}]}
        ]}}`))
	})

	client := newTestClient(t, handler)
	show, err := client.ShowByKey(context.Background(), "42")
	if err != nil {
		t.Fatalf("ShowByKey: %v", err)
	}
	if show == nil {
		t.Fatal("expected show")
	}
	if show.GUID != "plex://show/mr-robot" {
		t.Fatalf("primary guid wrong: %q", show.GUID)
	}
	if show.External.IMDB != "tt4158110" || show.External.TMDB != "62560" || show.External.TVDB != "289590" {
		t.Fatalf("external ids not parsed: %+v", show.External)
	}
}

func TestShowByKeyNotFoundReturnsNil(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	client := newTestClient(t, handler)
	show, err := client.ShowByKey(context.Background(), "404")
	if err != nil {
		t.Fatalf("ShowByKey: %v", err)
	}
	if show != nil {
		t.Fatalf("expected nil for unknown key, got %+v", show)
	}
}

func TestAccountUsers(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/home/users" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"users":[
            {"id":1,"username":"alice","email":"alice@example.com"},
            {"id":2,"title":"kiosk","email":""}
        ]}`))
	})

	client := newTestClient(t, handler)
	users, err := client.AccountUsers(context.Background())
	if err != nil {
		t.Fatalf("AccountUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected two users, got %d", len(users))
	}
	if users[0].Username != "alice" || users[0].Email != "alice@example.com" {
		t.Fatalf("user fields wrong: %+v", users[0])
	}
	if users[1].Username != "kiosk" {
		t.Fatalf("title should back-fill username: %+v", users[1])
	}
}
