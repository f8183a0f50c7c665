package dedup_test

import (
	"context"
	"testing"
	"time"

	"telecast/internal/dedup"
	"telecast/internal/identity"
	"telecast/internal/store"
	"telecast/internal/testsupport"
)

func TestKeysCoverEveryIdentifier(t *testing.T) {
	ref := identity.Ref{
		Title:      "Dark",
		Year:       2017,
		LibraryKey: "42",
		GUID:       "plex://show/dark",
		External:   identity.ExternalIDs{IMDB: "tt5753856"},
	}
	keys := dedup.Keys(ref, 3, 1)
	want := map[string]bool{
		"dark|year:2017|s:3|e:1":     true,
		"key:42|S3E1":                true,
		"guid:plex://show/dark|S3E1": true,
		"imdb:tt5753856|S3E1":        true,
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for _, key := range keys {
		if !want[key] {
			t.Fatalf("unexpected key %q in %v", key, keys)
		}
	}
}

func TestAlreadySentAcrossGUIDDrift(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	d := dedup.New(st, nil, nil)
	ctx := context.Background()

	sent := store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		GUID:       "plex://show/old",
		Season:     3,
		Episode:    1,
		EpisodeKey: "dark|year:2017|s:3|e:1",
	}
	if _, err := d.Record(ctx, sent); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Same episode observed later under a reissued GUID; the library key and
	// stable episode key still overlap, so it must count as sent.
	drifted := identity.Ref{
		Title:      "Dark",
		Year:       2017,
		LibraryKey: "42",
		GUID:       "plex://show/new",
	}
	already, err := d.AlreadySent(ctx, "viewer@example.com", drifted, 3, 1)
	if err != nil {
		t.Fatalf("AlreadySent: %v", err)
	}
	if !already {
		t.Fatal("drifted guid must still dedup against the original record")
	}

	// A different episode of the same show is not deduped.
	already, err = d.AlreadySent(ctx, "viewer@example.com", drifted, 3, 2)
	if err != nil {
		t.Fatalf("AlreadySent: %v", err)
	}
	if already {
		t.Fatal("different episode should not be deduped")
	}
}

func TestAlreadySentConsultsEveryCandidateKey(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	cache := dedup.NewCache(time.Minute, 100)
	d := dedup.New(st, cache, nil)
	ctx := context.Background()

	// A verdict cached under the GUID key answers a later reference that
	// shares only that identifier, with no store row backing it.
	cache.Put("viewer@example.com", "guid:plex://show/dark|S3E1", true)
	already, err := d.AlreadySent(ctx, "viewer@example.com",
		identity.Ref{GUID: "plex://show/dark", LibraryKey: "7"}, 3, 1)
	if err != nil {
		t.Fatalf("AlreadySent: %v", err)
	}
	if !already {
		t.Fatal("cached verdict under a shared identifier key must be found")
	}

	// A cached negative under the stable key alone does not settle a richer
	// reference: its extra GUID key still reaches the store, which knows.
	titleOnly := identity.Ref{Title: "Severance", Year: 2022}
	already, err = d.AlreadySent(ctx, "other@example.com", titleOnly, 2, 1)
	if err != nil {
		t.Fatalf("AlreadySent: %v", err)
	}
	if already {
		t.Fatal("nothing recorded yet")
	}

	if _, err := st.RecordNotification(ctx, store.Notification{
		Email:     "other@example.com",
		ShowTitle: "Severance (US)",
		GUID:      "plex://show/severance",
		Season:    2,
		Episode:   1,
	}); err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}

	richer := identity.Ref{Title: "Severance", Year: 2022, GUID: "plex://show/severance"}
	already, err = d.AlreadySent(ctx, "other@example.com", richer, 2, 1)
	if err != nil {
		t.Fatalf("AlreadySent: %v", err)
	}
	if !already {
		t.Fatal("uncached guid key must fall through to the store")
	}
}

func TestRecordInvalidatesCache(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	d := dedup.New(st, dedup.NewCache(time.Minute, 10), nil)
	ctx := context.Background()

	ref := identity.Ref{Title: "Severance", Year: 2022, LibraryKey: "100"}

	// Prime the cache with a negative verdict.
	already, err := d.AlreadySent(ctx, "viewer@example.com", ref, 2, 1)
	if err != nil {
		t.Fatalf("AlreadySent: %v", err)
	}
	if already {
		t.Fatal("nothing recorded yet")
	}

	if _, err := d.Record(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Severance",
		LibraryKey: "100",
		Season:     2,
		Episode:    1,
		EpisodeKey: dedup.StableKey(ref, 2, 1),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	already, err = d.AlreadySent(ctx, "viewer@example.com", ref, 2, 1)
	if err != nil {
		t.Fatalf("AlreadySent after record: %v", err)
	}
	if !already {
		t.Fatal("stale cached verdict survived the write")
	}
}

func TestCacheTTLAndCap(t *testing.T) {
	cache := dedup.NewCache(time.Minute, 2)

	cache.Put("a@example.com", "k1", true)
	if sent, ok := cache.Get("a@example.com", "k1"); !ok || !sent {
		t.Fatal("expected cached verdict")
	}

	// Exceeding the cap clears rather than grows.
	cache.Put("a@example.com", "k2", false)
	cache.Put("a@example.com", "k3", false)
	if _, ok := cache.Get("a@example.com", "k1"); ok {
		t.Fatal("cap eviction should have dropped earlier entries")
	}
	if sent, ok := cache.Get("a@example.com", "k3"); !ok || sent {
		t.Fatal("latest entry should survive eviction")
	}

	cache.Invalidate("a@example.com")
	if _, ok := cache.Get("a@example.com", "k3"); ok {
		t.Fatal("invalidate should drop the user")
	}
}
