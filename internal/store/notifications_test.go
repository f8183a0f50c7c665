package store_test

import (
	"context"
	"testing"
	"time"

	"telecast/internal/identity"
	"telecast/internal/store"
	"telecast/internal/testsupport"
)

func TestRecordNotificationInsertAndList(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	sent, err := st.RecordNotification(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Severance",
		LibraryKey: "100",
		Season:     2,
		Episode:    1,
		EpisodeKey: "severance|year:2022|s:2|e:1",
	})
	if err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}
	if sent.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if sent.SentAt.IsZero() {
		t.Fatal("expected SentAt to default")
	}

	list, err := st.NotificationsForUser(ctx, "viewer@example.com", 10)
	if err != nil {
		t.Fatalf("NotificationsForUser: %v", err)
	}
	if len(list) != 1 || list[0].ID != sent.ID {
		t.Fatalf("expected the recorded notification, got %+v", list)
	}
}

func TestRecordNotificationGUIDDriftStaysOnce(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, err := st.RecordNotification(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		GUID:       "plex://show/old-guid",
		Season:     3,
		Episode:    1,
		EpisodeKey: "dark|year:2017|s:3|e:1",
		SentAt:     time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("first record: %v", err)
	}

	// The server re-issued the show's GUID. The library key still ties the
	// records together, so the drifted record must merge instead of
	// duplicating.
	second, err := st.RecordNotification(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		GUID:       "plex://show/new-guid",
		External:   identity.ExternalIDs{IMDB: "tt5753856"},
		Season:     3,
		Episode:    1,
		EpisodeKey: "dark|year:2017|s:3|e:1",
	})
	if err != nil {
		t.Fatalf("drifted record: %v", err)
	}

	list, err := st.NotificationsForUser(ctx, "viewer@example.com", 10)
	if err != nil {
		t.Fatalf("NotificationsForUser: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one surviving record, got %d", len(list))
	}
	// The newcomer carries more identifiers and wins.
	if second.External.IMDB != "tt5753856" {
		t.Fatalf("winner should keep its external id, got %+v", second)
	}
	_ = first
}

func TestRecordNotificationDifferentEpisodesCoexist(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for episode := 1; episode <= 3; episode++ {
		if _, err := st.RecordNotification(ctx, store.Notification{
			Email:      "viewer@example.com",
			ShowTitle:  "Andor",
			LibraryKey: "200",
			Season:     1,
			Episode:    episode,
		}); err != nil {
			t.Fatalf("record episode %d: %v", episode, err)
		}
	}

	list, err := st.NotificationsForUser(ctx, "viewer@example.com", 10)
	if err != nil {
		t.Fatalf("NotificationsForUser: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected three records, got %d", len(list))
	}
}

func TestSelectNotificationToKeepPrefersStoredRowWhenMoreComplete(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	rich, err := st.RecordNotification(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Breaking Bad",
		LibraryKey: "300",
		GUID:       "plex://show/bb",
		External:   identity.ExternalIDs{IMDB: "tt0903747", TMDB: "1396"},
		Season:     5,
		Episode:    14,
	})
	if err != nil {
		t.Fatalf("rich record: %v", err)
	}

	kept, err := st.RecordNotification(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Breaking Bad",
		LibraryKey: "300",
		Season:     5,
		Episode:    14,
	})
	if err != nil {
		t.Fatalf("sparse record: %v", err)
	}
	if kept.ID != rich.ID {
		t.Fatalf("expected richer stored row %d to survive, got %d", rich.ID, kept.ID)
	}

	list, err := st.NotificationsForUser(ctx, "viewer@example.com", 10)
	if err != nil {
		t.Fatalf("NotificationsForUser: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one record after conflict, got %d", len(list))
	}
}

func TestHasNotificationForShow(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := st.RecordNotification(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		Season:     1,
		Episode:    1,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	has, err := st.HasNotificationForShow(ctx, "viewer@example.com", identity.Ref{LibraryKey: "42"})
	if err != nil {
		t.Fatalf("HasNotificationForShow: %v", err)
	}
	if !has {
		t.Fatal("expected match on library key")
	}

	has, err = st.HasNotificationForShow(ctx, "other@example.com", identity.Ref{LibraryKey: "42"})
	if err != nil {
		t.Fatalf("HasNotificationForShow: %v", err)
	}
	if has {
		t.Fatal("different user should not match")
	}
}

func TestHasNotificationForShowNormalizedTitleFallback(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	// The stored title carries punctuation and diacritics; a bare title-only
	// reference still has to find it through the normalized comparison.
	if _, err := st.RecordNotification(ctx, store.Notification{
		Email:     "viewer@example.com",
		ShowTitle: "M*A*S*H: Les Misérables",
		Season:    1,
		Episode:   1,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	has, err := st.HasNotificationForShow(ctx, "viewer@example.com",
		identity.Ref{Title: "m a s h les miserables"})
	if err != nil {
		t.Fatalf("HasNotificationForShow: %v", err)
	}
	if !has {
		t.Fatal("normalized title should match the punctuated stored title")
	}

	has, err = st.HasNotificationForShow(ctx, "viewer@example.com",
		identity.Ref{Title: "Something Else"})
	if err != nil {
		t.Fatalf("HasNotificationForShow: %v", err)
	}
	if has {
		t.Fatal("unrelated title should not match")
	}
}

func TestBackfillNotificationIdentifiers(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	// Legacy title-only record with no identifiers.
	if _, err := st.RecordNotification(ctx, store.Notification{
		Email:     "viewer@example.com",
		ShowTitle: "The Expanse",
		Season:    6,
		Episode:   1,
	}); err != nil {
		t.Fatalf("legacy record: %v", err)
	}

	resolved := identity.ShowIdentity{
		LibraryKey: "77",
		GUID:       "plex://show/expanse",
		External:   identity.ExternalIDs{TVDB: "280619"},
		Title:      "The Expanse",
	}
	updated, merged, err := st.BackfillNotificationIdentifiers(ctx,
		identity.Ref{Title: "The Expanse"}, resolved)
	if err != nil {
		t.Fatalf("BackfillNotificationIdentifiers: %v", err)
	}
	if updated != 1 || merged != 0 {
		t.Fatalf("expected 1 updated, 0 merged, got %d/%d", updated, merged)
	}

	list, err := st.NotificationsForUser(ctx, "viewer@example.com", 10)
	if err != nil {
		t.Fatalf("NotificationsForUser: %v", err)
	}
	if len(list) != 1 || list[0].GUID != "plex://show/expanse" || list[0].External.TVDB != "280619" {
		t.Fatalf("identifiers not backfilled: %+v", list[0])
	}
}

func TestBackfillMergesCollidingRecords(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	// Two records that look distinct today: one keyed by GUID, one legacy
	// title-only row for the same episode.
	if _, err := st.RecordNotification(ctx, store.Notification{
		Email:     "viewer@example.com",
		ShowTitle: "Dark",
		GUID:      "plex://show/dark",
		Season:    2,
		Episode:   5,
	}); err != nil {
		t.Fatalf("guid record: %v", err)
	}
	if _, err := st.RecordNotification(ctx, store.Notification{
		Email:     "viewer@example.com",
		ShowTitle: "Dark",
		Season:    2,
		Episode:   5,
	}); err != nil {
		t.Fatalf("legacy record: %v", err)
	}

	resolved := identity.ShowIdentity{
		GUID:  "plex://show/dark",
		Title: "Dark",
	}
	_, merged, err := st.BackfillNotificationIdentifiers(ctx, identity.Ref{Title: "Dark"}, resolved)
	if err != nil {
		t.Fatalf("BackfillNotificationIdentifiers: %v", err)
	}
	if merged != 1 {
		t.Fatalf("expected one merged record, got %d", merged)
	}

	list, err := st.NotificationsForUser(ctx, "viewer@example.com", 10)
	if err != nil {
		t.Fatalf("NotificationsForUser: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one surviving record, got %d", len(list))
	}
}

func TestFirstSeenIsStable(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	got, err := st.FirstSeen(ctx, "dark|year:2017|s:1|e:1", first)
	if err != nil {
		t.Fatalf("FirstSeen: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected %v, got %v", first, got)
	}

	later := first.Add(48 * time.Hour)
	got, err = st.FirstSeen(ctx, "dark|year:2017|s:1|e:1", later)
	if err != nil {
		t.Fatalf("FirstSeen repeat: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("first-seen moved: expected %v, got %v", first, got)
	}
}
