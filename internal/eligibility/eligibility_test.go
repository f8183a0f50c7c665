package eligibility_test

import (
	"context"
	"errors"
	"testing"

	"telecast/internal/eligibility"
	"telecast/internal/identity"
	"telecast/internal/services/tautulli"
	"telecast/internal/store"
	"telecast/internal/testsupport"
)

type fakeHistory struct {
	records []tautulli.HistoryRecord
	err     error
	calls   int
}

func (f *fakeHistory) Users(context.Context) ([]tautulli.User, error) {
	return nil, nil
}

func (f *fakeHistory) History(context.Context, tautulli.HistoryQuery) ([]tautulli.HistoryRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

var dark = identity.Ref{Title: "Dark", Year: 2017, LibraryKey: "42"}

func TestEvaluateGlobalOptOutShortCircuits(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := st.SetGlobalOptOut(ctx, "viewer@example.com", true); err != nil {
		t.Fatalf("SetGlobalOptOut: %v", err)
	}

	history := &fakeHistory{records: []tautulli.HistoryRecord{{WatchedStatus: "played"}}}
	ev := eligibility.New(st, history, 0.8, nil)

	decision, err := ev.Evaluate(ctx, eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Eligible || decision.Reason != eligibility.ReasonOptedOut {
		t.Fatalf("expected opt-out skip, got %+v", decision)
	}
	if history.calls != 0 {
		t.Fatal("opt-out must short-circuit before any history fetch")
	}
}

func TestEvaluateWatchedHistory(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	history := &fakeHistory{records: []tautulli.HistoryRecord{
		{WatchedStatus: "0", PercentComplete: 30},
		{WatchedStatus: "0", PercentComplete: 80},
	}}
	ev := eligibility.New(st, history, 0.8, nil)

	decision, err := ev.Evaluate(context.Background(),
		eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Eligible || decision.Reason != eligibility.ReasonWatchedHistory {
		t.Fatalf("80%% completion is watched, got %+v", decision)
	}
}

func TestEvaluateHistoryBelowThresholdSkipsEvenWhenSubscribed(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := st.UpsertPreference(ctx, store.Preference{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		Subscribed: true,
	}); err != nil {
		t.Fatalf("UpsertPreference: %v", err)
	}

	history := &fakeHistory{records: []tautulli.HistoryRecord{
		{WatchedStatus: "0", PercentComplete: 79.9},
	}}
	ev := eligibility.New(st, history, 0.8, nil)

	decision, err := ev.Evaluate(ctx, eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Eligible || decision.Reason != eligibility.ReasonNotWatched {
		t.Fatalf("history is authoritative when present, got %+v", decision)
	}
}

func TestEvaluateEmptyHistoryFallsBackToSubscription(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := st.UpsertPreference(ctx, store.Preference{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		Subscribed: true,
	}); err != nil {
		t.Fatalf("UpsertPreference: %v", err)
	}

	ev := eligibility.New(st, &fakeHistory{}, 0.8, nil)
	decision, err := ev.Evaluate(ctx, eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Eligible || decision.Reason != eligibility.ReasonSubscription {
		t.Fatalf("expected subscription fallback, got %+v", decision)
	}
}

func TestEvaluateHistoryErrorFallsBackToSubscription(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := st.UpsertPreference(ctx, store.Preference{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		Subscribed: true,
	}); err != nil {
		t.Fatalf("UpsertPreference: %v", err)
	}

	ev := eligibility.New(st, &fakeHistory{err: errors.New("tautulli down")}, 0.8, nil)
	decision, err := ev.Evaluate(ctx, eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Eligible || decision.Reason != eligibility.ReasonSubscription {
		t.Fatalf("history failure must not block a subscriber, got %+v", decision)
	}
}

func TestEvaluateEmptyHistoryFallsBackToPriorNotification(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	// No subscription row, but the user was already notified for this show
	// under its library key. A mid-season outage of the history service must
	// not cut them off.
	if _, err := st.RecordNotification(ctx, store.Notification{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		Season:     3,
		Episode:    1,
	}); err != nil {
		t.Fatalf("RecordNotification: %v", err)
	}

	ev := eligibility.New(st, &fakeHistory{err: errors.New("tautulli down")}, 0.8, nil)
	decision, err := ev.Evaluate(ctx, eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !decision.Eligible || decision.Reason != eligibility.ReasonPriorNotified {
		t.Fatalf("prior notification must keep the user eligible, got %+v", decision)
	}
}

func TestEvaluateNothingApplies(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ev := eligibility.New(st, &fakeHistory{}, 0.8, nil)

	decision, err := ev.Evaluate(context.Background(),
		eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Eligible || decision.Reason != eligibility.ReasonNoHistory {
		t.Fatalf("expected counted skip, got %+v", decision)
	}
}

func TestEvaluatePerShowOptOutBeatsHistory(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := st.UpsertPreference(ctx, store.Preference{
		Email:      "viewer@example.com",
		ShowTitle:  "Dark",
		LibraryKey: "42",
		OptedOut:   true,
	}); err != nil {
		t.Fatalf("UpsertPreference: %v", err)
	}

	history := &fakeHistory{records: []tautulli.HistoryRecord{{WatchedStatus: "played"}}}
	ev := eligibility.New(st, history, 0.8, nil)

	decision, err := ev.Evaluate(ctx, eligibility.User{Email: "viewer@example.com", TautulliUserID: 7}, dark, "42")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Eligible || decision.Reason != eligibility.ReasonShowOptedOut {
		t.Fatalf("expected per-show opt-out, got %+v", decision)
	}
	if history.calls != 0 {
		t.Fatal("per-show opt-out must short-circuit before history")
	}
}
