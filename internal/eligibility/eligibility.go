// Package eligibility decides whether a user should be told about a new
// episode: opt-outs first, watch history second, subscriptions only when
// history has nothing to say.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"

	"telecast/internal/identity"
	"telecast/internal/logging"
	"telecast/internal/services/tautulli"
	"telecast/internal/store"
)

// Reason tags why a decision came out the way it did.
type Reason string

const (
	ReasonWatchedHistory Reason = "watched_history"
	ReasonSubscription   Reason = "subscription_fallback"
	ReasonPriorNotified  Reason = "prior_notification"
	ReasonOptedOut       Reason = "opted_out"
	ReasonShowOptedOut   Reason = "show_opted_out"
	ReasonNotWatched     Reason = "not_watched"
	ReasonNoHistory      Reason = "no_history_no_subscription"
)

// Decision is the outcome of one eligibility evaluation.
type Decision struct {
	Eligible bool
	Reason   Reason
}

// User identifies the notification recipient across both services.
type User struct {
	Email          string
	TautulliUserID int64
}

// Evaluator runs the eligibility cascade. The Tautulli client may be nil, in
// which case every decision rides the subscription fallback.
type Evaluator struct {
	store     *store.Store
	tautulli  tautulli.Client
	threshold float64
	logger    *slog.Logger
}

// New creates an evaluator. Threshold is the watched-completion fraction; a
// non-positive value uses 0.8.
func New(st *store.Store, client tautulli.Client, threshold float64, logger *slog.Logger) *Evaluator {
	if threshold <= 0 {
		threshold = 0.8
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Evaluator{
		store:     st,
		tautulli:  client,
		threshold: threshold,
		logger:    logging.NewComponentLogger(logger, "eligibility"),
	}
}

// Evaluate decides whether the user should be notified about the show.
//
// Opt-outs short-circuit everything. Watch history is authoritative when it
// exists: a user with history for the show who never finished an episode is
// skipped even if subscribed. The subscription fallback applies only when
// history is empty or the history service failed.
func (e *Evaluator) Evaluate(ctx context.Context, user User, ref identity.Ref, showRatingKey string) (Decision, error) {
	optedOut, err := e.store.GlobalOptOut(ctx, user.Email)
	if err != nil {
		return Decision{}, fmt.Errorf("global opt-out: %w", err)
	}
	if optedOut {
		return Decision{Reason: ReasonOptedOut}, nil
	}

	pref, err := e.store.ShowPreference(ctx, user.Email, ref)
	if err != nil {
		return Decision{}, fmt.Errorf("show preference: %w", err)
	}
	if pref != nil && pref.OptedOut {
		return Decision{Reason: ReasonShowOptedOut}, nil
	}

	switch e.watchHistory(ctx, user, showRatingKey) {
	case historyWatched:
		return Decision{Eligible: true, Reason: ReasonWatchedHistory}, nil
	case historyNotWatched:
		return Decision{Reason: ReasonNotWatched}, nil
	}

	// History empty or unavailable: fall back to an explicit subscription or
	// prior notifications for any identifier of the show. A user we already
	// emailed about a show keeps hearing about it even when the history
	// service is down.
	subscribed, err := e.store.HasSubscription(ctx, user.Email, ref)
	if err != nil {
		return Decision{}, fmt.Errorf("subscription lookup: %w", err)
	}
	if subscribed {
		return Decision{Eligible: true, Reason: ReasonSubscription}, nil
	}
	notified, err := e.store.HasNotificationForShow(ctx, user.Email, ref)
	if err != nil {
		return Decision{}, fmt.Errorf("notification history lookup: %w", err)
	}
	if notified {
		return Decision{Eligible: true, Reason: ReasonPriorNotified}, nil
	}
	return Decision{Reason: ReasonNoHistory}, nil
}

type historyOutcome int

const (
	historyEmpty historyOutcome = iota
	historyWatched
	historyNotWatched
	historyFailed
)

func (e *Evaluator) watchHistory(ctx context.Context, user User, showRatingKey string) historyOutcome {
	if e.tautulli == nil || user.TautulliUserID == 0 || showRatingKey == "" {
		return historyEmpty
	}
	records, err := e.tautulli.History(ctx, tautulli.HistoryQuery{
		UserID:        user.TautulliUserID,
		ShowRatingKey: showRatingKey,
	})
	if err != nil {
		e.logger.Warn("history fetch failed, falling back to subscriptions",
			logging.String(logging.FieldUser, user.Email),
			logging.Error(err))
		return historyFailed
	}
	if len(records) == 0 {
		return historyEmpty
	}
	for _, record := range records {
		if record.Watched(e.threshold) {
			return historyWatched
		}
	}
	return historyNotWatched
}
