// Package poller runs notification cycles: fetch recently added episodes,
// decide who should hear about them, deliver, and record.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"telecast/internal/config"
	"telecast/internal/dedup"
	"telecast/internal/delivery"
	"telecast/internal/eligibility"
	"telecast/internal/identity"
	"telecast/internal/logging"
	"telecast/internal/resolver"
	"telecast/internal/services/plex"
	"telecast/internal/services/tautulli"
	"telecast/internal/store"
)

// CycleOptions tunes one cycle run.
type CycleOptions struct {
	// Since bounds how far back the cycle looks. Zero means the configured
	// poll interval for scheduled runs; manual runs pass their own lookback.
	Since time.Time
	// DryRun evaluates and logs without delivering or recording.
	DryRun bool
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID     string
	Episodes    int
	Recipients  int
	Sent        int
	Deduped     int
	Skipped     int
	Failures    int
	SkipReasons map[string]int
	StartedAt   time.Time
	Duration    time.Duration
}

// Poller owns the cycle pipeline.
type Poller struct {
	cfg      *config.Config
	store    *store.Store
	plex     plex.Client
	tautulli tautulli.Client
	resolver *resolver.Resolver
	eval     *eligibility.Evaluator
	dedup    *dedup.Deduper
	sender   delivery.Sender
	logger   *slog.Logger
	now      func() time.Time
}

// New wires a poller. The Tautulli client may be nil.
func New(
	cfg *config.Config,
	st *store.Store,
	plexClient plex.Client,
	tautulliClient tautulli.Client,
	res *resolver.Resolver,
	eval *eligibility.Evaluator,
	deduper *dedup.Deduper,
	sender delivery.Sender,
	logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		store:    st,
		plex:     plexClient,
		tautulli: tautulliClient,
		resolver: res,
		eval:     eval,
		dedup:    deduper,
		sender:   sender,
		logger:   logging.NewComponentLogger(logger, "poller"),
		now:      time.Now,
	}
}

// RunCycle executes one notification cycle. Users are processed sequentially;
// a delivery failure for one user never blocks the rest, and nothing is
// recorded unless the send succeeded.
func (p *Poller) RunCycle(ctx context.Context, opts CycleOptions) (CycleReport, error) {
	report := CycleReport{
		CycleID:     uuid.NewString(),
		SkipReasons: make(map[string]int),
		StartedAt:   p.now(),
	}
	logger := p.logger.With(logging.String(logging.FieldCycleID, report.CycleID))
	defer func() {
		report.Duration = p.now().Sub(report.StartedAt)
	}()

	cutoff := opts.Since
	if cutoff.IsZero() {
		interval := time.Duration(p.cfg.Workflow.PollIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		// One extra interval of slack so an episode landing mid-cycle is
		// never missed between two runs.
		cutoff = report.StartedAt.Add(-2 * interval)
	}

	episodes, err := p.collectEpisodes(ctx, cutoff)
	if err != nil {
		return report, err
	}
	report.Episodes = len(episodes)
	if len(episodes) == 0 {
		logger.Info("no new episodes", logging.String("cutoff", cutoff.Format(time.RFC3339)))
		return report, nil
	}

	refs := p.resolveShows(ctx, logger, episodes)

	recipients, err := p.discoverRecipients(ctx)
	if err != nil {
		return report, err
	}
	report.Recipients = len(recipients)
	logger.Info("cycle starting",
		logging.Int("episodes", len(episodes)),
		logging.Int("recipients", len(recipients)),
		logging.String("cutoff", cutoff.Format(time.RFC3339)))

	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p.processRecipient(ctx, logger, recipient, episodes, refs, opts, &report)
	}

	logger.Info("cycle complete",
		logging.Int("sent", report.Sent),
		logging.Int("deduped", report.Deduped),
		logging.Int("skipped", report.Skipped),
		logging.Int("failures", report.Failures))
	return report, nil
}

// collectEpisodes fetches the recently added window and filters by the best
// availability timestamp each episode offers: air date, then library added
// time, then the episode's own first-seen record.
func (p *Poller) collectEpisodes(ctx context.Context, cutoff time.Time) ([]plex.Episode, error) {
	episodes, err := p.plex.RecentEpisodes(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	var out []plex.Episode
	for _, ep := range episodes {
		available := ep.AvailableAt()
		if available.IsZero() {
			key := dedup.StableKey(ep.Show.Ref(), ep.Season, ep.Episode)
			firstSeen, err := p.store.FirstSeen(ctx, key, p.now())
			if err != nil {
				return nil, fmt.Errorf("first seen for %s: %w", key, err)
			}
			available = firstSeen
		}
		if available.Before(cutoff) {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

// resolveShows resolves each distinct show once per cycle and returns the
// canonical reference for every episode, aligned by index. Each successful
// match upserts the identity store, so identities heal during routine
// polling, not just reconciliation. A show that fails to resolve keeps its
// raw observed reference; refusing to notify would turn an ambiguity into a
// silent drop.
func (p *Poller) resolveShows(ctx context.Context, logger *slog.Logger, episodes []plex.Episode) []identity.Ref {
	refs := make([]identity.Ref, len(episodes))
	cache := make(map[string]identity.Ref)
	for i, ep := range episodes {
		raw := ep.Show.Ref()
		key := raw.String()
		if ref, ok := cache[key]; ok {
			refs[i] = ref
			continue
		}

		ref := raw
		if p.resolver != nil {
			outcome, err := p.resolver.Resolve(ctx, raw, resolver.Options{})
			switch {
			case err != nil:
				logger.Warn("show resolution failed",
					logging.String(logging.FieldShow, raw.String()),
					logging.Error(err))
			case outcome.Matched:
				ref = canonicalRef(outcome.Identity)
				if ref.Title == "" {
					ref.Title = raw.Title
				}
			default:
				logger.Info("show did not resolve, using observed identifiers",
					logging.String(logging.FieldShow, raw.String()),
					logging.String(logging.FieldReason, string(outcome.Reason)))
			}
		}
		cache[key] = ref
		refs[i] = ref
	}
	return refs
}

// canonicalRef projects a merged identity back into reference form.
func canonicalRef(id identity.ShowIdentity) identity.Ref {
	return identity.Ref{
		LibraryKey: id.LibraryKey,
		GUID:       id.GUID,
		External:   id.External,
		Title:      id.Title,
		Year:       id.Year,
	}
}

func (p *Poller) processRecipient(
	ctx context.Context,
	logger *slog.Logger,
	recipient Recipient,
	episodes []plex.Episode,
	refs []identity.Ref,
	opts CycleOptions,
	report *CycleReport,
) {
	userLogger := logger.With(logging.String(logging.FieldUser, recipient.Email))
	for i, ep := range episodes {
		ref := refs[i]

		already, err := p.dedup.AlreadySent(ctx, recipient.Email, ref, ep.Season, ep.Episode)
		if err != nil {
			userLogger.Error("dedup lookup failed", logging.Error(err))
			report.Failures++
			continue
		}
		if already {
			report.Deduped++
			continue
		}

		decision, err := p.eval.Evaluate(ctx, recipient.eligibilityUser(), ref, ep.Show.RatingKey)
		if err != nil {
			userLogger.Error("eligibility evaluation failed", logging.Error(err))
			report.Failures++
			continue
		}
		if !decision.Eligible {
			report.Skipped++
			report.SkipReasons[string(decision.Reason)]++
			userLogger.Debug("skipping episode",
				logging.String(logging.FieldShow, ep.Show.Title),
				logging.String(logging.FieldEpisode, fmt.Sprintf("S%02dE%02d", ep.Season, ep.Episode)),
				logging.String(logging.FieldReason, string(decision.Reason)))
			continue
		}

		if opts.DryRun {
			report.Sent++
			userLogger.Info("dry run, would notify",
				logging.String(logging.FieldShow, ep.Show.Title),
				logging.String(logging.FieldEpisode, fmt.Sprintf("S%02dE%02d", ep.Season, ep.Episode)))
			continue
		}

		if err := p.deliver(ctx, recipient, ep, ref); err != nil {
			userLogger.Error("delivery failed",
				logging.String(logging.FieldShow, ep.Show.Title),
				logging.Error(err))
			report.Failures++
			continue
		}
		report.Sent++
		userLogger.Info("notified",
			logging.String(logging.FieldShow, ep.Show.Title),
			logging.String(logging.FieldEpisode, fmt.Sprintf("S%02dE%02d", ep.Season, ep.Episode)),
			logging.String(logging.FieldReason, string(decision.Reason)))
	}
}

// deliver sends and then records the canonical identifiers. Recording only
// happens after a successful send; a crash between the two risks a duplicate
// email, never a silent drop.
func (p *Poller) deliver(ctx context.Context, recipient Recipient, ep plex.Episode, ref identity.Ref) error {
	showTitle := ref.Title
	if showTitle == "" {
		showTitle = ep.Show.Title
	}
	msg := delivery.EpisodeMessage(recipient.Email, delivery.EpisodeDetails{
		ShowTitle:    showTitle,
		Season:       ep.Season,
		Episode:      ep.Episode,
		EpisodeTitle: ep.Title,
		Summary:      ep.Summary,
		AiredAt:      ep.AiredAt,
		DurationMins: ep.DurationMins,
	})
	if err := p.sender.Send(ctx, msg); err != nil {
		return err
	}

	_, err := p.dedup.Record(ctx, store.Notification{
		Email:        recipient.Email,
		ShowTitle:    showTitle,
		LibraryKey:   ref.LibraryKey,
		GUID:         ref.GUID,
		External:     ref.External,
		Season:       ep.Season,
		Episode:      ep.Episode,
		EpisodeTitle: ep.Title,
		EpisodeKey:   dedup.StableKey(ref, ep.Season, ep.Episode),
		SentAt:       p.now(),
	})
	if err != nil {
		return fmt.Errorf("record after send: %w", err)
	}
	return nil
}
