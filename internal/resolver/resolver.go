package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"telecast/internal/identity"
	"telecast/internal/logging"
	"telecast/internal/services/plex"
	"telecast/internal/store"
)

// Reason tags how a resolution concluded.
type Reason string

const (
	ReasonMatchedGUID        Reason = "matched_guid"
	ReasonMatchedLibraryKey  Reason = "matched_library_key"
	ReasonMatchedExternalID  Reason = "matched_external_id"
	ReasonMatchedFingerprint Reason = "matched_fingerprint"
	ReasonMatchedTitle       Reason = "matched_title_search"
	ReasonNoIdentifiers      Reason = "no_identifiers"
	ReasonNoMatchExternal    Reason = "no_match_external_ids"
	ReasonNoMatchGUID        Reason = "no_match_guid"
	ReasonNoMatchLibraryKey  Reason = "no_match_library_key"
	ReasonNoMatchFingerprint Reason = "no_match_fingerprint"
	ReasonNoMatchTitle       Reason = "no_match_title_fallback"
	ReasonAmbiguous          Reason = "ambiguous"
)

// Outcome is the result of resolving a show reference against the live
// library. When Matched is false the Reason explains which rung of the
// cascade gave up; an Ambiguous reason means several library shows fit and
// guessing was refused.
type Outcome struct {
	Matched  bool
	Reason   Reason
	Show     plex.Show
	Identity identity.ShowIdentity
}

// Options tunes a single resolution.
type Options struct {
	// AllowTitleSearch enables the last-resort title match against the
	// library. Reconciliation of legacy title-only records turns this on;
	// routine polling leaves it off.
	AllowTitleSearch bool
}

// Resolver maps possibly stale show references onto the library's current
// show, consulting the canonical identity store before and after the live
// lookup.
type Resolver struct {
	store  *store.Store
	plex   plex.Client
	logger *slog.Logger
}

// New creates a resolver.
func New(st *store.Store, client plex.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{store: st, plex: client, logger: logging.NewComponentLogger(logger, "resolver")}
}

// Resolve runs the identifier cascade for the reference: stored identity
// enrichment first, then external IDs, GUID, library key, and title matching
// against the live library. External IDs lead because they survive library
// rebuilds that reissue every GUID and rating key. A successful match is
// recorded back into the identity store so every identifier observed together
// stays linked; a miss reports the deepest rung that was attempted.
func (r *Resolver) Resolve(ctx context.Context, ref identity.Ref, opts Options) (Outcome, error) {
	enriched, outcome, done, err := r.enrich(ctx, ref)
	if done || err != nil {
		return outcome, err
	}
	ref = enriched

	if ref.Empty() {
		return Outcome{Reason: ReasonNoIdentifiers}, nil
	}

	failure := ReasonNoIdentifiers

	if !ref.External.Empty() {
		show, err := r.matchByExternalID(ctx, ref.External)
		if err != nil {
			return Outcome{}, err
		}
		if show != nil {
			return r.conclude(ctx, ref, *show, ReasonMatchedExternalID)
		}
		failure = ReasonNoMatchExternal
	}

	if ref.GUID != "" {
		show, err := r.plex.ShowByGUID(ctx, ref.GUID)
		if err != nil {
			return Outcome{}, fmt.Errorf("lookup by guid: %w", err)
		}
		if show != nil {
			return r.conclude(ctx, ref, *show, ReasonMatchedGUID)
		}
		failure = ReasonNoMatchGUID
	}

	if ref.LibraryKey != "" {
		show, err := r.plex.ShowByKey(ctx, ref.LibraryKey)
		if err != nil {
			return Outcome{}, fmt.Errorf("lookup by key: %w", err)
		}
		if show != nil {
			return r.conclude(ctx, ref, *show, ReasonMatchedLibraryKey)
		}
		failure = ReasonNoMatchLibraryKey
	}

	if ref.Title != "" {
		outcome, matched, err := r.matchByTitle(ctx, ref, opts.AllowTitleSearch)
		if err != nil || matched {
			return outcome, err
		}
		if outcome.Reason == ReasonAmbiguous {
			return outcome, nil
		}
		failure = ReasonNoMatchFingerprint
		if opts.AllowTitleSearch {
			failure = ReasonNoMatchTitle
		}
	}

	r.logger.Info("reference did not resolve",
		logging.String(logging.FieldShow, ref.String()),
		logging.String(logging.FieldReason, string(failure)))
	return Outcome{Reason: failure}, nil
}

// enrich fills blanks on the reference from the canonical identity store so a
// title-only record can still ride its previously linked GUID through the
// live cascade.
func (r *Resolver) enrich(ctx context.Context, ref identity.Ref) (identity.Ref, Outcome, bool, error) {
	lookup := store.IdentityLookup{
		GUID:       ref.GUID,
		LibraryKey: ref.LibraryKey,
		External:   ref.External,
	}
	if ref.Title != "" {
		lookup.Fingerprint = identity.FallbackKey(ref.Title, ref.Year)
	}
	stored, err := r.store.FindIdentity(ctx, lookup)
	if errors.Is(err, store.ErrAmbiguousFingerprint) {
		r.logger.Warn("stored identity lookup ambiguous, skipping",
			logging.String(logging.FieldShow, ref.String()))
		return ref, Outcome{Reason: ReasonAmbiguous}, true, nil
	}
	if err != nil {
		return ref, Outcome{}, false, fmt.Errorf("identity lookup: %w", err)
	}
	if stored == nil {
		return ref, Outcome{}, false, nil
	}
	if ref.GUID == "" {
		ref.GUID = stored.GUID
	}
	if ref.LibraryKey == "" {
		ref.LibraryKey = stored.LibraryKey
	}
	for _, provider := range identity.ProviderOrder {
		if ref.External.Get(provider) == "" {
			ref.External.Set(provider, stored.External.Get(provider))
		}
	}
	if ref.Title == "" {
		ref.Title = stored.Title
	}
	if ref.Year == 0 {
		ref.Year = stored.Year
	}
	return ref, Outcome{}, false, nil
}

func (r *Resolver) matchByExternalID(ctx context.Context, external identity.ExternalIDs) (*plex.Show, error) {
	shows, err := r.plex.Shows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	for _, provider := range identity.ProviderOrder {
		want := external.Get(provider)
		if want == "" {
			continue
		}
		for i := range shows {
			if shows[i].External.Get(provider) == want {
				return &shows[i], nil
			}
		}
	}
	return nil, nil
}

// matchByTitle tries the exact normalized title+year match, then when allowed
// a looser title-only search. Several candidates with no way to pick one is
// an ambiguous outcome, never a guess.
func (r *Resolver) matchByTitle(ctx context.Context, ref identity.Ref, allowSearch bool) (Outcome, bool, error) {
	title, year := identity.SplitTitleYear(ref.Title, ref.Year)
	want := identity.NormalizeTitle(title)
	if want == "" {
		return Outcome{}, false, nil
	}
	shows, err := r.plex.Shows(ctx)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("list shows: %w", err)
	}

	var exact []plex.Show
	var loose []plex.Show
	for _, show := range shows {
		if identity.NormalizeTitle(show.Title) != want {
			continue
		}
		loose = append(loose, show)
		if year == 0 || show.Year == 0 || show.Year == year {
			exact = append(exact, show)
		}
	}

	switch len(exact) {
	case 1:
		outcome, err := r.conclude(ctx, ref, exact[0], ReasonMatchedFingerprint)
		return outcome, true, err
	case 0:
	default:
		r.logger.Warn("title matched multiple shows, refusing to guess",
			logging.String(logging.FieldShow, ref.String()),
			logging.Int("candidates", len(exact)))
		return Outcome{Reason: ReasonAmbiguous}, false, nil
	}

	if !allowSearch {
		return Outcome{}, false, nil
	}
	if len(loose) == 1 {
		outcome, err := r.conclude(ctx, ref, loose[0], ReasonMatchedTitle)
		return outcome, true, err
	}
	if len(loose) > 1 {
		r.logger.Warn("title search matched multiple shows, refusing to guess",
			logging.String(logging.FieldShow, ref.String()),
			logging.Int("candidates", len(loose)))
		return Outcome{Reason: ReasonAmbiguous}, false, nil
	}
	return Outcome{}, false, nil
}

// conclude records the resolved show into the identity store and builds the
// successful outcome. Identifiers the stale reference carried ride along so
// the canonical row links old and new.
func (r *Resolver) conclude(ctx context.Context, ref identity.Ref, show plex.Show, reason Reason) (Outcome, error) {
	candidate := identity.ShowIdentity{
		LibraryKey:  show.RatingKey,
		GUID:        show.GUID,
		External:    show.External,
		Title:       show.Title,
		Year:        show.Year,
		Fingerprint: identity.FallbackKey(show.Title, show.Year),
	}
	for _, provider := range identity.ProviderOrder {
		if candidate.External.Get(provider) == "" {
			candidate.External.Set(provider, ref.External.Get(provider))
		}
	}

	merged, _, err := r.store.UpsertIdentity(ctx, candidate)
	if err != nil {
		return Outcome{}, fmt.Errorf("record resolved identity: %w", err)
	}
	r.logger.Debug("reference resolved",
		logging.String(logging.FieldShow, show.Title),
		logging.String(logging.FieldReason, string(reason)))
	return Outcome{Matched: true, Reason: reason, Show: show, Identity: merged}, nil
}
