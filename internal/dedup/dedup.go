// Package dedup guards the at-most-once notification property: overlapping
// identifier keys, a per-user verdict cache, and the store write that records
// a delivery.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"telecast/internal/identity"
	"telecast/internal/logging"
	"telecast/internal/store"
)

// Deduper answers "has this user already been told about this episode" and
// records deliveries so the answer stays true.
type Deduper struct {
	store  *store.Store
	cache  *Cache
	logger *slog.Logger
}

// New creates a Deduper. A nil cache gets the default TTL and cap.
func New(st *store.Store, cache *Cache, logger *slog.Logger) *Deduper {
	if cache == nil {
		cache = NewCache(0, 0)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Deduper{store: st, cache: cache, logger: logging.NewComponentLogger(logger, "dedup")}
}

// AlreadySent reports whether any stored notification covers this episode for
// the user under any of its identifier keys. Every candidate key is consulted
// in the cache: one cached positive settles it, and a cached negative is only
// trusted when every key carries one, since a key this reference adds could
// still match a stored row the earlier lookups never saw.
func (d *Deduper) AlreadySent(ctx context.Context, email string, ref identity.Ref, season, episode int) (bool, error) {
	keys := Keys(ref, season, episode)
	if len(keys) == 0 {
		keys = []string{fmt.Sprintf("?|S%dE%d|%s", season, episode, ref.String())}
	}

	allCached := true
	for _, key := range keys {
		sent, ok := d.cache.Get(email, key)
		if !ok {
			allCached = false
			continue
		}
		if sent {
			return true, nil
		}
	}
	if allCached {
		return false, nil
	}

	sent, err := d.store.HasNotificationForEpisode(ctx, email, ref, season, episode, StableKey(ref, season, episode))
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	for _, key := range keys {
		d.cache.Put(email, key, sent)
	}
	return sent, nil
}

// Record persists a delivered notification and invalidates the user's cached
// verdicts so the new record is observed immediately.
func (d *Deduper) Record(ctx context.Context, n store.Notification) (store.Notification, error) {
	if n.EpisodeKey == "" {
		n.EpisodeKey = StableKey(identity.Ref{Title: n.ShowTitle}, n.Season, n.Episode)
	}
	recorded, err := d.store.RecordNotification(ctx, n)
	if err != nil {
		return store.Notification{}, err
	}
	d.cache.Invalidate(n.Email)
	d.logger.Debug("notification recorded",
		logging.String(logging.FieldUser, n.Email),
		logging.String(logging.FieldShow, n.ShowTitle),
		logging.Int("season", n.Season),
		logging.Int("episode", n.Episode))
	return recorded, nil
}
