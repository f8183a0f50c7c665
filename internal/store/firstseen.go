package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FirstSeen returns the timestamp at which the episode key was first recorded,
// inserting the provided observation time when the key is new. The stored
// value never moves once written, so repeated polls share a stable ordering
// reference even when the media server omits air dates.
func (s *Store) FirstSeen(ctx context.Context, episodeKey string, observed time.Time) (time.Time, error) {
	if episodeKey == "" {
		return observed, nil
	}
	if observed.IsZero() {
		observed = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episode_first_seen (episode_key, first_seen_at) VALUES (?, ?)
         ON CONFLICT (episode_key) DO NOTHING`,
		episodeKey, timestamp(observed))
	if err != nil {
		return time.Time{}, fmt.Errorf("record first seen for %s: %w", episodeKey, err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx,
		"SELECT first_seen_at FROM episode_first_seen WHERE episode_key = ?", episodeKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return observed, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query first seen for %s: %w", episodeKey, err)
	}
	stored, err := parseTimeString(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse first seen for %s: %w", episodeKey, err)
	}
	return stored, nil
}
