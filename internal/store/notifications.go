package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"telecast/internal/identity"
	"telecast/internal/logging"
)

// Notification is one persisted record of a delivered episode notification.
type Notification struct {
	ID           int64
	Email        string
	ShowTitle    string
	LibraryKey   string
	GUID         string
	External     identity.ExternalIDs
	Season       int
	Episode      int
	EpisodeTitle string
	EpisodeKey   string
	SentAt       time.Time
}

// IdentifierCount scores record completeness for conflict resolution.
func (n *Notification) IdentifierCount() int {
	count := n.External.Count()
	if n.LibraryKey != "" {
		count++
	}
	if n.GUID != "" {
		count++
	}
	return count
}

const notificationColumns = "id, email, show_title, library_key, guid, imdb_id, tmdb_id, tvdb_id, season, episode, episode_title, episode_key, sent_at"

func scanNotification(scanner interface{ Scan(dest ...any) error }) (*Notification, error) {
	var (
		n            Notification
		libraryKey   sql.NullString
		guid         sql.NullString
		imdbID       sql.NullString
		tmdbID       sql.NullString
		tvdbID       sql.NullString
		episodeTitle sql.NullString
		episodeKey   sql.NullString
		sentRaw      sql.NullString
	)
	if err := scanner.Scan(&n.ID, &n.Email, &n.ShowTitle, &libraryKey, &guid, &imdbID, &tmdbID, &tvdbID,
		&n.Season, &n.Episode, &episodeTitle, &episodeKey, &sentRaw); err != nil {
		return nil, err
	}
	n.LibraryKey = libraryKey.String
	n.GUID = guid.String
	n.External = identity.ExternalIDs{IMDB: imdbID.String, TMDB: tmdbID.String, TVDB: tvdbID.String}
	n.EpisodeTitle = episodeTitle.String
	n.EpisodeKey = episodeKey.String
	if sent, err := parseTimeString(sentRaw.String); err == nil {
		n.SentAt = sent
	}
	return &n, nil
}

// RecordNotification persists a sent notification. When an existing row turns
// out to denote the same logical (user, show, season, episode) under a
// different identifier combination, the conflict is resolved deterministically
// by selectNotificationToKeep and the losing record deleted. The surviving
// record absorbs the loser's identifiers.
func (s *Store) RecordNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}

	conflicts, err := s.conflictingNotifications(ctx, n)
	if err != nil {
		return Notification{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Notification{}, fmt.Errorf("begin notification tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, existing := range conflicts {
		keep, drop := selectNotificationToKeep(&n, existing)
		s.logger.Info("resolving notification conflict",
			logging.String(logging.FieldUser, n.Email),
			logging.String(logging.FieldShow, n.ShowTitle),
			logging.Int("season", n.Season),
			logging.Int("episode", n.Episode),
			logging.Int64("kept_id", keep.ID),
			logging.Int64("dropped_id", drop.ID),
			logging.String(logging.FieldReason, "duplicate logical record"))
		absorbIdentifiers(keep, drop)
		if drop.ID != 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", drop.ID); err != nil {
				return Notification{}, fmt.Errorf("delete conflicting notification %d: %w", drop.ID, err)
			}
		}
		if keep.ID != 0 {
			// The stored row won; update it in place with anything absorbed
			// and skip inserting the newcomer.
			if err := updateNotificationTx(ctx, tx, keep); err != nil {
				return Notification{}, err
			}
			if err := tx.Commit(); err != nil {
				return Notification{}, fmt.Errorf("commit notification tx: %w", err)
			}
			return *keep, nil
		}
		n = *keep
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (email, show_title, library_key, guid, imdb_id, tmdb_id, tvdb_id, season, episode, episode_title, episode_key, sent_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Email,
		n.ShowTitle,
		nullableString(n.LibraryKey),
		nullableString(n.GUID),
		nullableString(n.External.IMDB),
		nullableString(n.External.TMDB),
		nullableString(n.External.TVDB),
		n.Season,
		n.Episode,
		nullableString(n.EpisodeTitle),
		nullableString(n.EpisodeKey),
		timestamp(n.SentAt),
	)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Notification{}, fmt.Errorf("last insert id: %w", err)
	}
	n.ID = id

	if err := tx.Commit(); err != nil {
		return Notification{}, fmt.Errorf("commit notification tx: %w", err)
	}
	return n, nil
}

// conflictingNotifications finds stored rows sharing the candidate's user,
// season, and episode along with at least one non-null identifier, or sharing
// the episode's own stable key.
func (s *Store) conflictingNotifications(ctx context.Context, n Notification) ([]*Notification, error) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	add("library_key", n.LibraryKey)
	add("guid", n.GUID)
	add("imdb_id", n.External.IMDB)
	add("tmdb_id", n.External.TMDB)
	add("tvdb_id", n.External.TVDB)
	if len(clauses) == 0 && n.EpisodeKey == "" {
		return nil, nil
	}

	where := fmt.Sprintf("email = ? AND season = ? AND episode = ? AND (%s)", strings.Join(clauses, " OR "))
	queryArgs := append([]any{n.Email, n.Season, n.Episode}, args...)
	if n.EpisodeKey != "" {
		if len(clauses) == 0 {
			where = "email = ? AND season = ? AND episode = ? AND episode_key = ?"
			queryArgs = []any{n.Email, n.Season, n.Episode, n.EpisodeKey}
		} else {
			where += " OR (email = ? AND episode_key = ?)"
			queryArgs = append(queryArgs, n.Email, n.EpisodeKey)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM notifications WHERE %s ORDER BY id", notificationColumns, where), queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("query conflicting notifications: %w", err)
	}
	defer rows.Close()

	var results []*Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		results = append(results, notif)
	}
	return results, rows.Err()
}

// selectNotificationToKeep decides which of two records denoting the same
// logical notification survives: more populated identifier fields first, then
// the more recent sent timestamp, then the higher record id.
func selectNotificationToKeep(a, b *Notification) (keep, drop *Notification) {
	scoreA, scoreB := a.IdentifierCount(), b.IdentifierCount()
	switch {
	case scoreA > scoreB:
		return a, b
	case scoreB > scoreA:
		return b, a
	}
	switch {
	case a.SentAt.After(b.SentAt):
		return a, b
	case b.SentAt.After(a.SentAt):
		return b, a
	}
	if a.ID >= b.ID {
		return a, b
	}
	return b, a
}

// absorbIdentifiers fills empty identifier fields on keep from drop.
func absorbIdentifiers(keep, drop *Notification) {
	if keep.LibraryKey == "" {
		keep.LibraryKey = drop.LibraryKey
	}
	if keep.GUID == "" {
		keep.GUID = drop.GUID
	}
	if keep.External.IMDB == "" {
		keep.External.IMDB = drop.External.IMDB
	}
	if keep.External.TMDB == "" {
		keep.External.TMDB = drop.External.TMDB
	}
	if keep.External.TVDB == "" {
		keep.External.TVDB = drop.External.TVDB
	}
	if keep.EpisodeKey == "" {
		keep.EpisodeKey = drop.EpisodeKey
	}
}

func updateNotificationTx(ctx context.Context, tx *sql.Tx, n *Notification) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE notifications
         SET show_title = ?, library_key = ?, guid = ?, imdb_id = ?, tmdb_id = ?, tvdb_id = ?, episode_title = ?, episode_key = ?
         WHERE id = ?`,
		n.ShowTitle,
		nullableString(n.LibraryKey),
		nullableString(n.GUID),
		nullableString(n.External.IMDB),
		nullableString(n.External.TMDB),
		nullableString(n.External.TVDB),
		nullableString(n.EpisodeTitle),
		nullableString(n.EpisodeKey),
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification %d: %w", n.ID, err)
	}
	return nil
}

// NotificationsForUser returns the user's most recent notifications, newest
// first, capped at limit.
func (s *Store) NotificationsForUser(ctx context.Context, email string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM notifications WHERE email = ? ORDER BY sent_at DESC, id DESC LIMIT ?", notificationColumns),
		email, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications for %s: %w", email, err)
	}
	defer rows.Close()

	var results []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// HasNotificationForShow reports whether the user has ever been notified for
// any episode of the referenced show, matching on any populated identifier or
// the normalized title as a last resort.
func (s *Store) HasNotificationForShow(ctx context.Context, email string, ref identity.Ref) (bool, error) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	add("library_key", ref.LibraryKey)
	add("guid", ref.GUID)
	add("imdb_id", ref.External.IMDB)
	add("tmdb_id", ref.External.TMDB)
	add("tvdb_id", ref.External.TVDB)
	if len(clauses) == 0 {
		// Title-only references compare normalized forms on both sides, which
		// SQLite's LOWER cannot do, so the user's titles come back for the
		// fold to happen here.
		key := identity.NormalizeTitle(ref.Title)
		if key == "" {
			return false, nil
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT DISTINCT show_title FROM notifications WHERE email = ?", email)
		if err != nil {
			return false, fmt.Errorf("query notified titles: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var title string
			if err := rows.Scan(&title); err != nil {
				return false, fmt.Errorf("scan notified title: %w", err)
			}
			if identity.NormalizeTitle(title) == key {
				return true, nil
			}
		}
		return false, rows.Err()
	}

	query := fmt.Sprintf("SELECT COUNT(1) FROM notifications WHERE email = ? AND (%s)", strings.Join(clauses, " OR "))
	var count int
	if err := s.db.QueryRowContext(ctx, query, append([]any{email}, args...)...).Scan(&count); err != nil {
		return false, fmt.Errorf("count notifications: %w", err)
	}
	return count > 0, nil
}

// HasNotificationForEpisode reports whether a record already covers this
// user, show, and episode under any identifier combination, including the
// episode's own stable key.
func (s *Store) HasNotificationForEpisode(ctx context.Context, email string, ref identity.Ref, season, episode int, episodeKey string) (bool, error) {
	candidate := Notification{
		Email:      email,
		LibraryKey: ref.LibraryKey,
		GUID:       ref.GUID,
		External:   ref.External,
		Season:     season,
		Episode:    episode,
		EpisodeKey: episodeKey,
	}
	conflicts, err := s.conflictingNotifications(ctx, candidate)
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

// NotificationShowRefs returns one reference per distinct show identifier
// combination present in the notifications table, for reconciliation.
func (s *Store) NotificationShowRefs(ctx context.Context) ([]identity.Ref, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT show_title, library_key, guid, imdb_id, tmdb_id, tvdb_id FROM notifications`)
	if err != nil {
		return nil, fmt.Errorf("query notification show refs: %w", err)
	}
	defer rows.Close()

	var refs []identity.Ref
	for rows.Next() {
		var title string
		var libraryKey, guid, imdbID, tmdbID, tvdbID sql.NullString
		if err := rows.Scan(&title, &libraryKey, &guid, &imdbID, &tmdbID, &tvdbID); err != nil {
			return nil, fmt.Errorf("scan show ref: %w", err)
		}
		refs = append(refs, identity.Ref{
			Title:      title,
			LibraryKey: libraryKey.String,
			GUID:       guid.String,
			External:   identity.ExternalIDs{IMDB: imdbID.String, TMDB: tmdbID.String, TVDB: tvdbID.String},
		})
	}
	return refs, rows.Err()
}

// BackfillNotificationIdentifiers rewrites identifier fields on every
// notification row matching the old reference, routing any resulting
// collisions through the standard conflict rule. Mutations happen in one
// transaction per call; callers batch their references to bound transaction
// size. Returns the number of rows updated and the number merged away.
func (s *Store) BackfillNotificationIdentifiers(ctx context.Context, old identity.Ref, resolved identity.ShowIdentity) (updated, merged int, err error) {
	rows, err := s.notificationsMatchingRef(ctx, old)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range rows {
		before := *row
		rowChanged := applyResolvedIdentifiers(row, resolved)
		if !rowChanged {
			continue
		}

		conflicts, err := s.conflictingNotifications(ctx, *row)
		if err != nil {
			return updated, merged, err
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return updated, merged, fmt.Errorf("begin backfill tx: %w", err)
		}

		collided := false
		for _, other := range conflicts {
			if other.ID == row.ID {
				continue
			}
			keep, drop := selectNotificationToKeep(row, other)
			absorbIdentifiers(keep, drop)
			s.logger.Info("backfill collision resolved",
				logging.String(logging.FieldUser, row.Email),
				logging.Int64("kept_id", keep.ID),
				logging.Int64("dropped_id", drop.ID))
			if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", drop.ID); err != nil {
				_ = tx.Rollback()
				return updated, merged, fmt.Errorf("delete merged notification %d: %w", drop.ID, err)
			}
			merged++
			if drop.ID == row.ID {
				row = keep
				collided = true
			}
		}

		if err := updateNotificationTx(ctx, tx, row); err != nil {
			_ = tx.Rollback()
			return updated, merged, err
		}
		if err := tx.Commit(); err != nil {
			return updated, merged, fmt.Errorf("commit backfill tx: %w", err)
		}
		if !collided {
			updated++
		}
		s.logger.Info("backfilled notification identifiers",
			logging.Int64("notification_id", row.ID),
			logging.String("before", identifierSummary(&before)),
			logging.String("after", identifierSummary(row)))
	}
	return updated, merged, nil
}

func (s *Store) notificationsMatchingRef(ctx context.Context, ref identity.Ref) ([]*Notification, error) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	add("library_key", ref.LibraryKey)
	add("guid", ref.GUID)
	add("imdb_id", ref.External.IMDB)
	add("tmdb_id", ref.External.TMDB)
	add("tvdb_id", ref.External.TVDB)
	if len(clauses) == 0 {
		if ref.Title == "" {
			return nil, nil
		}
		clauses = append(clauses, "show_title = ? AND library_key IS NULL AND guid IS NULL AND imdb_id IS NULL AND tmdb_id IS NULL AND tvdb_id IS NULL")
		args = append(args, ref.Title)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM notifications WHERE %s ORDER BY id", notificationColumns, strings.Join(clauses, " OR ")), args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications by ref: %w", err)
	}
	defer rows.Close()

	var results []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// applyResolvedIdentifiers copies the resolved identity's identifiers onto a
// notification row, filling blanks and adopting current values for the
// server-assigned fields. Reports whether anything changed.
func applyResolvedIdentifiers(n *Notification, resolved identity.ShowIdentity) bool {
	changed := false
	set := func(dst *string, value string) {
		if value != "" && *dst != value {
			*dst = value
			changed = true
		}
	}
	set(&n.LibraryKey, resolved.LibraryKey)
	set(&n.GUID, resolved.GUID)
	set(&n.External.IMDB, resolved.External.IMDB)
	set(&n.External.TMDB, resolved.External.TMDB)
	set(&n.External.TVDB, resolved.External.TVDB)
	return changed
}

func identifierSummary(n *Notification) string {
	parts := []string{}
	if n.LibraryKey != "" {
		parts = append(parts, "key="+n.LibraryKey)
	}
	if n.GUID != "" {
		parts = append(parts, "guid="+n.GUID)
	}
	if n.External.IMDB != "" {
		parts = append(parts, "imdb="+n.External.IMDB)
	}
	if n.External.TMDB != "" {
		parts = append(parts, "tmdb="+n.External.TMDB)
	}
	if n.External.TVDB != "" {
		parts = append(parts, "tvdb="+n.External.TVDB)
	}
	if len(parts) == 0 {
		return "<none>"
	}
	return strings.Join(parts, " ")
}
