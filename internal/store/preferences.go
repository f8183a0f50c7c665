package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"telecast/internal/identity"
	"telecast/internal/logging"
)

// Preference captures a user's subscription or opt-out state. A row with an
// empty ShowKey is the user's global record; per-show rows carry identifiers
// alongside the normalized title key so they survive renames.
type Preference struct {
	ID         int64
	Email      string
	ShowKey    string
	ShowTitle  string
	LibraryKey string
	GUID       string
	External   identity.ExternalIDs
	Subscribed bool
	OptedOut   bool
	UpdatedAt  time.Time
}

const preferenceColumns = "id, email, show_key, show_title, library_key, guid, imdb_id, tmdb_id, tvdb_id, subscribed, opted_out, updated_at"

func scanPreference(scanner interface{ Scan(dest ...any) error }) (*Preference, error) {
	var (
		p          Preference
		showKey    sql.NullString
		showTitle  sql.NullString
		libraryKey sql.NullString
		guid       sql.NullString
		imdbID     sql.NullString
		tmdbID     sql.NullString
		tvdbID     sql.NullString
		subscribed int
		optedOut   int
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&p.ID, &p.Email, &showKey, &showTitle, &libraryKey, &guid, &imdbID, &tmdbID, &tvdbID,
		&subscribed, &optedOut, &updatedRaw); err != nil {
		return nil, err
	}
	p.ShowKey = showKey.String
	p.ShowTitle = showTitle.String
	p.LibraryKey = libraryKey.String
	p.GUID = guid.String
	p.External = identity.ExternalIDs{IMDB: imdbID.String, TMDB: tmdbID.String, TVDB: tvdbID.String}
	p.Subscribed = subscribed != 0
	p.OptedOut = optedOut != 0
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		p.UpdatedAt = updated
	}
	return &p, nil
}

// GlobalOptOut reports whether the user has opted out of all notifications.
func (s *Store) GlobalOptOut(ctx context.Context, email string) (bool, error) {
	var optedOut int
	err := s.db.QueryRowContext(ctx,
		"SELECT opted_out FROM user_preferences WHERE email = ? AND show_key IS NULL", email).Scan(&optedOut)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query global opt-out for %s: %w", email, err)
	}
	return optedOut != 0, nil
}

// ShowPreference returns the user's per-show preference for the referenced
// show, matching on any populated identifier before falling back to the
// normalized title key. Returns nil when no preference exists.
func (s *Store) ShowPreference(ctx context.Context, email string, ref identity.Ref) (*Preference, error) {
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
	if key := identity.NormalizeTitle(ref.Title); key != "" {
		clauses = append(clauses, "show_key = ?")
		args = append(args, key)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		"SELECT %s FROM user_preferences WHERE email = ? AND show_key IS NOT NULL AND (%s) ORDER BY updated_at DESC, id DESC LIMIT 1",
		preferenceColumns, strings.Join(clauses, " OR "))
	row := s.db.QueryRowContext(ctx, query, append([]any{email}, args...)...)
	pref, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query show preference for %s: %w", email, err)
	}
	return pref, nil
}

// HasSubscription reports whether the user holds an active subscription to the
// referenced show.
func (s *Store) HasSubscription(ctx context.Context, email string, ref identity.Ref) (bool, error) {
	pref, err := s.ShowPreference(ctx, email, ref)
	if err != nil {
		return false, err
	}
	return pref != nil && pref.Subscribed && !pref.OptedOut, nil
}

// UpsertPreference stores a preference, replacing any prior row for the same
// user and show key.
func (s *Store) UpsertPreference(ctx context.Context, p Preference) (Preference, error) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	if p.ShowKey == "" && p.ShowTitle != "" {
		p.ShowKey = identity.NormalizeTitle(p.ShowTitle)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (email, show_key, show_title, library_key, guid, imdb_id, tmdb_id, tvdb_id, subscribed, opted_out, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (email, show_key) WHERE show_key IS NOT NULL DO UPDATE SET
            show_title = excluded.show_title,
            library_key = COALESCE(excluded.library_key, user_preferences.library_key),
            guid = COALESCE(excluded.guid, user_preferences.guid),
            imdb_id = COALESCE(excluded.imdb_id, user_preferences.imdb_id),
            tmdb_id = COALESCE(excluded.tmdb_id, user_preferences.tmdb_id),
            tvdb_id = COALESCE(excluded.tvdb_id, user_preferences.tvdb_id),
            subscribed = excluded.subscribed,
            opted_out = excluded.opted_out,
            updated_at = excluded.updated_at`,
		p.Email,
		nullableString(p.ShowKey),
		nullableString(p.ShowTitle),
		nullableString(p.LibraryKey),
		nullableString(p.GUID),
		nullableString(p.External.IMDB),
		nullableString(p.External.TMDB),
		nullableString(p.External.TVDB),
		boolToInt(p.Subscribed),
		boolToInt(p.OptedOut),
		timestamp(p.UpdatedAt),
	)
	if err != nil {
		return Preference{}, fmt.Errorf("upsert preference: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		p.ID = id
	}
	return p, nil
}

// SetGlobalOptOut records or clears the user's global opt-out.
func (s *Store) SetGlobalOptOut(ctx context.Context, email string, optedOut bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (email, show_key, subscribed, opted_out, updated_at)
         VALUES (?, NULL, 0, ?, ?)
         ON CONFLICT (email) WHERE show_key IS NULL DO UPDATE SET
            opted_out = excluded.opted_out,
            updated_at = excluded.updated_at`,
		email, boolToInt(optedOut), timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("set global opt-out for %s: %w", email, err)
	}
	return nil
}

// PreferencesForUser returns all of a user's per-show preferences ordered by
// show title.
func (s *Store) PreferencesForUser(ctx context.Context, email string) ([]*Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM user_preferences WHERE email = ? AND show_key IS NOT NULL ORDER BY show_title, id", preferenceColumns),
		email)
	if err != nil {
		return nil, fmt.Errorf("query preferences for %s: %w", email, err)
	}
	defer rows.Close()

	var results []*Preference
	for rows.Next() {
		pref, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		results = append(results, pref)
	}
	return results, rows.Err()
}

// PreferenceShowRefs returns one reference per distinct show identifier
// combination present in per-show preference rows, for reconciliation.
func (s *Store) PreferenceShowRefs(ctx context.Context) ([]identity.Ref, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT show_title, library_key, guid, imdb_id, tmdb_id, tvdb_id
         FROM user_preferences WHERE show_key IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query preference show refs: %w", err)
	}
	defer rows.Close()

	var refs []identity.Ref
	for rows.Next() {
		var title sql.NullString
		var libraryKey, guid, imdbID, tmdbID, tvdbID sql.NullString
		if err := rows.Scan(&title, &libraryKey, &guid, &imdbID, &tmdbID, &tvdbID); err != nil {
			return nil, fmt.Errorf("scan preference ref: %w", err)
		}
		refs = append(refs, identity.Ref{
			Title:      title.String,
			LibraryKey: libraryKey.String,
			GUID:       guid.String,
			External:   identity.ExternalIDs{IMDB: imdbID.String, TMDB: tmdbID.String, TVDB: tvdbID.String},
		})
	}
	return refs, rows.Err()
}

// BackfillPreferenceIdentifiers fills resolved identifiers onto preference
// rows matching the old reference. Preferences have no cross-row uniqueness on
// identifiers, so this is a plain fill with no merge step.
func (s *Store) BackfillPreferenceIdentifiers(ctx context.Context, old identity.Ref, resolved identity.ShowIdentity) (int, error) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	add("library_key", old.LibraryKey)
	add("guid", old.GUID)
	add("imdb_id", old.External.IMDB)
	add("tmdb_id", old.External.TMDB)
	add("tvdb_id", old.External.TVDB)
	if len(clauses) == 0 {
		if key := identity.NormalizeTitle(old.Title); key != "" {
			clauses = append(clauses, "show_key = ?")
			args = append(args, key)
		}
	}
	if len(clauses) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(
		`UPDATE user_preferences SET
            library_key = COALESCE(library_key, ?),
            guid = COALESCE(guid, ?),
            imdb_id = COALESCE(imdb_id, ?),
            tmdb_id = COALESCE(tmdb_id, ?),
            tvdb_id = COALESCE(tvdb_id, ?),
            updated_at = ?
         WHERE show_key IS NOT NULL AND (%s)`, strings.Join(clauses, " OR "))
	updateArgs := append([]any{
		nullableString(resolved.LibraryKey),
		nullableString(resolved.GUID),
		nullableString(resolved.External.IMDB),
		nullableString(resolved.External.TMDB),
		nullableString(resolved.External.TVDB),
		timestamp(time.Now()),
	}, args...)

	res, err := s.db.ExecContext(ctx, query, updateArgs...)
	if err != nil {
		return 0, fmt.Errorf("backfill preference identifiers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		s.logger.Info("backfilled preference identifiers",
			logging.String(logging.FieldShow, resolved.Title),
			logging.Int64("rows", affected))
	}
	return int(affected), nil
}
