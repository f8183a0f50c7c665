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

// ErrAmbiguousFingerprint is returned when a loose fingerprint-prefix lookup
// matches more than one stored identity. Ambiguous matches are never merged
// automatically.
var ErrAmbiguousFingerprint = errors.New("ambiguous fingerprint match")

const identityColumns = "id, library_key, guid, imdb_id, tmdb_id, tvdb_id, title, year, fingerprint, updated_at"

func scanIdentity(scanner interface{ Scan(dest ...any) error }) (*identity.ShowIdentity, error) {
	var (
		id          int64
		libraryKey  sql.NullString
		guid        sql.NullString
		imdbID      sql.NullString
		tmdbID      sql.NullString
		tvdbID      sql.NullString
		title       string
		year        sql.NullInt64
		fingerprint sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(&id, &libraryKey, &guid, &imdbID, &tmdbID, &tvdbID, &title, &year, &fingerprint, &updatedRaw); err != nil {
		return nil, err
	}

	ident := &identity.ShowIdentity{
		ID:         id,
		LibraryKey: libraryKey.String,
		GUID:       guid.String,
		External: identity.ExternalIDs{
			IMDB: imdbID.String,
			TMDB: tmdbID.String,
			TVDB: tvdbID.String,
		},
		Title:       title,
		Year:        int(year.Int64),
		Fingerprint: fingerprint.String,
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		ident.UpdatedAt = updated
	}
	return ident, nil
}

// IdentityLookup describes the identifiers available for a find operation.
type IdentityLookup struct {
	GUID        string
	LibraryKey  string
	External    identity.ExternalIDs
	Fingerprint string
}

// FindIdentity looks up a canonical identity by any identifier, trying GUID,
// library key, external IDs, exact fingerprint, then a fingerprint-prefix
// match that must be unambiguous. Returns (nil, nil) when nothing matches and
// ErrAmbiguousFingerprint when a loose match hits several candidates.
func (s *Store) FindIdentity(ctx context.Context, lookup IdentityLookup) (*identity.ShowIdentity, error) {
	if lookup.GUID != "" {
		if found, err := s.identityWhere(ctx, "guid = ?", lookup.GUID); err != nil || found != nil {
			return found, err
		}
	}
	if lookup.LibraryKey != "" {
		if found, err := s.identityWhere(ctx, "library_key = ?", lookup.LibraryKey); err != nil || found != nil {
			return found, err
		}
	}
	for _, provider := range identity.ProviderOrder {
		id := lookup.External.Get(provider)
		if id == "" {
			continue
		}
		found, err := s.identityWhere(ctx, fmt.Sprintf("%s_id = ?", provider), id)
		if err != nil || found != nil {
			return found, err
		}
	}
	if lookup.Fingerprint == "" {
		return nil, nil
	}

	if found, err := s.identityWhere(ctx, "fingerprint = ?", lookup.Fingerprint); err != nil || found != nil {
		return found, err
	}

	prefix := identity.FingerprintPrefix(lookup.Fingerprint)
	if prefix == "" {
		return nil, nil
	}
	matches, err := s.identitiesWhere(ctx, "fingerprint LIKE ? ESCAPE '\\'", likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		s.logger.Warn("fingerprint prefix matched multiple identities, refusing to merge",
			logging.String("fingerprint", lookup.Fingerprint),
			logging.Int("candidates", len(matches)))
		return nil, fmt.Errorf("%w: prefix %q matched %d identities", ErrAmbiguousFingerprint, prefix, len(matches))
	}
}

// UpsertIdentity records a freshly observed identity. Every stored row
// matching any of the candidate's identifiers is located; when more than one
// matches, the observation has proven they denote the same show and they are
// merged forward into the oldest row. Empty fields fill from the candidate,
// conflicting fields are logged as mismatches rather than silently
// overwritten. Returns the merged identity and whether anything changed.
func (s *Store) UpsertIdentity(ctx context.Context, candidate identity.ShowIdentity) (identity.ShowIdentity, bool, error) {
	matches, err := s.matchingIdentities(ctx, candidate)
	if err != nil {
		return identity.ShowIdentity{}, false, err
	}

	now := time.Now()
	if len(matches) == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO show_identities (library_key, guid, imdb_id, tmdb_id, tvdb_id, title, year, fingerprint, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableString(candidate.LibraryKey),
			nullableString(candidate.GUID),
			nullableString(candidate.External.IMDB),
			nullableString(candidate.External.TMDB),
			nullableString(candidate.External.TVDB),
			candidate.Title,
			nullableInt(candidate.Year),
			nullableString(candidate.Fingerprint),
			timestamp(now),
		)
		if err != nil {
			return identity.ShowIdentity{}, false, fmt.Errorf("insert identity: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return identity.ShowIdentity{}, false, fmt.Errorf("last insert id: %w", err)
		}
		candidate.ID = id
		candidate.UpdatedAt = now
		return candidate, true, nil
	}

	primary := *matches[0]
	absorbed := false
	for _, other := range matches[1:] {
		s.logger.Info("merging duplicate identities",
			logging.Int64("kept_id", primary.ID),
			logging.Int64("absorbed_id", other.ID),
			logging.String("kept_title", primary.Title),
			logging.String("absorbed_title", other.Title))
		primary, _ = s.mergeIdentity(primary, *other)
		if _, err := s.db.ExecContext(ctx, "DELETE FROM show_identities WHERE id = ?", other.ID); err != nil {
			return identity.ShowIdentity{}, false, fmt.Errorf("absorb identity %d: %w", other.ID, err)
		}
		absorbed = true
	}

	merged, changed := s.mergeIdentity(primary, candidate)
	if !changed && !absorbed {
		return primary, false, nil
	}

	merged.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE show_identities
         SET library_key = ?, guid = ?, imdb_id = ?, tmdb_id = ?, tvdb_id = ?, title = ?, year = ?, fingerprint = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(merged.LibraryKey),
		nullableString(merged.GUID),
		nullableString(merged.External.IMDB),
		nullableString(merged.External.TMDB),
		nullableString(merged.External.TVDB),
		merged.Title,
		nullableInt(merged.Year),
		nullableString(merged.Fingerprint),
		timestamp(now),
		merged.ID,
	)
	if err != nil {
		return identity.ShowIdentity{}, false, fmt.Errorf("update identity %d: %w", merged.ID, err)
	}
	return merged, true, nil
}

// mergeIdentity fills empty fields on current from candidate. Populated fields
// that disagree are kept as stored and logged, except the library key and
// GUID, which legitimately drift when a show is removed and re-added: the
// fresh observation wins there.
func (s *Store) mergeIdentity(current, candidate identity.ShowIdentity) (identity.ShowIdentity, bool) {
	changed := false

	replaceable := func(field string, stored, observed string) string {
		if observed == "" || stored == observed {
			return stored
		}
		if stored != "" {
			s.logger.Info("identity identifier drifted, adopting current value",
				logging.Int64("identity_id", current.ID),
				logging.String("field", field),
				logging.String("old", stored),
				logging.String("new", observed))
		}
		changed = true
		return observed
	}
	fillOnly := func(field string, stored, observed string) string {
		if observed == "" || stored == observed {
			return stored
		}
		if stored != "" {
			s.logger.Warn("identity identifier mismatch, keeping stored value",
				logging.Int64("identity_id", current.ID),
				logging.String("field", field),
				logging.String("stored", stored),
				logging.String("observed", observed))
			return stored
		}
		changed = true
		return observed
	}

	current.LibraryKey = replaceable("library_key", current.LibraryKey, candidate.LibraryKey)
	current.GUID = replaceable("guid", current.GUID, candidate.GUID)
	current.External.IMDB = fillOnly("imdb_id", current.External.IMDB, candidate.External.IMDB)
	current.External.TMDB = fillOnly("tmdb_id", current.External.TMDB, candidate.External.TMDB)
	current.External.TVDB = fillOnly("tvdb_id", current.External.TVDB, candidate.External.TVDB)
	current.Fingerprint = replaceable("fingerprint", current.Fingerprint, candidate.Fingerprint)

	if candidate.Title != "" && candidate.Title != current.Title {
		current.Title = candidate.Title
		changed = true
	}
	if candidate.Year != 0 && candidate.Year != current.Year {
		if current.Year != 0 {
			s.logger.Warn("identity year mismatch",
				logging.Int64("identity_id", current.ID),
				logging.Int("stored", current.Year),
				logging.Int("observed", candidate.Year))
		}
		current.Year = candidate.Year
		changed = true
	}

	return current, changed
}

// matchingIdentities returns every stored identity sharing at least one
// populated identifier with the candidate, oldest first. Loose fingerprint
// prefixes are deliberately excluded; only exact identifiers may merge rows.
func (s *Store) matchingIdentities(ctx context.Context, candidate identity.ShowIdentity) ([]*identity.ShowIdentity, error) {
	var clauses []string
	var args []any
	add := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	add("guid", candidate.GUID)
	add("library_key", candidate.LibraryKey)
	add("imdb_id", candidate.External.IMDB)
	add("tmdb_id", candidate.External.TMDB)
	add("tvdb_id", candidate.External.TVDB)
	add("fingerprint", candidate.Fingerprint)
	if len(clauses) == 0 {
		return nil, nil
	}
	return s.identitiesWhere(ctx, strings.Join(clauses, " OR "), args...)
}

func (s *Store) identityWhere(ctx context.Context, where string, args ...any) (*identity.ShowIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM show_identities WHERE %s", identityColumns, where), args...)
	found, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return found, nil
}

func (s *Store) identitiesWhere(ctx context.Context, where string, args ...any) ([]*identity.ShowIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM show_identities WHERE %s ORDER BY id", identityColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var results []*identity.ShowIdentity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		results = append(results, ident)
	}
	return results, rows.Err()
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}
