package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
)

// GetLocation returns the cached entry for kind and key. found is false when
// nothing is cached.
func (s *Store) GetLocation(ctx context.Context, kind domain.LocationKind, key string) (entry domain.LocationEntry, found bool, err error) {
	var (
		updated int64
		source  string
	)
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT lat, lon, name, source, last_updated FROM location_cache
		WHERE kind = ? AND key = ?`), string(kind), key,
	).Scan(&entry.Location.Lat, &entry.Location.Lon, &entry.Location.Name, &source, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LocationEntry{}, false, nil
	}
	if err != nil {
		return domain.LocationEntry{}, false, fmt.Errorf("get location %s %s: %w", kind, key, err)
	}
	entry.Kind = kind
	entry.Key = key
	entry.Location.Source = domain.LocationSource(source)
	entry.LastUpdated = fromMillis(updated)
	return entry, true, nil
}

// UpsertLocation stores e unless the cached row has a newer LastUpdated.
func (s *Store) UpsertLocation(ctx context.Context, e domain.LocationEntry) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO location_cache (kind, key, lat, lon, name, source, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, key) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			name = excluded.name,
			source = excluded.source,
			last_updated = excluded.last_updated
		WHERE excluded.last_updated >= location_cache.last_updated`),
		string(e.Kind), e.Key, e.Location.Lat, e.Location.Lon, e.Location.Name,
		string(e.Location.Source), toMillis(e.LastUpdated))
	if err != nil {
		return fmt.Errorf("upsert location %s %s: %w", e.Kind, e.Key, err)
	}
	return nil
}
