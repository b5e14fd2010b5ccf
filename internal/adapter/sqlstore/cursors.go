package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
)

// Cursor returns the last spot id the correlator fully processed for feed,
// or 0 if it has never run.
func (s *Store) Cursor(ctx context.Context, feed domain.Feed) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT last_id FROM correlator_cursors WHERE feed = ?`), string(feed)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s cursor: %w", feed, err)
	}
	return id, nil
}

// SetCursor advances the cursor for feed. It never moves backwards.
func (s *Store) SetCursor(ctx context.Context, feed domain.Feed, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO correlator_cursors (feed, last_id) VALUES (?, ?)
		ON CONFLICT (feed) DO UPDATE SET last_id = excluded.last_id
		WHERE excluded.last_id > correlator_cursors.last_id`),
		string(feed), id)
	if err != nil {
		return fmt.Errorf("set %s cursor: %w", feed, err)
	}
	return nil
}
