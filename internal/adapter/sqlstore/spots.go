package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
)

const (
	activationColumns = "id, observed_at, callsign, summit_ref, frequency_hz, mode, spotter, comment"
	receptionColumns  = "id, observed_at, reporter, reported, frequency_hz, snr, mode, wpm, spot_type"
)

// InsertActivationSpot appends an activation spot and returns its id. The
// callsign is stored normalized so window lookups compare exactly.
func (s *Store) InsertActivationSpot(ctx context.Context, spot domain.ActivationSpot) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO activation_spots (observed_at, callsign, summit_ref, frequency_hz, mode, spotter, comment, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		toMillis(spot.ObservedAt), domain.NormalizeCallsign(spot.Callsign), spot.SummitRef, spot.FrequencyHz,
		spot.Mode, spot.Spotter, spot.Comment, toMillis(s.now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert activation spot: %w", err)
	}
	return id, nil
}

// InsertReceptionSpot appends a reception spot and returns its id. Reporter
// and reported callsigns are stored normalized.
func (s *Store) InsertReceptionSpot(ctx context.Context, spot domain.ReceptionSpot) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO reception_spots (observed_at, reporter, reported, frequency_hz, snr, mode, wpm, spot_type, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		toMillis(spot.ObservedAt), domain.NormalizeCallsign(spot.Reporter), domain.NormalizeCallsign(spot.Reported), spot.FrequencyHz,
		spot.SNR, spot.Mode, spot.WPM, spot.SpotType, toMillis(s.now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reception spot: %w", err)
	}
	return id, nil
}

// ActivationSpotsSince returns up to limit activation spots with id greater
// than cursor that were inserted at or before insertedBefore, in id order.
func (s *Store) ActivationSpotsSince(ctx context.Context, cursor int64, insertedBefore time.Time, limit int) ([]domain.ActivationSpot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+activationColumns+` FROM activation_spots
		WHERE id > ? AND inserted_at <= ?
		ORDER BY id LIMIT ?`),
		cursor, toMillis(insertedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("query activation spots: %w", err)
	}
	return scanActivationSpots(rows)
}

// ReceptionSpotsSince is the reception-feed counterpart of ActivationSpotsSince.
func (s *Store) ReceptionSpotsSince(ctx context.Context, cursor int64, insertedBefore time.Time, limit int) ([]domain.ReceptionSpot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+receptionColumns+` FROM reception_spots
		WHERE id > ? AND inserted_at <= ?
		ORDER BY id LIMIT ?`),
		cursor, toMillis(insertedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("query reception spots: %w", err)
	}
	return scanReceptionSpots(rows)
}

// ActivationSpotsBetween returns activation spots observed in [from, to].
func (s *Store) ActivationSpotsBetween(ctx context.Context, from, to time.Time) ([]domain.ActivationSpot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+activationColumns+` FROM activation_spots
		WHERE observed_at BETWEEN ? AND ?
		ORDER BY id`),
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("query activation window: %w", err)
	}
	return scanActivationSpots(rows)
}

// ReceptionSpotsFor returns reception spots reporting callsign observed in [from, to].
func (s *Store) ReceptionSpotsFor(ctx context.Context, callsign string, from, to time.Time) ([]domain.ReceptionSpot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+receptionColumns+` FROM reception_spots
		WHERE reported = ? AND observed_at BETWEEN ? AND ?
		ORDER BY id`),
		domain.NormalizeCallsign(callsign), toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("query reception window: %w", err)
	}
	return scanReceptionSpots(rows)
}

// PruneReceptionSpots deletes reception spots observed before cutoff that no
// match references and the correlator has already passed. Spots of the
// callsigns in Options.KeepCallsigns are never deleted.
func (s *Store) PruneReceptionSpots(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM reception_spots
		WHERE observed_at < ?
		AND id <= COALESCE((SELECT last_id FROM correlator_cursors WHERE feed = ?), 0)
		AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.reception_spot_id = reception_spots.id)`
	args := []any{toMillis(cutoff), string(domain.FeedReception)}
	if cond, keepArgs := s.keepCondition(); cond != "" {
		query += " AND NOT " + cond
		args = append(args, keepArgs...)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("prune reception spots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune reception spots: %w", err)
	}
	return n, nil
}

// OwnReceptionSpots returns reception spots of the Options.KeepCallsigns
// observed at or after since, newest first. It returns nothing when no
// callsigns are configured.
func (s *Store) OwnReceptionSpots(ctx context.Context, since time.Time, limit int) ([]domain.ReceptionSpot, error) {
	cond, args := s.keepCondition()
	if cond == "" {
		return nil, nil
	}
	args = append(args, toMillis(since), limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+receptionColumns+` FROM reception_spots
		WHERE `+cond+` AND observed_at >= ?
		ORDER BY observed_at DESC, id DESC LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("query own reception spots: %w", err)
	}
	spots, err := scanReceptionSpots(rows)
	if err != nil {
		return nil, err
	}
	// The LIKE filter is a superset; BaseCallsign decides.
	out := spots[:0]
	for _, r := range spots {
		if s.isKept(r.Reported) {
			out = append(out, r)
		}
	}
	return out, nil
}

// keepCondition matches reported callsigns equal to a kept base call or
// carrying it with a /prefix or /suffix.
func (s *Store) keepCondition() (string, []any) {
	if len(s.keep) == 0 {
		return "", nil
	}
	var (
		terms []string
		args  []any
	)
	for _, base := range s.keep {
		esc := escapeLike(base)
		terms = append(terms, `(reported = ? OR reported LIKE ? ESCAPE '\' OR reported LIKE ? ESCAPE '\' OR reported LIKE ? ESCAPE '\')`)
		args = append(args, base, esc+"/%", "%/"+esc, "%/"+esc+"/%")
	}
	return "(" + strings.Join(terms, " OR ") + ")", args
}

func (s *Store) isKept(call string) bool {
	for _, base := range s.keep {
		if domain.IsOwnCallsign(call, base) {
			return true
		}
	}
	return false
}

// keepList reduces callsigns to their distinct base calls.
func keepList(calls []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range calls {
		if domain.NormalizeCallsign(c) == "" {
			continue
		}
		base := domain.BaseCallsign(c)
		if !seen[base] {
			seen[base] = true
			out = append(out, base)
		}
	}
	return out
}

func scanActivationSpots(rows *sql.Rows) ([]domain.ActivationSpot, error) {
	defer func() { _ = rows.Close() }()

	var out []domain.ActivationSpot
	for rows.Next() {
		var (
			a        domain.ActivationSpot
			observed int64
		)
		if err := rows.Scan(&a.ID, &observed, &a.Callsign, &a.SummitRef, &a.FrequencyHz, &a.Mode, &a.Spotter, &a.Comment); err != nil {
			return nil, fmt.Errorf("scan activation spot: %w", err)
		}
		a.ObservedAt = fromMillis(observed)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanReceptionSpots(rows *sql.Rows) ([]domain.ReceptionSpot, error) {
	defer func() { _ = rows.Close() }()

	var out []domain.ReceptionSpot
	for rows.Next() {
		var (
			r        domain.ReceptionSpot
			observed int64
		)
		if err := rows.Scan(&r.ID, &observed, &r.Reporter, &r.Reported, &r.FrequencyHz, &r.SNR, &r.Mode, &r.WPM, &r.SpotType); err != nil {
			return nil, fmt.Errorf("scan reception spot: %w", err)
		}
		r.ObservedAt = fromMillis(observed)
		out = append(out, r)
	}
	return out, rows.Err()
}
