package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
)

const matchDetailSelect = `
	SELECT m.id, m.activation_spot_id, m.reception_spot_id, m.created_at,
		m.time_diff_seconds, m.freq_diff_hz, m.enriched,
		m.activation_lat, m.activation_lon, m.reception_lat, m.reception_lon,
		m.distance_km, m.enriched_at,
		a.observed_at, a.callsign, a.summit_ref, a.frequency_hz, a.mode, a.spotter, a.comment,
		r.observed_at, r.reporter, r.reported, r.frequency_hz, r.snr, r.mode, r.wpm, r.spot_type
	FROM matches m
	JOIN activation_spots a ON a.id = m.activation_spot_id
	JOIN reception_spots r ON r.id = m.reception_spot_id`

// InsertMatch inserts m unless a match for the same spot pair exists.
// inserted is false for a duplicate; that is not an error.
func (s *Store) InsertMatch(ctx context.Context, m domain.Match) (inserted bool, err error) {
	created := m.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO matches (activation_spot_id, reception_spot_id, created_at, time_diff_seconds, freq_diff_hz)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (activation_spot_id, reception_spot_id) DO NOTHING`),
		m.ActivationSpotID, m.ReceptionSpotID, toMillis(created), m.TimeDiffSeconds, m.FreqDiffHz)
	if err != nil {
		return false, fmt.Errorf("insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert match: %w", err)
	}
	return n > 0, nil
}

// UnenrichedMatches returns up to limit matches awaiting enrichment, oldest
// first. With Options.FairEnrichmentOrder, matches never attempted come first,
// then by least recent attempt.
func (s *Store) UnenrichedMatches(ctx context.Context, limit int) ([]domain.MatchDetail, error) {
	order := "m.id"
	if s.fairOrder {
		order = "m.last_attempt_at, m.id"
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(matchDetailSelect+`
		WHERE m.enriched = 0
		ORDER BY `+order+`
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query unenriched matches: %w", err)
	}
	return scanMatchDetails(rows)
}

// MarkEnriched writes the enrichment for match id. It applies only if the
// match is not yet enriched; applied is false otherwise.
func (s *Store) MarkEnriched(ctx context.Context, id int64, e domain.Enrichment) (applied bool, err error) {
	at := e.EnrichedAt
	if at.IsZero() {
		at = s.now()
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE matches SET enriched = 1,
			activation_lat = ?, activation_lon = ?,
			reception_lat = ?, reception_lon = ?,
			distance_km = ?, enriched_at = ?
		WHERE id = ? AND enriched = 0`),
		e.Activation.Lat, e.Activation.Lon, e.Reception.Lat, e.Reception.Lon,
		e.DistanceKm, toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("mark match %d enriched: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark match %d enriched: %w", id, err)
	}
	return n > 0, nil
}

// RecordEnrichmentAttempt stamps a failed enrichment attempt. Under
// FairEnrichmentOrder the match then moves behind others in UnenrichedMatches.
func (s *Store) RecordEnrichmentAttempt(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE matches SET last_attempt_at = ? WHERE id = ? AND enriched = 0`),
		toMillis(at), id)
	if err != nil {
		return fmt.Errorf("record enrichment attempt for match %d: %w", id, err)
	}
	return nil
}

// GetMatch returns a single match with its spots.
func (s *Store) GetMatch(ctx context.Context, id int64) (domain.MatchDetail, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(matchDetailSelect+` WHERE m.id = ?`), id)
	if err != nil {
		return domain.MatchDetail{}, fmt.Errorf("query match %d: %w", id, err)
	}
	out, err := scanMatchDetails(rows)
	if err != nil {
		return domain.MatchDetail{}, err
	}
	if len(out) == 0 {
		return domain.MatchDetail{}, fmt.Errorf("match %d: %w", id, domain.ErrNotFound)
	}
	return out[0], nil
}

// QueryMatches returns matches for consumers, enriched first, newest first.
func (s *Store) QueryMatches(ctx context.Context, q domain.MatchQuery) ([]domain.MatchDetail, error) {
	var (
		conditions []string
		args       []any
	)

	if !q.Since.IsZero() {
		conditions = append(conditions, "r.observed_at >= ?")
		args = append(args, toMillis(q.Since))
	}
	if !q.Until.IsZero() {
		conditions = append(conditions, "r.observed_at <= ?")
		args = append(args, toMillis(q.Until))
	}
	if q.Band != "" {
		band, ok := domain.LookupBand(q.Band)
		if !ok {
			return nil, fmt.Errorf("unknown band %q", q.Band)
		}
		conditions = append(conditions, "r.frequency_hz BETWEEN ? AND ?")
		args = append(args, band.LowHz, band.HighHz)
	}
	if q.MinSNR != nil {
		conditions = append(conditions, "r.snr >= ?")
		args = append(args, *q.MinSNR)
	}
	if q.Callsign != "" {
		pattern := likePattern(q.Callsign)
		conditions = append(conditions, `(a.callsign LIKE ? ESCAPE '\' OR r.reporter LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if q.Summit != "" {
		conditions = append(conditions, `a.summit_ref LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(q.Summit))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultMatchLimit
	}
	if limit > domain.MaxMatchLimit {
		limit = domain.MaxMatchLimit
	}

	query := matchDetailSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY m.enriched DESC, r.observed_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	return scanMatchDetails(rows)
}

// PropagationStats aggregates enriched matches whose reception was observed
// at or after since.
func (s *Store) PropagationStats(ctx context.Context, since time.Time) (domain.PropagationStats, error) {
	st := domain.PropagationStats{Since: since.UTC(), Bands: map[string]int{}}
	from := `
		FROM matches m
		JOIN activation_spots a ON a.id = m.activation_spot_id
		JOIN reception_spots r ON r.id = m.reception_spot_id
		WHERE m.enriched = 1 AND r.observed_at >= ?`

	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*), COUNT(DISTINCT a.summit_ref), COUNT(DISTINCT r.reporter),
			COALESCE(AVG(m.distance_km), 0), COALESCE(MIN(m.distance_km), 0), COALESCE(MAX(m.distance_km), 0),
			COALESCE(AVG(CAST(r.snr AS DOUBLE PRECISION)), 0)`+from), toMillis(since),
	).Scan(&st.TotalPaths, &st.UniqueSummits, &st.UniqueSpotters,
		&st.AvgDistanceKm, &st.MinDistanceKm, &st.MaxDistanceKm, &st.AvgSNR)
	if err != nil {
		return st, fmt.Errorf("query propagation stats: %w", err)
	}
	if st.TotalPaths == 0 {
		return st, nil
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT r.frequency_hz, COUNT(*)`+from+`
		GROUP BY r.frequency_hz`), toMillis(since))
	if err != nil {
		return st, fmt.Errorf("query band histogram: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var hz, n int64
		if err := rows.Scan(&hz, &n); err != nil {
			return st, fmt.Errorf("scan band histogram: %w", err)
		}
		band := domain.BandFor(hz)
		if band == "" {
			band = domain.OutOfBand
		}
		st.Bands[band] += int(n)
	}
	return st, rows.Err()
}

// likePattern upper-cases s, escapes LIKE wildcards, and wraps it in %.
func likePattern(s string) string {
	return "%" + escapeLike(strings.ToUpper(strings.TrimSpace(s))) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanMatchDetails(rows *sql.Rows) ([]domain.MatchDetail, error) {
	defer func() { _ = rows.Close() }()

	var out []domain.MatchDetail
	for rows.Next() {
		var (
			d                      domain.MatchDetail
			created, aObs, rObs    int64
			enriched               int64
			aLat, aLon, rLat, rLon sql.NullFloat64
			distance               sql.NullFloat64
			enrichedAt             sql.NullInt64
		)
		err := rows.Scan(
			&d.ID, &d.ActivationSpotID, &d.ReceptionSpotID, &created,
			&d.TimeDiffSeconds, &d.FreqDiffHz, &enriched,
			&aLat, &aLon, &rLat, &rLon, &distance, &enrichedAt,
			&aObs, &d.Activation.Callsign, &d.Activation.SummitRef, &d.Activation.FrequencyHz,
			&d.Activation.Mode, &d.Activation.Spotter, &d.Activation.Comment,
			&rObs, &d.Reception.Reporter, &d.Reception.Reported, &d.Reception.FrequencyHz,
			&d.Reception.SNR, &d.Reception.Mode, &d.Reception.WPM, &d.Reception.SpotType,
		)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		d.CreatedAt = fromMillis(created)
		d.Activation.ID = d.ActivationSpotID
		d.Activation.ObservedAt = fromMillis(aObs)
		d.Reception.ID = d.ReceptionSpotID
		d.Reception.ObservedAt = fromMillis(rObs)
		d.Enriched = enriched != 0
		if d.Enriched {
			d.Enrichment = &domain.Enrichment{
				Activation: domain.Coordinates{Lat: aLat.Float64, Lon: aLon.Float64},
				Reception:  domain.Coordinates{Lat: rLat.Float64, Lon: rLon.Float64},
				DistanceKm: distance.Float64,
				EnrichedAt: fromMillis(enrichedAt.Int64),
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
