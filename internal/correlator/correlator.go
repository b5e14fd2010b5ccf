// Package correlator pairs activation spots with reception spots of the same
// transmission and records each pair as a match.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Store is the subset of the spot store the correlator needs.
type Store interface {
	Cursor(ctx context.Context, feed domain.Feed) (int64, error)
	SetCursor(ctx context.Context, feed domain.Feed, id int64) error
	ActivationSpotsSince(ctx context.Context, cursor int64, insertedBefore time.Time, limit int) ([]domain.ActivationSpot, error)
	ReceptionSpotsSince(ctx context.Context, cursor int64, insertedBefore time.Time, limit int) ([]domain.ReceptionSpot, error)
	ActivationSpotsBetween(ctx context.Context, from, to time.Time) ([]domain.ActivationSpot, error)
	ReceptionSpotsFor(ctx context.Context, callsign string, from, to time.Time) ([]domain.ReceptionSpot, error)
	InsertMatch(ctx context.Context, m domain.Match) (bool, error)
}

// Config holds the matching thresholds.
type Config struct {
	TimeWindow      time.Duration
	FreqToleranceHz int64
	// ModeTolerances overrides FreqToleranceHz per mode, keyed by upper-case mode.
	ModeTolerances map[string]int64
	BatchLimit     int
	// SettleDelay holds back spots inserted less than this long ago so that
	// concurrent writers have committed everything with a lower id.
	SettleDelay time.Duration
}

// Result summarises one pass.
type Result struct {
	Activations int
	Receptions  int
	Matches     int
}

// Correlator runs correlation passes against the store.
type Correlator struct {
	cfg     Config
	store   Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Correlator. A nil clock uses real time.
func New(cfg Config, store Store, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Correlator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 1000
	}
	return &Correlator{cfg: cfg, store: store, clock: clock, logger: logger, metrics: metrics}
}

// Pass scans spots added since the last pass on both feeds and inserts a
// match for every qualifying pair. Pairs already recorded are skipped. A feed
// cursor only moves past spots whose candidates were fully processed, so a
// failed spot is retried on the next pass.
func (c *Correlator) Pass(ctx context.Context) (Result, error) {
	start := c.clock.Now()
	defer func() { c.metrics.CorrelationDuration.Observe(c.clock.Since(start).Seconds()) }()

	insertedBefore := start.Add(-c.cfg.SettleDelay)
	var res Result

	n, m, err := c.scanActivations(ctx, insertedBefore)
	res.Activations, res.Matches = n, m
	if err != nil {
		return res, err
	}

	n, m, err = c.scanReceptions(ctx, insertedBefore)
	res.Receptions = n
	res.Matches += m
	if err != nil {
		return res, err
	}

	if res.Activations+res.Receptions > 0 {
		c.logger.Info("correlation pass complete",
			"activations", res.Activations,
			"receptions", res.Receptions,
			"matches", res.Matches,
		)
	}
	return res, nil
}

// scanActivations looks up receptions of each new activation's callsign.
func (c *Correlator) scanActivations(ctx context.Context, insertedBefore time.Time) (scanned, created int, err error) {
	cursor, err := c.store.Cursor(ctx, domain.FeedActivation)
	if err != nil {
		return 0, 0, err
	}
	spots, err := c.store.ActivationSpotsSince(ctx, cursor, insertedBefore, c.cfg.BatchLimit)
	if err != nil {
		return 0, 0, err
	}

	done := cursor
	defer func() {
		if done > cursor {
			if cerr := c.store.SetCursor(ctx, domain.FeedActivation, done); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	for _, a := range spots {
		recs, err := c.store.ReceptionSpotsFor(ctx, a.Callsign, a.ObservedAt.Add(-c.cfg.TimeWindow), a.ObservedAt.Add(c.cfg.TimeWindow))
		if err != nil {
			return scanned, created, fmt.Errorf("activation spot %d: %w", a.ID, err)
		}
		for _, r := range recs {
			ok, err := c.record(ctx, a, r)
			if err != nil {
				return scanned, created, fmt.Errorf("activation spot %d: %w", a.ID, err)
			}
			if ok {
				created++
			}
		}
		done = a.ID
		scanned++
		c.metrics.SpotsScanned.WithLabelValues(string(domain.FeedActivation)).Inc()
	}
	return scanned, created, nil
}

// scanReceptions loads every activation in the batch's time span once and
// pairs in memory, since receptions arrive far faster than activations.
func (c *Correlator) scanReceptions(ctx context.Context, insertedBefore time.Time) (scanned, created int, err error) {
	cursor, err := c.store.Cursor(ctx, domain.FeedReception)
	if err != nil {
		return 0, 0, err
	}
	spots, err := c.store.ReceptionSpotsSince(ctx, cursor, insertedBefore, c.cfg.BatchLimit)
	if err != nil || len(spots) == 0 {
		return 0, 0, err
	}

	done := cursor
	defer func() {
		if done > cursor {
			if cerr := c.store.SetCursor(ctx, domain.FeedReception, done); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	from, to := spots[0].ObservedAt, spots[0].ObservedAt
	for _, r := range spots[1:] {
		if r.ObservedAt.Before(from) {
			from = r.ObservedAt
		}
		if r.ObservedAt.After(to) {
			to = r.ObservedAt
		}
	}
	acts, err := c.store.ActivationSpotsBetween(ctx, from.Add(-c.cfg.TimeWindow), to.Add(c.cfg.TimeWindow))
	if err != nil {
		return 0, 0, err
	}
	byCall := make(map[string][]domain.ActivationSpot, len(acts))
	for _, a := range acts {
		key := domain.NormalizeCallsign(a.Callsign)
		byCall[key] = append(byCall[key], a)
	}

	for _, r := range spots {
		for _, a := range byCall[domain.NormalizeCallsign(r.Reported)] {
			ok, err := c.record(ctx, a, r)
			if err != nil {
				return scanned, created, fmt.Errorf("reception spot %d: %w", r.ID, err)
			}
			if ok {
				created++
			}
		}
		done = r.ID
		scanned++
		c.metrics.SpotsScanned.WithLabelValues(string(domain.FeedReception)).Inc()
	}
	return scanned, created, nil
}

// record inserts the match for a and r if they qualify. It reports whether a
// new match row was written.
func (c *Correlator) record(ctx context.Context, a domain.ActivationSpot, r domain.ReceptionSpot) (bool, error) {
	if !Qualifies(a, r, c.cfg) {
		return false, nil
	}
	inserted, err := c.store.InsertMatch(ctx, NewMatch(a, r, c.clock.Now()))
	if err != nil {
		return false, err
	}
	if inserted {
		c.metrics.MatchesCreated.Inc()
		c.logger.Debug("match created",
			"callsign", a.Callsign,
			"summit", a.SummitRef,
			"reporter", r.Reporter,
			"activation_spot_id", a.ID,
			"reception_spot_id", r.ID,
		)
	}
	return inserted, nil
}

// Qualifies reports whether a and r describe the same transmission: same
// callsign, observed within TimeWindow and within the frequency tolerance for
// the mode.
func Qualifies(a domain.ActivationSpot, r domain.ReceptionSpot, cfg Config) bool {
	if domain.NormalizeCallsign(a.Callsign) != domain.NormalizeCallsign(r.Reported) {
		return false
	}
	if abs(r.ObservedAt.Sub(a.ObservedAt)) > cfg.TimeWindow {
		return false
	}
	return abs(r.FrequencyHz-a.FrequencyHz) <= cfg.toleranceFor(a, r)
}

// toleranceFor prefers an override for the reception mode, then the
// activation mode, then the default.
func (cfg Config) toleranceFor(a domain.ActivationSpot, r domain.ReceptionSpot) int64 {
	if tol, ok := cfg.ModeTolerances[strings.ToUpper(r.Mode)]; ok {
		return tol
	}
	if tol, ok := cfg.ModeTolerances[strings.ToUpper(a.Mode)]; ok {
		return tol
	}
	return cfg.FreqToleranceHz
}

// NewMatch builds the match for a pair. Differences are reception minus activation.
func NewMatch(a domain.ActivationSpot, r domain.ReceptionSpot, now time.Time) domain.Match {
	return domain.Match{
		ActivationSpotID: a.ID,
		ReceptionSpotID:  r.ID,
		CreatedAt:        now,
		TimeDiffSeconds:  int64(r.ObservedAt.Sub(a.ObservedAt) / time.Second),
		FreqDiffHz:       r.FrequencyHz - a.FrequencyHz,
	}
}

func abs[T int64 | time.Duration](v T) T {
	if v < 0 {
		return -v
	}
	return v
}
