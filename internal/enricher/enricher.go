// Package enricher attaches coordinates and great-circle distance to matches.
package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Store reads pending matches and records their enrichment.
type Store interface {
	UnenrichedMatches(ctx context.Context, limit int) ([]domain.MatchDetail, error)
	MarkEnriched(ctx context.Context, id int64, e domain.Enrichment) (bool, error)
	RecordEnrichmentAttempt(ctx context.Context, id int64, at time.Time) error
}

// Resolver turns summit references and callsigns into positions.
type Resolver interface {
	ResolveSummit(ctx context.Context, ref string) (domain.Location, error)
	ResolveCallsign(ctx context.Context, callsign string) (domain.Location, error)
}

// Publisher receives newly enriched matches. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, paths []domain.PropagationPath) error
}

// Result summarises one pass.
type Result struct {
	Pulled    int
	Enriched  int
	Deferred  int
	Published int
}

// Enricher processes unenriched matches in bounded batches.
type Enricher struct {
	store     Store
	resolver  Resolver
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// New creates an Enricher. publisher may be nil.
func New(store Store, resolver Resolver, publisher Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Enricher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Enricher{
		store:     store,
		resolver:  resolver,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Pass enriches up to one batch of matches. Matches whose endpoints cannot be
// located are left unenriched for a later pass. Only store failures are
// returned as errors.
func (e *Enricher) Pass(ctx context.Context) (Result, error) {
	start := e.clock.Now()
	var res Result

	batch, err := e.store.UnenrichedMatches(ctx, e.batchSize)
	if err != nil {
		return res, err
	}
	res.Pulled = len(batch)
	if len(batch) == 0 {
		return res, nil
	}
	e.metrics.EnrichBatchSize.Observe(float64(len(batch)))

	paths := make([]domain.PropagationPath, 0, len(batch))
	for _, d := range batch {
		if ctx.Err() != nil {
			break
		}
		enrichment, ok := e.locate(ctx, d)
		if !ok {
			if ctx.Err() != nil {
				break
			}
			res.Deferred++
			e.metrics.EnrichmentDeferred.Inc()
			if err := e.store.RecordEnrichmentAttempt(ctx, d.ID, e.clock.Now()); err != nil {
				return res, err
			}
			continue
		}

		applied, err := e.store.MarkEnriched(ctx, d.ID, enrichment)
		if err != nil {
			return res, err
		}
		if !applied {
			e.logger.Debug("match already enriched", "match_id", d.ID)
			continue
		}
		res.Enriched++
		e.metrics.MatchesEnriched.Inc()

		d.Enriched = true
		d.Enrichment = &enrichment
		if p, ok := domain.NewPropagationPath(d); ok {
			paths = append(paths, p)
		}
	}

	res.Published = e.publish(ctx, paths)
	e.metrics.EnrichmentDuration.Observe(e.clock.Since(start).Seconds())
	e.logger.Info("enrichment pass complete",
		"pulled", res.Pulled,
		"enriched", res.Enriched,
		"deferred", res.Deferred,
		"published", res.Published,
	)
	return res, ctx.Err()
}

// locate resolves both endpoints of d. ok is false if either is unavailable.
func (e *Enricher) locate(ctx context.Context, d domain.MatchDetail) (domain.Enrichment, bool) {
	act, err := e.resolver.ResolveSummit(ctx, d.Activation.SummitRef)
	if err != nil {
		e.logger.Warn("activation location unavailable, deferring match",
			"match_id", d.ID, "summit", d.Activation.SummitRef, "error", err)
		return domain.Enrichment{}, false
	}
	rec, err := e.resolver.ResolveCallsign(ctx, d.Reception.Reporter)
	if err != nil {
		e.logger.Warn("reception location unavailable, deferring match",
			"match_id", d.ID, "reporter", d.Reception.Reporter, "error", err)
		return domain.Enrichment{}, false
	}

	return domain.Enrichment{
		Activation: act.Coordinates,
		Reception:  rec.Coordinates,
		DistanceKm: domain.Haversine(act.Coordinates, rec.Coordinates),
		EnrichedAt: e.clock.Now(),
	}, true
}

func (e *Enricher) publish(ctx context.Context, paths []domain.PropagationPath) int {
	if e.publisher == nil || len(paths) == 0 {
		return 0
	}
	if err := e.publisher.Publish(ctx, paths); err != nil {
		e.logger.Error("publish propagation paths failed", "error", fmt.Errorf("%d paths: %w", len(paths), err))
		return 0
	}
	e.metrics.MatchesPublished.Add(float64(len(paths)))
	return len(paths)
}
