// Package retention deletes reception spots that can no longer match.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Store deletes old, unreferenced reception spots.
type Store interface {
	PruneReceptionSpots(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner removes reception spots older than MaxAge.
type Pruner struct {
	store   Store
	maxAge  time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Pruner. A nil clock uses real time.
func New(store Store, maxAge time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pruner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pruner{store: store, maxAge: maxAge, clock: clock, logger: logger, metrics: metrics}
}

// Pass deletes one round of expired spots and returns how many went.
func (p *Pruner) Pass(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().Add(-p.maxAge)
	n, err := p.store.PruneReceptionSpots(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention pass: %w", err)
	}
	p.metrics.SpotsPruned.Add(float64(n))
	if n > 0 {
		p.logger.Info("reception spots pruned", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
