// Package remote wraps outbound lookup calls with a rate limit and a circuit
// breaker shared by the location services.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Breaker defaults: open after five consecutive service failures, allow a trial
// after a minute.
const (
	tripAfter      = 5
	openTimeout    = time.Minute
	countsInterval = 5 * time.Minute
)

// Guard limits and protects calls to one remote service.
type Guard struct {
	name    string
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[domain.Location]
	metrics *observability.Metrics
}

// NewGuard allows perSecond calls per second (burst 1). perSecond <= 0
// disables rate limiting.
func NewGuard(name string, perSecond float64, logger *slog.Logger, metrics *observability.Metrics) *Guard {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Guard{
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
		cb: gobreaker.NewCircuitBreaker[domain.Location](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    countsInterval,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= tripAfter
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "service", name, "from", from.String(), "to", to.String())
			},
			// An unknown summit or callsign is an answer, not a service failure.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrNotFound)
			},
		}),
		metrics: metrics,
	}
}

// Do waits for the rate limiter and runs fn through the breaker. A rejected
// call returns a *domain.TransientError.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) (domain.Location, error)) (domain.Location, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.Location{}, &domain.TransientError{Op: g.name + " rate limit", Err: err}
	}

	start := time.Now()
	loc, err := g.cb.Execute(func() (domain.Location, error) {
		return fn(ctx)
	})
	g.metrics.LookupAPIDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Location{}, &domain.TransientError{Op: g.name + " lookup", Err: err}
	}
	return loc, err
}

// State reports the breaker state, e.g. "closed" or "open".
func (g *Guard) State() string {
	return g.cb.State().String()
}
