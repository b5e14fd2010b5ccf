package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(perSecond float64) *Guard {
	return NewGuard("sota", perSecond, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestGuard_PassesResultThrough(t *testing.T) {
	g := newTestGuard(0)
	loc, err := g.Do(context.Background(), func(context.Context) (domain.Location, error) {
		return domain.Location{Coordinates: domain.Coordinates{Lat: 1, Lon: 2}}, nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, loc.Lat, 1e-9)
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	g := newTestGuard(0)
	boom := errors.New("503 service unavailable")
	calls := 0
	fail := func(context.Context) (domain.Location, error) {
		calls++
		return domain.Location{}, boom
	}

	for range tripAfter {
		_, err := g.Do(context.Background(), fail)
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Do(context.Background(), fail)
	var te *domain.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tripAfter, calls, "open breaker does not call through")
}

func TestGuard_NotFoundDoesNotTrip(t *testing.T) {
	g := newTestGuard(0)
	for range tripAfter * 2 {
		_, err := g.Do(context.Background(), func(context.Context) (domain.Location, error) {
			return domain.Location{}, domain.ErrNotFound
		})
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, "closed", g.State())
}

func TestGuard_RateLimitHonoursContext(t *testing.T) {
	g := newTestGuard(0.001)
	ok := func(context.Context) (domain.Location, error) { return domain.Location{}, nil }

	_, err := g.Do(context.Background(), ok)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Do(ctx, ok)
	var te *domain.TransientError
	assert.ErrorAs(t, err, &te)
}
