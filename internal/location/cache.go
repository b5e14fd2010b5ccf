// Package location resolves summits and operators to coordinates, backed by
// the persistent location cache and the remote lookup services.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Store persists location entries.
type Store interface {
	GetLocation(ctx context.Context, kind domain.LocationKind, key string) (domain.LocationEntry, bool, error)
	UpsertLocation(ctx context.Context, e domain.LocationEntry) error
}

// Config controls cache freshness and the in-process hot set.
type Config struct {
	TTL time.Duration
	// HotSize bounds the in-memory LRU; zero disables it.
	HotSize int
}

// Cache resolves locations with cache-first, refresh-on-stale semantics.
// Concurrent resolutions of the same key share one refresh.
type Cache struct {
	cfg       Config
	store     Store
	summits   domain.SummitLookup
	callsigns domain.CallsignLookup
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	hot       *lruCache
	group     singleflight.Group
}

// New creates a Cache. callsigns may be nil when the operator directory is
// disabled; callsign resolution then relies on cached entries and prefix
// estimates.
func New(cfg Config, store Store, summits domain.SummitLookup, callsigns domain.CallsignLookup, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		cfg:       cfg,
		store:     store,
		summits:   summits,
		callsigns: callsigns,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		hot:       newLRUCache(cfg.HotSize),
	}
}

// ResolveSummit returns the position of a summit reference. It returns an
// error wrapping domain.ErrLocationUnavailable when the summit has never been
// resolved and the lookup fails.
func (c *Cache) ResolveSummit(ctx context.Context, ref string) (domain.Location, error) {
	var fetch fetchFunc
	if c.summits != nil {
		fetch = func(ctx context.Context, key string) (domain.Location, error) {
			return c.summits.LookupSummit(ctx, key)
		}
	}
	return c.resolve(ctx, domain.LocationSummit, strings.ToUpper(strings.TrimSpace(ref)), fetch, nil)
}

// ResolveCallsign returns the position of an operator. Portable and mobile
// variants share the base callsign's entry. When the directory cannot help
// and nothing is cached, it falls back to a prefix estimate; estimates are
// returned but not cached.
func (c *Cache) ResolveCallsign(ctx context.Context, callsign string) (domain.Location, error) {
	var fetch fetchFunc
	if c.callsigns != nil {
		fetch = func(ctx context.Context, key string) (domain.Location, error) {
			return c.callsigns.LookupCallsign(ctx, key)
		}
	}
	return c.resolve(ctx, domain.LocationCallsign, domain.BaseCallsign(callsign), fetch, domain.EstimateFromCallsign)
}

type fetchFunc func(ctx context.Context, key string) (domain.Location, error)

type estimateFunc func(key string) (domain.Location, bool)

func (c *Cache) resolve(ctx context.Context, kind domain.LocationKind, key string, fetch fetchFunc, estimate estimateFunc) (domain.Location, error) {
	if key == "" {
		return domain.Location{}, fmt.Errorf("empty %s key: %w", kind, domain.ErrLocationUnavailable)
	}
	hotKey := string(kind) + "|" + key

	if e, ok := c.hot.get(hotKey); ok && e.Fresh(c.clock.Now(), c.cfg.TTL) {
		c.metrics.LocationCache.WithLabelValues(string(kind), "hit").Inc()
		return e.Location, nil
	}

	v, err, _ := c.group.Do(hotKey, func() (any, error) {
		return c.refresh(ctx, kind, key, hotKey, fetch, estimate)
	})
	if err != nil {
		return domain.Location{}, err
	}
	return v.(domain.Location), nil
}

// refresh runs inside the per-key critical section.
func (c *Cache) refresh(ctx context.Context, kind domain.LocationKind, key, hotKey string, fetch fetchFunc, estimate estimateFunc) (domain.Location, error) {
	labelKind := string(kind)
	now := c.clock.Now()

	cached, found, err := c.store.GetLocation(ctx, kind, key)
	if err != nil {
		// Treat as a miss; a remote answer can still be served.
		c.logger.Warn("location cache read failed", "kind", labelKind, "key", key, "error", err)
		found = false
	}
	if found && cached.Fresh(now, c.cfg.TTL) {
		c.metrics.LocationCache.WithLabelValues(labelKind, "hit").Inc()
		c.hot.put(hotKey, cached)
		return cached.Location, nil
	}
	c.metrics.LocationCache.WithLabelValues(labelKind, "miss").Inc()

	var lookupErr error
	if fetch != nil {
		loc, err := fetch(ctx, key)
		if err == nil && loc.Valid() {
			entry := domain.LocationEntry{Kind: kind, Key: key, Location: loc, LastUpdated: c.clock.Now()}
			if err := c.store.UpsertLocation(ctx, entry); err != nil {
				c.logger.Warn("location cache write failed", "kind", labelKind, "key", key, "error", err)
			}
			c.hot.put(hotKey, entry)
			c.metrics.LocationLookups.WithLabelValues(labelKind, "success").Inc()
			return loc, nil
		}
		if err == nil {
			err = fmt.Errorf("lookup returned no coordinates: %w", domain.ErrNotFound)
		}
		lookupErr = err
		c.logLookupFailure(kind, key, err)
	} else {
		lookupErr = errors.New("no lookup service configured")
	}

	if found {
		c.metrics.LocationLookups.WithLabelValues(labelKind, "stale").Inc()
		return cached.Location, nil
	}

	if estimate != nil {
		if loc, ok := estimate(key); ok {
			c.metrics.LocationLookups.WithLabelValues(labelKind, "estimate").Inc()
			return loc, nil
		}
	}

	c.metrics.LocationLookups.WithLabelValues(labelKind, "unavailable").Inc()
	return domain.Location{}, fmt.Errorf("%s %s: %w: %w", kind, key, domain.ErrLocationUnavailable, lookupErr)
}

func (c *Cache) logLookupFailure(kind domain.LocationKind, key string, err error) {
	labelKind := string(kind)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.metrics.LocationLookups.WithLabelValues(labelKind, "not_found").Inc()
		c.logger.Debug("location not found", "kind", labelKind, "key", key)
	case errors.Is(err, domain.ErrAuthentication):
		c.metrics.LocationLookups.WithLabelValues(labelKind, "error").Inc()
		c.logger.Error("location lookup authentication failed", "kind", labelKind, "key", key, "error", err)
	default:
		c.metrics.LocationLookups.WithLabelValues(labelKind, "error").Inc()
		c.logger.Warn("location lookup failed", "kind", labelKind, "key", key, "error", err)
	}
}
