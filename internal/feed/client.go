// Package feed maintains telnet-style sessions with the spot networks and
// hands every parsed spot to the store.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
	"github.com/thejerf/suture/v4"
)

const (
	storeRetryDelay    = 100 * time.Millisecond
	maxStoreRetryDelay = 30 * time.Second

	// DefaultStoreOutage applies when Config.StoreOutage is zero.
	DefaultStoreOutage = 10 * time.Minute
)

// SpotStore receives parsed spots.
type SpotStore interface {
	InsertActivationSpot(ctx context.Context, spot domain.ActivationSpot) (int64, error)
	InsertReceptionSpot(ctx context.Context, spot domain.ReceptionSpot) (int64, error)
}

// Config controls one feed session.
type Config struct {
	Addr     string
	Callsign string

	// HandshakeTimeout bounds dialing, sending the login line, and receiving
	// the first bytes back from the server.
	HandshakeTimeout time.Duration
	// IdleTimeout closes a session that has been silent this long.
	IdleTimeout time.Duration
	// MaxSpotAge drops spots older than this, such as the history a cluster
	// replays on connect. Zero keeps everything.
	MaxSpotAge time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// StoreOutage is how long a spot insert may keep failing before the feed
	// treats the store as unwritable and stops.
	StoreOutage time.Duration
}

// StoreError is returned by Run when inserts have failed for longer than
// Config.StoreOutage.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return "spot store unavailable: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// Client connects to one feed, parses its lines, and forwards spots.
type Client struct {
	cfg     Config
	format  Format
	store   SpotStore
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates a feed client. A nil clock uses real time.
func NewClient(cfg Config, format Format, store SpotStore, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		cfg:     cfg,
		format:  format,
		store:   store,
		clock:   clock,
		logger:  logger.With("feed", string(format.Feed()), "addr", cfg.Addr),
		metrics: metrics,
	}
}

// String names the client for supervisors.
func (c *Client) String() string {
	return "feed-" + string(c.format.Feed())
}

// Serve runs the client under a supervisor. A store outage longer than
// StoreOutage stops this feed for good; the supervisor keeps every other
// service running.
func (c *Client) Serve(ctx context.Context) error {
	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
	}
	return ctx.Err()
}

// Session is an authenticated feed connection.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Connect dials the feed, sends the login line, and waits for the server to
// respond. It fails with *domain.ConnectError if any step fails or the whole
// handshake exceeds HandshakeTimeout.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	dialer := net.Dialer{Timeout: c.cfg.HandshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, &domain.ConnectError{Addr: c.cfg.Addr, Err: err}
	}

	// Network deadlines are wall-clock; the injected clock only drives spot ages.
	if err := conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		_ = conn.Close()
		return nil, &domain.ConnectError{Addr: c.cfg.Addr, Err: err}
	}

	if _, err := conn.Write([]byte(c.cfg.Callsign + "\r\n")); err != nil {
		_ = conn.Close()
		return nil, &domain.ConnectError{Addr: c.cfg.Addr, Err: fmt.Errorf("send login: %w", err)}
	}

	reader := bufio.NewReader(conn)
	if _, err := reader.Peek(1); err != nil {
		_ = conn.Close()
		return nil, &domain.ConnectError{Addr: c.cfg.Addr, Err: fmt.Errorf("handshake: %w", err)}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, &domain.ConnectError{Addr: c.cfg.Addr, Err: err}
	}
	return &Session{conn: conn, reader: reader}, nil
}

// Run keeps a session open until ctx is cancelled, reconnecting with jittered
// exponential backoff. It returns nil on cancellation and a *StoreError if
// spots cannot be stored.
func (c *Client) Run(ctx context.Context) error {
	feed := string(c.format.Feed())
	b := c.newBackOff()

	for {
		if ctx.Err() != nil {
			return nil
		}

		sess, err := c.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := c.nextWait(b)
			c.logger.Warn("feed connect failed", "error", err, "retry_in", wait)
			if !sleepWithContext(ctx, c.clock, wait) {
				return nil
			}
			c.metrics.FeedReconnects.WithLabelValues(feed).Inc()
			continue
		}

		c.logger.Info("feed session established")
		stored, err := c.readSession(ctx, sess)
		if ctx.Err() != nil {
			return nil
		}
		var storeErr *StoreError
		if errors.As(err, &storeErr) {
			c.logger.Error("feed stopping", "error", err)
			return err
		}
		if stored > 0 {
			b.Reset()
		}

		wait := c.nextWait(b)
		c.logger.Warn("feed session ended", "error", err, "spots", stored, "retry_in", wait)
		if !sleepWithContext(ctx, c.clock, wait) {
			return nil
		}
		c.metrics.FeedReconnects.WithLabelValues(feed).Inc()
	}
}

// readSession reads lines until the connection fails, goes idle, or ctx is
// cancelled. It returns the number of spots stored.
func (c *Client) readSession(ctx context.Context, sess *Session) (int, error) {
	feed := string(c.format.Feed())
	c.metrics.FeedConnected.WithLabelValues(feed).Set(1)
	defer c.metrics.FeedConnected.WithLabelValues(feed).Set(0)

	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()
	defer sess.Close()

	stored := 0
	for {
		if c.cfg.IdleTimeout > 0 {
			if err := sess.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
				return stored, &domain.TransientError{Op: "set read deadline", Err: err}
			}
		}
		line, err := sess.reader.ReadString('\n')
		if err != nil {
			return stored, &domain.TransientError{Op: "read " + feed + " feed", Err: err}
		}

		ok, err := c.handleLine(ctx, line)
		if err != nil {
			return stored, err
		}
		if ok {
			stored++
		}
	}
}

// handleLine parses and stores one line. It reports whether a spot was stored.
func (c *Client) handleLine(ctx context.Context, line string) (bool, error) {
	feed := string(c.format.Feed())
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return false, nil
	}

	spot, err := c.format.ParseLine(line)
	if err != nil {
		c.metrics.ParseErrors.WithLabelValues(feed).Inc()
		c.logger.Debug("discarding line", "error", err)
		return false, nil
	}

	if c.cfg.MaxSpotAge > 0 && c.clock.Since(spot.Timestamp()) > c.cfg.MaxSpotAge {
		c.metrics.StaleSpots.WithLabelValues(feed).Inc()
		return false, nil
	}

	if err := c.deliver(ctx, spot); err != nil {
		return false, err
	}
	c.metrics.SpotsReceived.WithLabelValues(feed).Inc()
	return true, nil
}

// deliver writes a spot, retrying with capped exponential backoff. It gives up
// with a StoreError once inserts have failed for StoreOutage. The session
// stays open meanwhile and the server buffers or drops lines as it sees fit.
func (c *Client) deliver(ctx context.Context, spot domain.Spot) error {
	outage := c.cfg.StoreOutage
	if outage <= 0 {
		outage = DefaultStoreOutage
	}
	start := c.clock.Now()
	delay := storeRetryDelay
	for attempt := 1; ; attempt++ {
		err := c.insert(ctx, spot)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("spot store recovered", "attempts", attempt, "outage", c.clock.Since(start))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var storeErr *StoreError
		if errors.As(err, &storeErr) {
			return err
		}
		if c.clock.Since(start) >= outage {
			return &StoreError{Err: err}
		}
		c.metrics.StoreRetries.WithLabelValues(string(c.format.Feed())).Inc()
		c.logger.Warn("store spot failed", "error", err, "attempt", attempt, "retry_in", delay)
		if !sleepWithContext(ctx, c.clock, delay) {
			return ctx.Err()
		}
		delay = retry.NextBackoff(delay, maxStoreRetryDelay)
	}
}

func (c *Client) insert(ctx context.Context, spot domain.Spot) error {
	var err error
	switch s := spot.(type) {
	case domain.ActivationSpot:
		_, err = c.store.InsertActivationSpot(ctx, s)
	case domain.ReceptionSpot:
		_, err = c.store.InsertReceptionSpot(ctx, s)
	default:
		// Not retryable; surface it as an unwritable store at once.
		return &StoreError{Err: fmt.Errorf("unsupported spot type %T", spot)}
	}
	return err
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffInitial
	b.MaxInterval = c.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextWait returns the next jittered delay, never above BackoffMax.
func (c *Client) nextWait(b backoff.BackOff) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d > c.cfg.BackoffMax {
		return c.cfg.BackoffMax
	}
	return d
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
