// Package qrz looks up operator positions in the QRZ XML directory.
//
// The directory is session based: a login returns a key that is passed on
// every lookup. The key is acquired on first use, reused, and replaced when
// the server reports it expired.
package qrz

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/adapter/remote"
	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	agent = "sota-rbn-matcher"
	// sessionTTL is how long a key is reused before logging in again.
	sessionTTL = time.Hour
)

// Config holds directory credentials.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
	Rate     float64
}

// Client implements domain.CallsignLookup.
type Client struct {
	cfg        Config
	httpClient *http.Client
	guard      *remote.Guard
	clock      clockwork.Clock
	logger     *slog.Logger

	mu      sync.Mutex
	key     string
	keyTime time.Time
}

// NewClient creates a directory client. A nil clock uses real time.
func NewClient(cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		guard:      remote.NewGuard("qrz", cfg.Rate, logger, metrics),
		clock:      clock,
		logger:     logger,
	}
}

// LookupCallsign returns the operator's position. Portable and mobile
// designators are stripped before the lookup.
func (c *Client) LookupCallsign(ctx context.Context, callsign string) (domain.Location, error) {
	base := domain.BaseCallsign(callsign)
	if base == "" {
		return domain.Location{}, fmt.Errorf("callsign %q: %w", callsign, domain.ErrNotFound)
	}
	return c.guard.Do(ctx, func(ctx context.Context) (domain.Location, error) {
		return c.lookup(ctx, base)
	})
}

func (c *Client) lookup(ctx context.Context, base string) (domain.Location, error) {
	key, err := c.session(ctx)
	if err != nil {
		return domain.Location{}, err
	}

	db, err := c.get(ctx, url.Values{"s": {key}, "callsign": {base}})
	if err != nil {
		return domain.Location{}, err
	}

	if db.Callsign == nil && sessionExpired(db.Session.Error) {
		c.logger.Info("qrz session expired, logging in again", "reason", db.Session.Error)
		c.invalidate(key)
		if key, err = c.session(ctx); err != nil {
			return domain.Location{}, err
		}
		if db, err = c.get(ctx, url.Values{"s": {key}, "callsign": {base}}); err != nil {
			return domain.Location{}, err
		}
	}

	if db.Callsign == nil {
		msg := db.Session.Error
		switch {
		case strings.HasPrefix(msg, "Not found"):
			return domain.Location{}, fmt.Errorf("callsign %s: %w", base, domain.ErrNotFound)
		case msg == "":
			return domain.Location{}, fmt.Errorf("callsign %s: empty response: %w", base, domain.ErrNotFound)
		default:
			return domain.Location{}, fmt.Errorf("qrz lookup %s: %s", base, msg)
		}
	}
	return db.Callsign.location(base)
}

// session returns a valid key, logging in if there is none or it is too old.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != "" && c.clock.Since(c.keyTime) < sessionTTL {
		return c.key, nil
	}

	db, err := c.get(ctx, url.Values{
		"username": {c.cfg.Username},
		"password": {c.cfg.Password},
		"agent":    {agent},
	})
	if err != nil {
		return "", err
	}
	if db.Session.Key == "" {
		msg := db.Session.Error
		if authFailure(msg) {
			return "", fmt.Errorf("qrz login: %s: %w", msg, domain.ErrAuthentication)
		}
		if msg == "" {
			msg = "no session key returned"
		}
		return "", fmt.Errorf("qrz login: %s", msg)
	}

	c.key = db.Session.Key
	c.keyTime = c.clock.Now()
	c.logger.Info("qrz session established", "subscription_expires", db.Session.SubExp)
	return c.key, nil
}

// invalidate drops key unless another caller already replaced it.
func (c *Client) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == key {
		c.key = ""
	}
}

func (c *Client) get(ctx context.Context, params url.Values) (database, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"?"+params.Encode(), nil)
	if err != nil {
		return database{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return database{}, &domain.TransientError{Op: "qrz request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return database{}, &domain.TransientError{
			Op:  "qrz request",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var db database
	if err := xml.NewDecoder(resp.Body).Decode(&db); err != nil {
		return database{}, fmt.Errorf("decode qrz response: %w", err)
	}
	return db, nil
}

func sessionExpired(msg string) bool {
	return strings.Contains(msg, "Session Timeout") || strings.Contains(msg, "Invalid session key")
}

func authFailure(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "incorrect") || strings.Contains(m, "username") || strings.Contains(m, "password")
}

// QRZ XML response types. Elements are matched by local name, so the
// xmldata.qrz.com namespace is accepted without being declared.

type database struct {
	XMLName  xml.Name `xml:"QRZDatabase"`
	Session  session  `xml:"Session"`
	Callsign *record  `xml:"Callsign"`
}

type session struct {
	Key    string `xml:"Key"`
	Error  string `xml:"Error"`
	SubExp string `xml:"SubExp"`
}

type record struct {
	Call    string `xml:"call"`
	FName   string `xml:"fname"`
	Name    string `xml:"name"`
	Country string `xml:"country"`
	Lat     string `xml:"lat"`
	Lon     string `xml:"lon"`
	Grid    string `xml:"grid"`
}

// location prefers explicit coordinates and falls back to the grid square centre.
func (r *record) location(base string) (domain.Location, error) {
	name := strings.TrimSpace(r.FName + " " + r.Name)

	lat, errLat := strconv.ParseFloat(strings.TrimSpace(r.Lat), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(r.Lon), 64)
	if errLat == nil && errLon == nil {
		loc := domain.Location{Coordinates: domain.Coordinates{Lat: lat, Lon: lon}, Name: name, Source: domain.SourceQRZ}
		if loc.Valid() {
			return loc, nil
		}
	}

	if r.Grid != "" {
		coords, err := domain.GridToCoordinates(r.Grid)
		if err == nil {
			return domain.Location{Coordinates: coords, Name: name, Source: domain.SourceGrid}, nil
		}
	}
	return domain.Location{}, fmt.Errorf("callsign %s has no position: %w", base, domain.ErrNotFound)
}
