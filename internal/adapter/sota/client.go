// Package sota looks up summit positions from the SOTA summits API.
package sota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/adapter/remote"
	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
)

// Client implements domain.SummitLookup.
type Client struct {
	httpClient *http.Client
	baseURL    string
	guard      *remote.Guard
	logger     *slog.Logger
}

// NewClient creates a summits API client. baseURL is the summits collection,
// e.g. https://api2.sota.org.uk/api/summits.
func NewClient(baseURL string, timeout time.Duration, ratePerSecond float64, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		guard:      remote.NewGuard("sota", ratePerSecond, logger, metrics),
		logger:     logger,
	}
}

// LookupSummit returns the position of ref ("W4G/NG-001").
func (c *Client) LookupSummit(ctx context.Context, ref string) (domain.Location, error) {
	assoc, code, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(ref)), "/")
	if !ok || assoc == "" || code == "" {
		return domain.Location{}, fmt.Errorf("summit %q: %w", ref, domain.ErrNotFound)
	}
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(assoc), url.PathEscape(code))

	return c.guard.Do(ctx, func(ctx context.Context) (domain.Location, error) {
		return c.doRequest(ctx, u, ref)
	})
}

func (c *Client) doRequest(ctx context.Context, fullURL, ref string) (domain.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Location{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Location{}, &domain.TransientError{Op: "summit lookup", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Location{}, fmt.Errorf("summit %s: %w", ref, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("sota API error: status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.Location{}, &domain.TransientError{Op: "summit lookup", Err: err}
		}
		return domain.Location{}, err
	}

	// The API answers unknown summits with 200 and an empty body or null.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Location{}, &domain.TransientError{Op: "summit lookup", Err: err}
	}
	if len(strings.TrimSpace(string(body))) == 0 || strings.TrimSpace(string(body)) == "null" {
		return domain.Location{}, fmt.Errorf("summit %s: %w", ref, domain.ErrNotFound)
	}

	var s summit
	if err := json.Unmarshal(body, &s); err != nil {
		return domain.Location{}, fmt.Errorf("decode summit %s: %w", ref, err)
	}

	loc := domain.Location{
		Coordinates: domain.Coordinates{Lat: s.Latitude, Lon: s.Longitude},
		Name:        s.Name,
		Source:      domain.SourceSOTA,
	}
	if !loc.Valid() {
		return domain.Location{}, fmt.Errorf("summit %s has no position: %w", ref, domain.ErrNotFound)
	}
	c.logger.Debug("summit resolved", "summit", ref, "name", s.Name)
	return loc, nil
}

// Summits API response.
type summit struct {
	SummitCode string  `json:"summitCode"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	AltM       int     `json:"altM"`
	Points     int     `json:"points"`
}
