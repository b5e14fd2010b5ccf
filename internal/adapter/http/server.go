package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MatchReader is the read side of the spot store used by the API.
type MatchReader interface {
	QueryMatches(ctx context.Context, q domain.MatchQuery) ([]domain.MatchDetail, error)
	GetMatch(ctx context.Context, id int64) (domain.MatchDetail, error)
	PropagationStats(ctx context.Context, since time.Time) (domain.PropagationStats, error)
	OwnReceptionSpots(ctx context.Context, since time.Time, limit int) ([]domain.ReceptionSpot, error)
}

// defaultStatsWindow applies when since is omitted on stats and own-spot queries.
const defaultStatsWindow = 24 * time.Hour

// Server exposes health, readiness, metrics, and the match query API.
type Server struct {
	httpServer      *http.Server
	matches         MatchReader
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and the
// /api/v1 match, stats, and own-spot routes.
func NewServer(addr string, shutdownTimeout time.Duration, ready sharedobs.ReadinessChecker, matches MatchReader, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		matches:         matches,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/matches", s.handleListMatches)
	mux.HandleFunc("GET /api/v1/matches/{id}", s.handleGetMatch)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/spots/own", s.handleOwnSpots)

	return s
}

// String names the server for supervisors.
func (s *Server) String() string { return "http-server" }

// Serve listens until ctx is cancelled, then drains connections within the
// shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type matchList struct {
	Count   int                  `json:"count"`
	Matches []domain.MatchDetail `json:"matches"`
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	q, err := parseMatchQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.matches.QueryMatches(r.Context(), q)
	if err != nil {
		s.logger.Error("query matches failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("query failed"))
		return
	}
	if out == nil {
		out = []domain.MatchDetail{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, matchList{Count: len(out), Matches: out})
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid match id"))
		return
	}

	d, err := s.matches.GetMatch(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Errorf("match %d not found", id))
	case err != nil:
		s.logger.Error("get match failed", "match_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("query failed"))
	default:
		sharedobs.WriteJSON(w, http.StatusOK, d)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since, err := parseWindowStart(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
		return
	}

	st, err := s.matches.PropagationStats(r.Context(), since)
	if err != nil {
		s.logger.Error("propagation stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("query failed"))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, st)
}

type spotList struct {
	Count int                    `json:"count"`
	Spots []domain.ReceptionSpot `json:"spots"`
}

func (s *Server) handleOwnSpots(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	since, err := parseWindowStart(v.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
		return
	}
	limit := domain.DefaultMatchLimit
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > domain.MaxMatchLimit {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit: must be between 1 and %d", domain.MaxMatchLimit))
			return
		}
		limit = n
	}

	out, err := s.matches.OwnReceptionSpots(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("own spots query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("query failed"))
		return
	}
	if out == nil {
		out = []domain.ReceptionSpot{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, spotList{Count: len(out), Spots: out})
}

// parseWindowStart is parseTimeParam with a 24h default.
func parseWindowStart(raw string) (time.Time, error) {
	now := time.Now().UTC()
	if raw == "" {
		return now.Add(-defaultStatsWindow), nil
	}
	return parseTimeParam(raw, now)
}

// parseMatchQuery reads filters from the query string. since and until take
// RFC 3339 timestamps or a duration back from now ("2h").
func parseMatchQuery(r *http.Request) (domain.MatchQuery, error) {
	v := r.URL.Query()
	var q domain.MatchQuery

	now := time.Now().UTC()
	var err error
	if q.Since, err = parseTimeParam(v.Get("since"), now); err != nil {
		return q, fmt.Errorf("since: %w", err)
	}
	if q.Until, err = parseTimeParam(v.Get("until"), now); err != nil {
		return q, fmt.Errorf("until: %w", err)
	}

	if band := v.Get("band"); band != "" {
		b, ok := domain.LookupBand(band)
		if !ok {
			return q, fmt.Errorf("band: unknown band %q", band)
		}
		q.Band = b.Name
	}

	if raw := v.Get("min_snr"); raw != "" {
		snr, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("min_snr: %q is not an integer", raw)
		}
		q.MinSNR = &snr
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > domain.MaxMatchLimit {
			return q, fmt.Errorf("limit: must be between 1 and %d", domain.MaxMatchLimit)
		}
		q.Limit = n
	}

	q.Callsign = strings.TrimSpace(v.Get("callsign"))
	q.Summit = strings.TrimSpace(v.Get("summit"))
	return q, nil
}

func parseTimeParam(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("%q is neither an RFC 3339 time nor a positive duration", raw)
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
