// Package sqlstore persists spots, matches, correlator cursors, and the
// location cache in SQLite (default) or PostgreSQL.
//
// Queries are written with ? placeholders and rebound to $n for PostgreSQL.
// Timestamps are stored as Unix milliseconds in both dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Options configures Open.
type Options struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path (or ":memory:") for SQLite, a connection URL for PostgreSQL.
	DSN string
	// FairEnrichmentOrder makes UnenrichedMatches prefer matches attempted
	// least recently over strict oldest-first.
	FairEnrichmentOrder bool
	// KeepCallsigns names callsigns whose reception spots retention never deletes.
	KeepCallsigns []string
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// Store is the durable spot store. It is safe for concurrent use.
type Store struct {
	db        *sql.DB
	dialect   dialect
	fairOrder bool
	keep      []string
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		d = dialectSQLite
		db, err = openSQLite(ctx, opts.DSN)
	case "postgres":
		d = dialectPostgres
		db, err = openPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:        db,
		dialect:   d,
		fairOrder: opts.FairEnrichmentOrder,
		keep:      keepList(opts.KeepCallsigns),
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func openSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) createSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == dialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $1..$n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS activation_spots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	observed_at INTEGER NOT NULL,
	callsign TEXT NOT NULL,
	summit_ref TEXT NOT NULL,
	frequency_hz INTEGER NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	spotter TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	inserted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activation_spots_observed ON activation_spots(observed_at);
CREATE INDEX IF NOT EXISTS idx_activation_spots_callsign ON activation_spots(callsign, observed_at);

CREATE TABLE IF NOT EXISTS reception_spots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	observed_at INTEGER NOT NULL,
	reporter TEXT NOT NULL,
	reported TEXT NOT NULL,
	frequency_hz INTEGER NOT NULL,
	snr INTEGER NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	wpm INTEGER NOT NULL DEFAULT 0,
	spot_type TEXT NOT NULL DEFAULT '',
	inserted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reception_spots_observed ON reception_spots(observed_at);
CREATE INDEX IF NOT EXISTS idx_reception_spots_reported ON reception_spots(reported, observed_at);

CREATE TABLE IF NOT EXISTS matches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	activation_spot_id INTEGER NOT NULL REFERENCES activation_spots(id),
	reception_spot_id INTEGER NOT NULL REFERENCES reception_spots(id),
	created_at INTEGER NOT NULL,
	time_diff_seconds INTEGER NOT NULL,
	freq_diff_hz INTEGER NOT NULL,
	enriched INTEGER NOT NULL DEFAULT 0,
	activation_lat REAL,
	activation_lon REAL,
	reception_lat REAL,
	reception_lon REAL,
	distance_km REAL,
	enriched_at INTEGER,
	last_attempt_at INTEGER NOT NULL DEFAULT 0,
	UNIQUE (activation_spot_id, reception_spot_id)
);
CREATE INDEX IF NOT EXISTS idx_matches_unenriched ON matches(enriched, last_attempt_at, id);
CREATE INDEX IF NOT EXISTS idx_matches_reception ON matches(reception_spot_id);

CREATE TABLE IF NOT EXISTS location_cache (
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	last_updated INTEGER NOT NULL,
	PRIMARY KEY (kind, key)
);

CREATE TABLE IF NOT EXISTS correlator_cursors (
	feed TEXT PRIMARY KEY,
	last_id INTEGER NOT NULL
)
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS activation_spots (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	observed_at BIGINT NOT NULL,
	callsign TEXT NOT NULL,
	summit_ref TEXT NOT NULL,
	frequency_hz BIGINT NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	spotter TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	inserted_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activation_spots_observed ON activation_spots(observed_at);
CREATE INDEX IF NOT EXISTS idx_activation_spots_callsign ON activation_spots(callsign, observed_at);

CREATE TABLE IF NOT EXISTS reception_spots (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	observed_at BIGINT NOT NULL,
	reporter TEXT NOT NULL,
	reported TEXT NOT NULL,
	frequency_hz BIGINT NOT NULL,
	snr INTEGER NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	wpm INTEGER NOT NULL DEFAULT 0,
	spot_type TEXT NOT NULL DEFAULT '',
	inserted_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reception_spots_observed ON reception_spots(observed_at);
CREATE INDEX IF NOT EXISTS idx_reception_spots_reported ON reception_spots(reported, observed_at);

CREATE TABLE IF NOT EXISTS matches (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	activation_spot_id BIGINT NOT NULL REFERENCES activation_spots(id),
	reception_spot_id BIGINT NOT NULL REFERENCES reception_spots(id),
	created_at BIGINT NOT NULL,
	time_diff_seconds BIGINT NOT NULL,
	freq_diff_hz BIGINT NOT NULL,
	enriched INTEGER NOT NULL DEFAULT 0,
	activation_lat DOUBLE PRECISION,
	activation_lon DOUBLE PRECISION,
	reception_lat DOUBLE PRECISION,
	reception_lon DOUBLE PRECISION,
	distance_km DOUBLE PRECISION,
	enriched_at BIGINT,
	last_attempt_at BIGINT NOT NULL DEFAULT 0,
	UNIQUE (activation_spot_id, reception_spot_id)
);
CREATE INDEX IF NOT EXISTS idx_matches_unenriched ON matches(enriched, last_attempt_at, id);
CREATE INDEX IF NOT EXISTS idx_matches_reception ON matches(reception_spot_id);

CREATE TABLE IF NOT EXISTS location_cache (
	kind TEXT NOT NULL,
	key TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	last_updated BIGINT NOT NULL,
	PRIMARY KEY (kind, key)
);

CREATE TABLE IF NOT EXISTS correlator_cursors (
	feed TEXT PRIMARY KEY,
	last_id BIGINT NOT NULL
)
`
