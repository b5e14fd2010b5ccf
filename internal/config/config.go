package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Match sink kinds.
const (
	SinkNone  = "none"
	SinkKafka = "kafka"
	SinkNATS  = "nats"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Feed sessions.
	Callsign             string
	SOTAClusterAddr      string
	RBNAddr              string
	FeedHandshakeTimeout time.Duration
	SOTAIdleTimeout      time.Duration
	RBNIdleTimeout       time.Duration
	FeedMaxSpotAge       time.Duration
	FeedBackoffInitial   time.Duration
	FeedBackoffMax       time.Duration
	FeedStoreOutage      time.Duration

	// Spot store.
	DBDriver string
	DBDSN    string
	// MyCallsign's reception spots survive retention and back /api/v1/spots/own.
	MyCallsign string

	// Correlator.
	CorrelateInterval    time.Duration
	MatchTimeWindow      time.Duration
	MatchFreqToleranceHz int64
	MatchModeTolerances  map[string]int64
	CorrelateBatchLimit  int
	CorrelateSettleDelay time.Duration

	// Enricher and location cache.
	EnrichInterval    time.Duration
	EnrichFairOrder   bool
	BatchSize         int
	LocationTTL       time.Duration
	LocationCacheSize int
	LookupTimeout     time.Duration
	LookupRate        float64
	SOTAAPIURL        string
	QRZURL            string
	QRZUsername       string
	QRZPassword       string
	QRZEnabled        bool

	// Retention.
	RetentionEnabled  bool
	RetentionAge      time.Duration
	RetentionInterval time.Duration

	// Match sinks.
	MatchSink    string
	KafkaBrokers []string
	KafkaTopic   string
	NATSURL      string
	NATSSubject  string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	d := durationParser{}
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Callsign:             strings.ToUpper(strings.TrimSpace(os.Getenv("CALLSIGN"))),
		SOTAClusterAddr:      sharedcfg.EnvOrDefault("SOTA_CLUSTER_ADDR", "cluster.sota.org.uk:7300"),
		RBNAddr:              sharedcfg.EnvOrDefault("RBN_ADDR", "telnet.reversebeacon.net:7000"),
		FeedHandshakeTimeout: d.parse("FEED_HANDSHAKE_TIMEOUT", "15s"),
		SOTAIdleTimeout:      d.parse("SOTA_IDLE_TIMEOUT", "24h"),
		RBNIdleTimeout:       d.parse("RBN_IDLE_TIMEOUT", "5m"),
		FeedMaxSpotAge:       d.parse("FEED_MAX_SPOT_AGE", "1h"),
		FeedBackoffInitial:   d.parse("FEED_BACKOFF_INITIAL", "1s"),
		FeedBackoffMax:       d.parse("FEED_BACKOFF_MAX", "2m"),
		FeedStoreOutage:      d.parse("FEED_STORE_OUTAGE", "10m"),

		DBDriver: strings.ToLower(sharedcfg.EnvOrDefault("DB_DRIVER", DriverSQLite)),
		DBDSN:    sharedcfg.EnvOrDefault("DB_DSN", "spots.db"),

		CorrelateInterval:    d.parse("CORRELATE_INTERVAL", "1m"),
		MatchTimeWindow:      d.parse("MATCH_TIME_WINDOW", "3m"),
		CorrelateSettleDelay: d.parse("CORRELATE_SETTLE_DELAY", "2s"),

		EnrichInterval:  d.parse("ENRICH_INTERVAL", "2m"),
		EnrichFairOrder: os.Getenv("ENRICH_FAIR_ORDER") == "true",
		BatchSize:       batchSize,
		LocationTTL:     d.parse("LOCATION_TTL", "24h"),
		LookupTimeout:   d.parse("LOOKUP_TIMEOUT", "10s"),
		SOTAAPIURL:      strings.TrimRight(sharedcfg.EnvOrDefault("SOTA_API_URL", "https://api2.sota.org.uk/api/summits"), "/"),
		QRZURL:          sharedcfg.EnvOrDefault("QRZ_URL", "https://xmldata.qrz.com/xml/current/"),
		QRZUsername:     os.Getenv("QRZ_USERNAME"),
		QRZPassword:     os.Getenv("QRZ_PASSWORD"),

		RetentionEnabled:  os.Getenv("RETENTION_ENABLED") == "true",
		RetentionAge:      d.parse("RETENTION_AGE", "24h"),
		RetentionInterval: d.parse("RETENTION_INTERVAL", "30m"),

		MatchSink:    strings.ToLower(sharedcfg.EnvOrDefault("MATCH_SINK", SinkNone)),
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "propagation-paths"),
		NATSURL:      sharedcfg.EnvOrDefault("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:  sharedcfg.EnvOrDefault("NATS_SUBJECT", "propagation.paths"),
	}
	if d.err != nil {
		return nil, d.err
	}

	cfg.MyCallsign = strings.ToUpper(strings.TrimSpace(sharedcfg.EnvOrDefault("MY_CALLSIGN", cfg.Callsign)))

	cfg.QRZEnabled = cfg.QRZUsername != ""
	if v := os.Getenv("QRZ_ENABLED"); v != "" {
		cfg.QRZEnabled = v == "true"
	}

	if cfg.MatchFreqToleranceHz, err = parsePositiveInt("MATCH_FREQ_TOLERANCE_HZ", 1000); err != nil {
		return nil, err
	}
	limit, err := parsePositiveInt("CORRELATE_BATCH_LIMIT", 1000)
	if err != nil {
		return nil, err
	}
	cfg.CorrelateBatchLimit = int(limit)
	size, err := parsePositiveInt("LOCATION_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	cfg.LocationCacheSize = int(size)
	if cfg.LookupRate, err = parseRate("LOOKUP_RATE", 2); err != nil {
		return nil, err
	}
	if cfg.MatchModeTolerances, err = ParseModeTolerances(os.Getenv("MATCH_MODE_TOLERANCES")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Callsign == "" {
		return errors.New("CALLSIGN is required")
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want sqlite or postgres", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("DB_DSN is required")
	}
	if c.FeedBackoffMax < c.FeedBackoffInitial {
		return errors.New("FEED_BACKOFF_MAX must not be less than FEED_BACKOFF_INITIAL")
	}
	if c.QRZEnabled && (c.QRZUsername == "" || c.QRZPassword == "") {
		return errors.New("QRZ_ENABLED is true but QRZ_USERNAME or QRZ_PASSWORD is not set")
	}
	switch c.MatchSink {
	case SinkNone:
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when MATCH_SINK=kafka")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required when MATCH_SINK=kafka")
		}
	case SinkNATS:
		if c.NATSSubject == "" {
			return errors.New("NATS_SUBJECT is required when MATCH_SINK=nats")
		}
	default:
		return fmt.Errorf("invalid MATCH_SINK %q: want none, kafka, or nats", c.MatchSink)
	}
	return nil
}

// ParseModeTolerances parses "SSB=3000,FM=10000" into per-mode frequency
// tolerances in hertz. An empty string yields an empty map.
func ParseModeTolerances(s string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		mode, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid MATCH_MODE_TOLERANCES entry %q", pair)
		}
		hz, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil || hz <= 0 {
			return nil, fmt.Errorf("invalid MATCH_MODE_TOLERANCES value for %s", mode)
		}
		out[strings.ToUpper(strings.TrimSpace(mode))] = hz
	}
	return out, nil
}

// durationParser collects the first invalid duration so Load can build the
// struct in one literal.
type durationParser struct {
	err error
}

func (p *durationParser) parse(name, def string) time.Duration {
	v, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if (err != nil || v <= 0) && p.err == nil {
		p.err = fmt.Errorf("invalid %s", name)
	}
	return v
}

func parsePositiveInt(name string, def int64) (int64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func parseRate(name string, def float64) (float64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}
