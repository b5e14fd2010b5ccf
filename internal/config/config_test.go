package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker = "localhost:9092"
	testCallsign  = "K1ABC"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, testCallsign, cfg.Callsign)
	assert.Equal(t, "cluster.sota.org.uk:7300", cfg.SOTAClusterAddr)
	assert.Equal(t, "telnet.reversebeacon.net:7000", cfg.RBNAddr)
	assert.Equal(t, 15*time.Second, cfg.FeedHandshakeTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SOTAIdleTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RBNIdleTimeout)
	assert.Equal(t, time.Hour, cfg.FeedMaxSpotAge)
	assert.Equal(t, time.Second, cfg.FeedBackoffInitial)
	assert.Equal(t, 2*time.Minute, cfg.FeedBackoffMax)
	assert.Equal(t, 10*time.Minute, cfg.FeedStoreOutage)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "spots.db", cfg.DBDSN)
	assert.Equal(t, testCallsign, cfg.MyCallsign, "defaults to the login callsign")

	assert.Equal(t, time.Minute, cfg.CorrelateInterval)
	assert.Equal(t, 3*time.Minute, cfg.MatchTimeWindow)
	assert.Equal(t, int64(1000), cfg.MatchFreqToleranceHz)
	assert.Empty(t, cfg.MatchModeTolerances)
	assert.Equal(t, 1000, cfg.CorrelateBatchLimit)
	assert.Equal(t, 2*time.Second, cfg.CorrelateSettleDelay)

	assert.Equal(t, 2*time.Minute, cfg.EnrichInterval)
	assert.False(t, cfg.EnrichFairOrder)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.LocationTTL)
	assert.Equal(t, 1000, cfg.LocationCacheSize)
	assert.Equal(t, 10*time.Second, cfg.LookupTimeout)
	assert.Equal(t, 2.0, cfg.LookupRate)
	assert.Equal(t, "https://api2.sota.org.uk/api/summits", cfg.SOTAAPIURL)
	assert.Equal(t, "https://xmldata.qrz.com/xml/current/", cfg.QRZURL)
	assert.False(t, cfg.QRZEnabled)

	assert.False(t, cfg.RetentionEnabled)
	assert.Equal(t, 24*time.Hour, cfg.RetentionAge)
	assert.Equal(t, 30*time.Minute, cfg.RetentionInterval)

	assert.Equal(t, SinkNone, cfg.MatchSink)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "propagation-paths", cfg.KafkaTopic)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, "propagation.paths", cfg.NATSSubject)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("CALLSIGN", "w1aw ")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("SOTA_CLUSTER_ADDR", "localhost:7300")
	t.Setenv("RBN_IDLE_TIMEOUT", "90s")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/spots")
	t.Setenv("MATCH_TIME_WINDOW", "120s")
	t.Setenv("MATCH_FREQ_TOLERANCE_HZ", "500")
	t.Setenv("MATCH_MODE_TOLERANCES", "ssb=3000, FM=10000")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("LOCATION_TTL", "12h")
	t.Setenv("LOOKUP_RATE", "0.5")
	t.Setenv("SOTA_API_URL", "http://summits.test/api/summits/")
	t.Setenv("QRZ_USERNAME", "k1abc")
	t.Setenv("QRZ_PASSWORD", "secret")
	t.Setenv("RETENTION_ENABLED", "true")
	t.Setenv("MATCH_SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "paths")
	t.Setenv("MY_CALLSIGN", "k1me/p")
	t.Setenv("FEED_STORE_OUTAGE", "30m")
	t.Setenv("ENRICH_FAIR_ORDER", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "W1AW", cfg.Callsign)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "localhost:7300", cfg.SOTAClusterAddr)
	assert.Equal(t, 90*time.Second, cfg.RBNIdleTimeout)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/spots", cfg.DBDSN)
	assert.Equal(t, 120*time.Second, cfg.MatchTimeWindow)
	assert.Equal(t, int64(500), cfg.MatchFreqToleranceHz)
	assert.Equal(t, map[string]int64{"SSB": 3000, "FM": 10000}, cfg.MatchModeTolerances)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 12*time.Hour, cfg.LocationTTL)
	assert.Equal(t, 0.5, cfg.LookupRate)
	assert.Equal(t, "http://summits.test/api/summits", cfg.SOTAAPIURL)
	assert.True(t, cfg.QRZEnabled)
	assert.True(t, cfg.RetentionEnabled)
	assert.Equal(t, SinkKafka, cfg.MatchSink)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "paths", cfg.KafkaTopic)
	assert.Equal(t, "K1ME/P", cfg.MyCallsign)
	assert.Equal(t, 30*time.Minute, cfg.FeedStoreOutage)
	assert.True(t, cfg.EnrichFairOrder)
}

func TestLoad_MissingCallsign(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CALLSIGN")
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("BATCH_SIZE", "9999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidDurations(t *testing.T) {
	for _, name := range []string{
		"FEED_HANDSHAKE_TIMEOUT",
		"MATCH_TIME_WINDOW",
		"CORRELATE_INTERVAL",
		"ENRICH_INTERVAL",
		"LOCATION_TTL",
		"RETENTION_AGE",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CALLSIGN", testCallsign)
			t.Setenv(name, "bad")
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestLoad_NonPositiveDuration(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("MATCH_TIME_WINDOW", "0s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_TIME_WINDOW")
}

func TestLoad_InvalidFreqTolerance(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("MATCH_FREQ_TOLERANCE_HZ", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_FREQ_TOLERANCE_HZ")
}

func TestLoad_InvalidDriver(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
}

func TestLoad_InvalidSink(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("MATCH_SINK", "redis")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCH_SINK")
}

func TestLoad_QRZEnabledWithoutPassword(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("QRZ_USERNAME", "k1abc")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QRZ_PASSWORD")
}

func TestLoad_QRZExplicitlyDisabled(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("QRZ_USERNAME", "k1abc")
	t.Setenv("QRZ_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.QRZEnabled)
}

func TestLoad_BackoffBounds(t *testing.T) {
	t.Setenv("CALLSIGN", testCallsign)
	t.Setenv("FEED_BACKOFF_INITIAL", "10s")
	t.Setenv("FEED_BACKOFF_MAX", "5s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEED_BACKOFF_MAX")
}

func TestParseModeTolerances(t *testing.T) {
	got, err := ParseModeTolerances("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ParseModeTolerances("cw=500,FT8=3000")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"CW": 500, "FT8": 3000}, got)

	_, err = ParseModeTolerances("SSB")
	assert.Error(t, err)
	_, err = ParseModeTolerances("SSB=wide")
	assert.Error(t, err)
}
