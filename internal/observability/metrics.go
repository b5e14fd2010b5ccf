package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sota_rbn"

// Metrics holds the Prometheus counters, histograms, and gauges for the matcher.
type Metrics struct {
	// Feed metrics, labelled by feed={activation,reception}.
	SpotsReceived  *prometheus.CounterVec
	ParseErrors    *prometheus.CounterVec
	StaleSpots     *prometheus.CounterVec
	FeedConnected  *prometheus.GaugeVec
	FeedReconnects *prometheus.CounterVec
	StoreRetries   *prometheus.CounterVec

	// Correlator metrics.
	SpotsScanned        *prometheus.CounterVec // labels: feed
	MatchesCreated      prometheus.Counter
	CorrelationDuration prometheus.Histogram

	// Enricher metrics.
	MatchesEnriched    prometheus.Counter
	EnrichmentDeferred prometheus.Counter
	EnrichBatchSize    prometheus.Histogram
	EnrichmentDuration prometheus.Histogram
	MatchesPublished   prometheus.Counter

	// Location metrics.
	LocationLookups   *prometheus.CounterVec   // labels: kind={summit,callsign}, outcome={success,not_found,error,stale,estimate,unavailable}
	LocationCache     *prometheus.CounterVec   // labels: kind, result={hit,miss}
	LookupAPIDuration *prometheus.HistogramVec // labels: service={sota,qrz}
	QRZEnabled        prometheus.Gauge

	// Scheduler metrics, labelled by job.
	PassesSkipped *prometheus.CounterVec
	PassErrors    *prometheus.CounterVec

	SpotsPruned prometheus.Counter
}

// NewMetrics creates and registers all matcher metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.SpotsReceived,
		m.ParseErrors,
		m.StaleSpots,
		m.FeedConnected,
		m.FeedReconnects,
		m.StoreRetries,
		m.SpotsScanned,
		m.MatchesCreated,
		m.CorrelationDuration,
		m.MatchesEnriched,
		m.EnrichmentDeferred,
		m.EnrichBatchSize,
		m.EnrichmentDuration,
		m.MatchesPublished,
		m.LocationLookups,
		m.LocationCache,
		m.LookupAPIDuration,
		m.QRZEnabled,
		m.PassesSkipped,
		m.PassErrors,
		m.SpotsPruned,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SpotsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spots_received_total",
			Help:      "Spots parsed and stored, by feed.",
		}, []string{"feed"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Feed lines discarded as malformed, by feed.",
		}, []string{"feed"}),
		StaleSpots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_spots_total",
			Help:      "Spots skipped for being older than the backlog limit, by feed.",
		}, []string{"feed"}),
		FeedConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connected",
			Help:      "1 while a feed session is established.",
		}, []string{"feed"}),
		FeedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Feed connection attempts after a failure or disconnect.",
		}, []string{"feed"}),
		StoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Failed spot inserts that were retried, by feed.",
		}, []string{"feed"}),
		SpotsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlator_spots_scanned_total",
			Help:      "New spots examined by the correlator, by feed.",
		}, []string{"feed"}),
		MatchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_created_total",
			Help:      "Matches inserted by the correlator.",
		}),
		CorrelationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "correlation_pass_duration_seconds",
			Help:      "Duration of a correlator pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		MatchesEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_enriched_total",
			Help:      "Matches marked enriched.",
		}),
		EnrichmentDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_deferred_total",
			Help:      "Matches left unenriched because a location was unavailable.",
		}),
		EnrichBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrich_batch_size",
			Help:      "Number of matches pulled per enricher pass.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		EnrichmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_pass_duration_seconds",
			Help:      "Duration of an enricher pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		MatchesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_published_total",
			Help:      "Enriched matches written to the match sink.",
		}),
		LocationLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_lookups_total",
			Help:      "Location resolutions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		LocationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_cache_total",
			Help:      "Location cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		LookupAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_api_duration_seconds",
			Help:      "Remote location API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"service"}),
		QRZEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "qrz_enabled",
			Help:      "1 when operator directory lookups are enabled, 0 otherwise.",
		}),
		PassesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_passes_skipped_total",
			Help:      "Ticks skipped because the previous pass was still running.",
		}, []string{"job"}),
		PassErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_pass_errors_total",
			Help:      "Passes that returned an error.",
		}, []string{"job"}),
		SpotsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spots_pruned_total",
			Help:      "Unmatched reception spots removed by the retention pass.",
		}),
	}
}
