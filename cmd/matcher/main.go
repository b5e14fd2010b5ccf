package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/sota-rbn-matcher/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sota-rbn-matcher/internal/adapter/kafka"
	natsadapter "github.com/couchcryptid/sota-rbn-matcher/internal/adapter/nats"
	"github.com/couchcryptid/sota-rbn-matcher/internal/adapter/qrz"
	"github.com/couchcryptid/sota-rbn-matcher/internal/adapter/sota"
	"github.com/couchcryptid/sota-rbn-matcher/internal/adapter/sqlstore"
	"github.com/couchcryptid/sota-rbn-matcher/internal/config"
	"github.com/couchcryptid/sota-rbn-matcher/internal/correlator"
	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	"github.com/couchcryptid/sota-rbn-matcher/internal/enricher"
	"github.com/couchcryptid/sota-rbn-matcher/internal/feed"
	"github.com/couchcryptid/sota-rbn-matcher/internal/location"
	"github.com/couchcryptid/sota-rbn-matcher/internal/observability"
	"github.com/couchcryptid/sota-rbn-matcher/internal/retention"
	"github.com/couchcryptid/sota-rbn-matcher/internal/scheduler"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:              cfg.DBDriver,
		DSN:                 cfg.DBDSN,
		FairEnrichmentOrder: cfg.EnrichFairOrder,
		KeepCallsigns:       []string{cfg.MyCallsign},
		Logger:              logger,
	})
	if err != nil {
		logger.Error("failed to open spot store", "driver", cfg.DBDriver, "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("spot store close error", "error", err)
		}
	}()

	summits := sota.NewClient(cfg.SOTAAPIURL, cfg.LookupTimeout, cfg.LookupRate, logger, metrics)

	// Operator directory is feature-flagged via QRZ_ENABLED / QRZ_USERNAME.
	var callsigns domain.CallsignLookup
	if cfg.QRZEnabled {
		callsigns = qrz.NewClient(qrz.Config{
			URL:      cfg.QRZURL,
			Username: cfg.QRZUsername,
			Password: cfg.QRZPassword,
			Timeout:  cfg.LookupTimeout,
			Rate:     cfg.LookupRate,
		}, nil, logger, metrics)
		metrics.QRZEnabled.Set(1)
		logger.Info("operator directory enabled", "url", cfg.QRZURL)
	} else {
		logger.Info("operator directory disabled, using prefix estimates")
	}

	cache := location.New(location.Config{TTL: cfg.LocationTTL, HotSize: cfg.LocationCacheSize},
		store, summits, callsigns, nil, logger, metrics)

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Error("failed to create match sink", "sink", cfg.MatchSink, "error", err)
		return 1
	}
	defer func() {
		if err := closePublisher(); err != nil {
			logger.Error("match sink close error", "sink", cfg.MatchSink, "error", err)
		}
	}()

	corr := correlator.New(correlator.Config{
		TimeWindow:      cfg.MatchTimeWindow,
		FreqToleranceHz: cfg.MatchFreqToleranceHz,
		ModeTolerances:  cfg.MatchModeTolerances,
		BatchLimit:      cfg.CorrelateBatchLimit,
		SettleDelay:     cfg.CorrelateSettleDelay,
	}, store, nil, logger, metrics)
	enr := enricher.New(store, cache, publisher, nil, logger, metrics, cfg.BatchSize)

	jobs := []scheduler.Job{
		{Name: "correlate", Interval: cfg.CorrelateInterval, Run: func(ctx context.Context) error {
			_, err := corr.Pass(ctx)
			return err
		}},
		{Name: "enrich", Interval: cfg.EnrichInterval, Run: func(ctx context.Context) error {
			_, err := enr.Pass(ctx)
			return err
		}},
	}
	if cfg.RetentionEnabled {
		pruner := retention.New(store, cfg.RetentionAge, nil, logger, metrics)
		jobs = append(jobs, scheduler.Job{Name: "retention", Interval: cfg.RetentionInterval, Run: func(ctx context.Context) error {
			_, err := pruner.Pass(ctx)
			return err
		}})
	}

	feedConfig := func(addr string) feed.Config {
		return feed.Config{
			Addr:             addr,
			Callsign:         cfg.Callsign,
			HandshakeTimeout: cfg.FeedHandshakeTimeout,
			MaxSpotAge:       cfg.FeedMaxSpotAge,
			BackoffInitial:   cfg.FeedBackoffInitial,
			BackoffMax:       cfg.FeedBackoffMax,
			StoreOutage:      cfg.FeedStoreOutage,
		}
	}
	activationCfg := feedConfig(cfg.SOTAClusterAddr)
	activationCfg.IdleTimeout = cfg.SOTAIdleTimeout
	receptionCfg := feedConfig(cfg.RBNAddr)
	receptionCfg.IdleTimeout = cfg.RBNIdleTimeout

	root := suture.New("matcher", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logger}).MustHook(),
		Timeout:   cfg.ShutdownTimeout,
	})
	root.Add(feed.NewClient(activationCfg, feed.Activation, store, nil, logger, metrics))
	root.Add(feed.NewClient(receptionCfg, feed.Reception, store, nil, logger, metrics))
	root.Add(scheduler.New(jobs, nil, logger, metrics))
	root.Add(httpadapter.NewServer(cfg.HTTPAddr, cfg.ShutdownTimeout, store, store, logger))

	logger.Info("matcher starting", "callsign", cfg.Callsign, "db_driver", cfg.DBDriver, "my_callsign", cfg.MyCallsign, "sink", cfg.MatchSink)
	err = root.Serve(ctx)

	code := 0
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("matcher stopped", "error", err)
		code = 1
	}
	if unstopped, _ := root.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn("service failed to stop", "service", svc.Name)
		}
	}
	logger.Info("shutdown complete")
	return code
}

// newPublisher builds the configured match sink. The returned close function
// is always non-nil.
func newPublisher(cfg *config.Config, logger *slog.Logger) (enricher.Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.MatchSink {
	case config.SinkKafka:
		w := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("kafka match sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return w, w.Close, nil
	case config.SinkNATS:
		p, err := natsadapter.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("nats match sink enabled", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
		return p, p.Close, nil
	default:
		return nil, noop, nil
	}
}
