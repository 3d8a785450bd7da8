// Command server runs the relaypool daemon: the relay endpoint, the
// management API, and the background workers that keep the account pool
// healthy. main only wires dependencies; behavior lives in internal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"relaypool/internal/account/cache"
	accounthandler "relaypool/internal/account/handler"
	accountmetrics "relaypool/internal/account/metrics"
	"relaypool/internal/account/models"
	"relaypool/internal/account/service"
	"relaypool/internal/account/store/catalog"
	"relaypool/internal/platform/config"
	"relaypool/internal/platform/database"
	"relaypool/internal/platform/health"
	"relaypool/internal/platform/kafka/producer"
	"relaypool/internal/platform/logger"
	platformmetrics "relaypool/internal/platform/metrics"
	"relaypool/internal/platform/redis"
	"relaypool/internal/platform/tracer"
	"relaypool/internal/quota"
	"relaypool/internal/ratelimit"
	ratelimitmetrics "relaypool/internal/ratelimit/metrics"
	"relaypool/internal/ratelimit/sweeper"
	"relaypool/internal/relay"
	relaymetrics "relaypool/internal/relay/metrics"
	"relaypool/internal/seeder"
	"relaypool/internal/selection"
	selectionmetrics "relaypool/internal/selection/metrics"
	httptransport "relaypool/internal/transport/http"
	"relaypool/internal/usagelog"
	usagehandler "relaypool/internal/usagelog/handler"
	usagemetrics "relaypool/internal/usagelog/metrics"
)

const poolStatsInterval = 15 * time.Second

// accountBackend is the full store surface the wiring hands out. Every
// catalog backend implements all of it.
type accountBackend interface {
	service.AccountStore
	selection.Catalog
	ratelimit.AccountStore
}

func main() {
	if err := run(); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("relaypool exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("RELAYPOOL_CONFIG"), "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	log.Info("initializing relaypool",
		"addr", cfg.Server.Addr,
		"catalog_backend", cfg.Catalog.Backend,
		"environment", cfg.Server.Environment,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthHandler := health.New(cfg.Server.Environment,
		health.WithCatalogBackend(cfg.Catalog.Backend),
	)

	// Account catalog backend.
	var (
		store       accountBackend
		redisClient *redis.Client
		dbPool      *database.Pool
	)
	switch cfg.Catalog.Backend {
	case config.BackendRedis:
		redisClient, err = redis.New(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		store = catalog.NewRedis(redisClient.Client)
		healthHandler.RegisterCheck("redis", redisClient.Health)
	case config.BackendPostgres:
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.Catalog.PostgresDSN
		dbPool, err = database.New(dbCfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer dbPool.Close()
		if err := database.Migrate(ctx, dbPool.DB()); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		store = catalog.NewPostgres(dbPool.DB())
		healthHandler.RegisterCheck("postgres", dbPool.Health)
	default:
		store = catalog.New()
	}

	// Selection core.
	engine := selection.New(store, cache.New(), quota.NewSnapshotStore(),
		selection.WithLogger(log),
		selection.WithMetrics(selectionmetrics.New()),
		selection.WithTracer(tracer.NewOTel()),
	)

	rlMetrics := ratelimitmetrics.New()
	supervisor := ratelimit.NewSupervisor(store,
		ratelimit.WithLogger(log),
		ratelimit.WithInvalidator(engine),
		ratelimit.WithMetrics(rlMetrics),
	)
	sweep := sweeper.New(store, supervisor,
		sweeper.WithLogger(log),
		sweeper.WithInterval(cfg.Sweeper.Interval),
		sweeper.WithMetrics(rlMetrics),
	)

	accountService := service.NewAccountService(store,
		service.WithLogger(log),
		service.WithInvalidator(engine),
		service.WithMetrics(accountmetrics.New()),
	)

	// Usage trail: sqlite sink, optionally mirrored to Kafka.
	usageStore, err := usagelog.Open(cfg.Usage.Path)
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer usageStore.Close()

	pipelineOpts := []usagelog.Option{
		usagelog.WithLogger(log),
		usagelog.WithMetrics(usagemetrics.New()),
		usagelog.WithFlushInterval(cfg.Usage.FlushInterval),
	}
	var kafkaProducer *producer.Producer
	if cfg.Usage.KafkaTopic != "" {
		kafkaProducer, err = producer.New(producer.DefaultConfig(cfg.Kafka.Brokers), log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer kafkaProducer.Close()
		pipelineOpts = append(pipelineOpts,
			usagelog.WithPublisher(usagelog.NewKafkaPublisher(kafkaProducer, cfg.Usage.KafkaTopic)))
		healthHandler.RegisterCheck("kafka", kafkaProducer.Health)
	}
	pipeline := usagelog.New(usageStore, pipelineOpts...)
	defer pipeline.Close()

	// Relay surface.
	endpoints := make(map[models.Provider]string, len(cfg.Relay.Endpoints))
	for name, base := range cfg.Relay.Endpoints {
		provider, err := models.ParseProvider(name)
		if err != nil {
			return fmt.Errorf("relay.endpoints: %w", err)
		}
		endpoints[provider] = base
	}
	relayHandler := relay.New(engine, supervisor, relay.NewHTTPDispatcher(endpoints),
		relay.WithLogger(log),
		relay.WithMetrics(relaymetrics.New()),
		relay.WithSessions(relay.NewRegistry(cfg.Relay.SessionTTL)),
		relay.WithUsageRecorder(pipeline),
	)

	// Seed roster, applied before the listener opens so the first request
	// already sees the configured accounts.
	var seed *seeder.Seeder
	if cfg.Seed.Path != "" {
		seed = seeder.New(accountService, cfg.Seed.Path,
			seeder.WithLogger(log),
			seeder.WithInvalidator(engine),
		)
		result, err := seed.Run(ctx)
		if err != nil {
			return fmt.Errorf("apply seed file: %w", err)
		}
		log.Info("seed applied",
			"created", result.Created,
			"existing", result.Existing,
			"failed", result.Failed,
		)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Relay:       relayHandler,
		RelayKeys:   relay.NewKeySet(cfg.Relay.KeyHashes),
		Accounts:    accounthandler.New(accountService, supervisor, engine, engine, log),
		Usage:       usagehandler.New(usageStore, log),
		Health:      healthHandler,
		HTTPMetrics: platformmetrics.NewHTTP(),
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		if err := sweep.Start(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if seed != nil && cfg.Seed.Watch {
		group.Go(func() error {
			if err := seed.Watch(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if redisClient != nil || dbPool != nil || kafkaProducer != nil {
		group.Go(func() error {
			ticker := time.NewTicker(poolStatsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					if redisClient != nil {
						redisClient.RecordPoolStats()
					}
					if dbPool != nil {
						stats := dbPool.Stats()
						log.Debug("postgres pool stats",
							"in_use", stats.InUse,
							"idle", stats.Idle,
							"wait_count", stats.WaitCount,
						)
					}
					if kafkaProducer != nil {
						if backlog := kafkaProducer.Buffered(); backlog > 0 {
							log.Warn("kafka producer backlog", "buffered_records", backlog)
						}
					}
				}
			}
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
