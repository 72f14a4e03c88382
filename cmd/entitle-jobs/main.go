package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/entitle/pkg/config"
	"github.com/platinummonkey/entitle/pkg/entitlements"
	"github.com/platinummonkey/entitle/pkg/jobs"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/roles"
	"github.com/platinummonkey/entitle/pkg/specialaccess"
	"github.com/platinummonkey/entitle/pkg/storage"
)

var version = "dev"

var (
	runOnce    = flag.Bool("run-once", false, "Run every job once and exit")
	jobName    = flag.String("job", "", "With --run-once, run only this job (owner_backfill or override_expiry)")
	skipSchema = flag.Bool("skip-migrate", false, "Do not apply schema migrations on startup")
)

// entitle-jobs runs the maintenance jobs for the entitlement stores and
// serves health and metrics endpoints while scheduled
func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogger(cfg.Observability.LogLevel)
	logger.WithField("version", version).Info("Starting entitle jobs")

	appLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "entitle-jobs")
	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, appLogger)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	cm, err := storage.NewConnectionManager(ctx, cfg.Storage, appLogger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer cm.Close()

	if !*skipSchema {
		if err := storage.Migrate(ctx, cm.Primary(), cm.Dialect()); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Ledger.Backend == config.LedgerRedis {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Ledger.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	// The jobs never decide requests, but they share the configuration of
	// the engine instances, so a bad catalog or ledger setting fails here.
	engine, err := entitlements.Open(cfg, cm, redisClient,
		entitlements.WithMetrics(metrics),
		entitlements.WithLogger(appLogger),
	)
	if err != nil {
		logger.Fatalf("Failed to build entitlement engine: %v", err)
	}
	logger.WithField("ledger", cfg.Ledger.Backend).
		Infof("Plan catalog has %d tiers", len(engine.Catalog().Tiers()))

	scheduler := jobs.NewScheduler(cfg.Jobs.Timeout, metrics, appLogger)
	for _, job := range []jobs.Job{
		jobs.OwnerBackfillJob(roles.NewStore(cm), cfg.Jobs.OwnerBackfillSchedule),
		jobs.OverrideExpiryJob(specialaccess.NewSQLStore(cm), cfg.Jobs.OverrideExpirySchedule, nil),
	} {
		if *runOnce && *jobName != "" && job.Name != *jobName {
			continue
		}
		if err := scheduler.Add(job); err != nil {
			logger.Fatalf("Failed to schedule job: %v", err)
		}
	}

	if *runOnce {
		if err := scheduler.RunAll(ctx); err != nil {
			logger.Fatalf("Jobs failed: %v", err)
		}
		if tp != nil {
			_ = tp.Shutdown(ctx)
		}
		logger.Info("Jobs completed successfully")
		return
	}

	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, observability.NewHealthChecker(cm.Primary(), redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(mux, registry)
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		defer observability.RecoverPanic(appLogger, "health server")
		logger.Infof("Health and metrics listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Health server failed: %v", err)
		}
	}()

	statsCtx, stopStats := context.WithCancel(ctx)
	go recordDBStats(statsCtx, cm, metrics)

	scheduler.Start()
	logger.Infof("Owner backfill schedule: %s", cfg.Jobs.OwnerBackfillSchedule)
	logger.Infof("Override expiry schedule: %s", cfg.Jobs.OverrideExpirySchedule)

	shutdown := observability.NewShutdownManager(appLogger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(scheduler.Stop)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		stopStats()
		return nil
	})
	if tp != nil {
		shutdown.RegisterShutdownFunc(tp.Shutdown)
	}

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		logger.Errorf("Shutdown failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Entitle jobs stopped")
}

func setupLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level.String())
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

func recordDBStats(ctx context.Context, cm *storage.ConnectionManager, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RecordDBStats(cm.Primary().Stats())
		}
	}
}
