// kanbu-authzd is the permission engine daemon: it serves the read-only
// permission API (access checks, role lookups, the permission matrix)
// over HTTP and optionally runs scheduled matrix exports.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/hydro13/kanbu-sub005/pkg/authz"
	"github.com/hydro13/kanbu-sub005/pkg/config"
	"github.com/hydro13/kanbu-sub005/pkg/observability"
	"github.com/hydro13/kanbu-sub005/pkg/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			Fatalf("failed to load configuration: %v", err)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	log.Info("Starting kanbu-authzd")

	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, log)
	if err != nil {
		log.Fatalf("failed to initialize OpenTelemetry: %v", err)
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	if err := postgres.RunMigrations(ctx, store.DB()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Info("Database ready")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	var svcOpts []authz.Option
	if metrics != nil {
		svcOpts = append(svcOpts, authz.WithMetrics(metrics))
	}
	svc := authz.NewService(store, log, svcOpts...)

	var redisClient *redis.Client
	var checker authz.AccessChecker = svc
	if cfg.Cache.Enabled {
		var cacheOpts []authz.CacheOption
		if cfg.Cache.RedisURL != "" {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.RedisURL,
				Password: cfg.Cache.RedisPassword,
			})
			cacheOpts = append(cacheOpts, authz.WithRedis(redisClient))
		}
		if metrics != nil {
			cacheOpts = append(cacheOpts, authz.WithCacheMetrics(metrics))
		}
		checker = authz.NewCachedChecker(svc, cfg.Cache.LocalSize, cfg.Cache.TTL, log, cacheOpts...)
		log.Infof("Permission cache enabled (ttl=%s, local=%d)", cfg.Cache.TTL, cfg.Cache.LocalSize)
	}

	var exportOpts []authz.ExportOption
	if metrics != nil {
		exportOpts = append(exportOpts, authz.WithExportMetrics(metrics))
	}
	exportOpts = append(exportOpts, authz.WithS3Region(cfg.Export.S3Region))
	exporter := authz.NewExporter(svc, log, exportOpts...)

	var scheduler *cron.Cron
	if cfg.Export.Schedule != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(cfg.Export.Schedule, exporter.RunScheduledExport(cfg.Export.Destination)); err != nil {
			log.Fatalf("invalid matrix export schedule %q: %v", cfg.Export.Schedule, err)
		}
		scheduler.Start()
		log.Infof("Scheduled matrix exports: %s -> %s", cfg.Export.Schedule, cfg.Export.Destination)
	}

	mw := authz.NewMiddleware(svc, log)
	handlers := authz.NewHandlers(svc, checker, log)

	router := mux.NewRouter()
	router.Use(mw.RequestID, mw.Logging, mw.RequireUser)
	api := router.PathPrefix("/api/v1").Subrouter()
	handlers.RegisterRoutes(api)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port so probes bypass auth.
	health := observability.NewHealthChecker(store.DB(), redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		log.Infof("Health server listening on :%s", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return store.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if scheduler != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			stopCtx := scheduler.Stop()
			select {
			case <-stopCtx.Done():
			case <-time.After(10 * time.Second):
			}
			return nil
		})
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc(providers.Shutdown)
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})

	go func() {
		log.Infof("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		os.Exit(1)
	}
}
