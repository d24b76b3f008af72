package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/resumeforge/dispatch/pkg/config"
	"github.com/resumeforge/dispatch/pkg/httputil"
	"github.com/resumeforge/dispatch/pkg/middleware"
	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/storage/postgres"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := cfg.Observability.NewLogger()
	logger.WithFields(map[string]interface{}{
		"version": cfg.Observability.ServiceVersion,
		"addr":    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
	}).Info("Starting dispatch API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTelConfig(), logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var (
		subscriptions webhooks.SubscriptionStore
		deliveries    webhooks.DeliveryStore
		cm            *postgres.ConnectionManager
	)
	if cfg.Database.URL == "" {
		logger.Warn("No database configured, using in-memory stores")
		store := webhooks.NewMemoryStore()
		subscriptions = store.Subscriptions()
		deliveries = store.Deliveries()
	} else {
		cm, err = postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), logger)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to database")
			os.Exit(1)
		}
		defer cm.Close()
		cm.StartHealthCheckRoutine(ctx, 30*time.Second)

		subStore, err := postgres.NewSubscriptionStore(cm)
		if err != nil {
			logger.WithError(err).Error("Failed to prepare subscription store")
			os.Exit(1)
		}
		delStore, err := postgres.NewDeliveryStore(cm)
		if err != nil {
			logger.WithError(err).Error("Failed to prepare delivery store")
			os.Exit(1)
		}
		subscriptions = subStore
		deliveries = delStore
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without it")
			redisClient = nil
		} else {
			defer redisClient.Close()
			if cm != nil {
				subscriptions = postgres.NewCachedSubscriptionStore(subscriptions, redisClient, time.Duration(cfg.Redis.CacheTTL), logger, metrics)
			}
		}
	}

	service := webhooks.NewSubscriptionService(subscriptions)
	dispatcher := webhooks.NewDispatcher(subscriptions, deliveries, metrics)
	handlers := webhooks.NewHandlers(service, dispatcher, deliveries, logger)

	// Without a database the API process runs its own delivery loop, since
	// a separate worker process could not see the in-memory queue.
	var embedded *webhooks.Worker
	if cm == nil {
		engine := webhooks.NewEngine(deliveries, logger, metrics)
		embedded = webhooks.NewWorker(subscriptions, deliveries, engine, cfg.Worker.RateLimiter(), cfg.Worker.DeliveryConfig(), logger, metrics)
		go func() {
			if err := embedded.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Embedded delivery worker failed")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggingMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	api := router.PathPrefix("/api/v1").Subrouter()
	if redisClient != nil {
		limit := middleware.NewDistributedOwnerRateLimit(redisClient, middleware.DefaultRateLimitConfig(), logger, metrics)
		api.Use(limit.Handler)
	} else {
		limit := middleware.NewOwnerRateLimit(middleware.DefaultRateLimitConfig(), logger, metrics)
		limit.StartCleanup(ctx)
		api.Use(limit.Handler)
	}
	handlers.RegisterRoutes(api)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "dispatch-api")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout),
	}

	// Probes and metrics listen on their own port so they stay reachable
	// even when the API port is behind an ingress.
	var db *sql.DB
	if cm != nil {
		db = cm.Primary()
	}
	checker := observability.NewHealthChecker(db, redisClient)
	checker.Version = cfg.Observability.ServiceVersion
	if embedded != nil {
		checker.RegisterWorker("delivery_worker", embedded)
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Health endpoints listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	if cm != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					metrics.UpdateDBStats(cm.Primary().Stats())
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if path := os.Getenv("DISPATCH_CONFIG_FILE"); path != "" {
		go func() {
			if err := config.Watch(ctx, path, logger, func(updated *config.Config) {
				logger.SetLevel(updated.Observability.Level())
			}); err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	sm := observability.NewShutdownManager(logger, server, time.Duration(cfg.Server.ShutdownTimeout))
	sm.RegisterShutdownFunc("health server", healthServer.Shutdown)
	sm.RegisterShutdownFunc("background loops", func(context.Context) error {
		cancel()
		return nil
	})
	if providers != nil {
		sm.RegisterShutdownFunc("opentelemetry", func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, providers, logger)
		})
	}

	go func() {
		logger.Infof("API server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
