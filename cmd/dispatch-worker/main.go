package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/resumeforge/dispatch/pkg/config"
	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/storage/postgres"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DISPATCH_DATABASE_URL is required: the delivery worker drains the shared database queue")
	}

	logger := cfg.Observability.NewLogger()
	logger.WithField("version", cfg.Observability.ServiceVersion).Info("Starting dispatch delivery worker")

	// The worker loop gets a context that outlives the shutdown signal so
	// the in-flight cycle can finish; Stop ends the loop between cycles.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTelConfig(), logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	cm, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), logger)
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
	deliveries, err := postgres.NewDeliveryStore(cm)
	if err != nil {
		logger.WithError(err).Error("Failed to prepare delivery store")
		os.Exit(1)
	}

	var subscriptions webhooks.SubscriptionStore = subStore
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without subscription cache")
			redisClient = nil
		} else {
			defer redisClient.Close()
			subscriptions = postgres.NewCachedSubscriptionStore(subscriptions, redisClient, time.Duration(cfg.Redis.CacheTTL), logger, metrics)
		}
	}

	engine := webhooks.NewEngine(deliveries, logger, metrics)
	worker := webhooks.NewWorker(subscriptions, deliveries, engine, cfg.Worker.RateLimiter(), cfg.Worker.DeliveryConfig(), logger, metrics)

	checker := observability.NewHealthChecker(cm.Primary(), redisClient)
	checker.Version = cfg.Observability.ServiceVersion
	checker.RegisterWorker("delivery_worker", worker)

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

	if path := os.Getenv("DISPATCH_CONFIG_FILE"); path != "" {
		go func() {
			if err := config.Watch(ctx, path, logger, func(updated *config.Config) {
				logger.SetLevel(updated.Observability.Level())
			}); err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %s, stopping worker", sig)
		worker.Stop()
		select {
		case <-workerDone:
		case <-time.After(time.Duration(cfg.Server.ShutdownTimeout)):
			logger.Warn("Worker did not stop within the shutdown timeout")
		}
	case err := <-workerDone:
		if err != nil {
			logger.WithError(err).Error("Worker exited unexpectedly")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Health server shutdown failed")
	}
	if err := observability.ShutdownOTel(shutdownCtx, providers, logger); err != nil {
		logger.WithError(err).Error("OpenTelemetry shutdown failed")
	}

	logger.Info("Dispatch worker stopped")
}
