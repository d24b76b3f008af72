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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/resumeforge/dispatch/pkg/config"
	"github.com/resumeforge/dispatch/pkg/ingest"
	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/storage/postgres"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.Ingest.Enabled() {
		log.Fatal("DISPATCH_KAFKA_BROKERS is required: the ingest bridge consumes the domain event topic")
	}
	if cfg.Database.URL == "" {
		log.Fatal("DISPATCH_DATABASE_URL is required: ingested events fan out to the shared delivery queue")
	}

	logger := cfg.Observability.NewLogger()
	logger.WithFields(map[string]interface{}{
		"topic":    cfg.Ingest.Topic,
		"group_id": cfg.Ingest.GroupID,
	}).Info("Starting dispatch ingest bridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	subscriptions, err := postgres.NewSubscriptionStore(cm)
	if err != nil {
		logger.WithError(err).Error("Failed to prepare subscription store")
		os.Exit(1)
	}
	deliveries, err := postgres.NewDeliveryStore(cm)
	if err != nil {
		logger.WithError(err).Error("Failed to prepare delivery store")
		os.Exit(1)
	}

	dispatcher := webhooks.NewDispatcher(subscriptions, deliveries, metrics)
	consumer := ingest.NewConsumer(ingest.Config{
		Brokers: cfg.Ingest.BrokerList(),
		Topic:   cfg.Ingest.Topic,
		GroupID: cfg.Ingest.GroupID,
	}, dispatcher, logger, metrics)

	checker := observability.NewHealthChecker(cm.Primary(), nil)
	checker.Version = cfg.Observability.ServiceVersion

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

	// Blocks until the shutdown signal cancels ctx.
	consumer.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Health server shutdown failed")
	}
	if err := observability.ShutdownOTel(shutdownCtx, providers, logger); err != nil {
		logger.WithError(err).Error("OpenTelemetry shutdown failed")
	}

	logger.Info("Ingest bridge stopped")
}
