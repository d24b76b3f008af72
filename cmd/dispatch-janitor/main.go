package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/resumeforge/dispatch/pkg/archive"
	"github.com/resumeforge/dispatch/pkg/config"
	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/storage/postgres"
)

var runOnce = flag.Bool("run-once", false, "Run one retention pass and exit (for container cron jobs and backfills)")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DISPATCH_DATABASE_URL is required: the janitor prunes the shared delivery table")
	}

	logger := cfg.Observability.NewLogger()

	cm, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer cm.Close()

	deliveries, err := postgres.NewDeliveryStore(cm)
	if err != nil {
		logger.WithError(err).Error("Failed to prepare delivery store")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var uploader archive.Uploader
	if cfg.Janitor.ArchiveEnabled {
		client, err := archive.NewS3Client(cfg.S3.ArchiveConfig())
		if err != nil {
			logger.WithError(err).Error("Failed to create archive client")
			os.Exit(1)
		}

		// Verify bucket access before the first scheduled pass
		healthCtx, healthCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = client.HealthCheck(healthCtx)
		healthCancel()
		if err != nil {
			logger.WithError(err).Error("Archive bucket is unreachable")
			os.Exit(1)
		}

		uploader = client
		logger.WithField("bucket", cfg.S3.Bucket).Info("Archiving expired deliveries to S3")
	}

	janitor := archive.NewJanitor(deliveries, uploader, cfg.Janitor.RetentionConfig(), logger, metrics)

	if *runOnce {
		if _, err := janitor.Run(context.Background()); err != nil {
			logger.WithError(err).Error("Retention pass failed")
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Janitor.Schedule, func() {
		if _, err := janitor.Run(context.Background()); err != nil {
			logger.WithError(err).Error("Retention pass failed")
		}
	})
	if err != nil {
		logger.WithError(err).Errorf("Failed to schedule retention pass on %q", cfg.Janitor.Schedule)
		os.Exit(1)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule":       cfg.Janitor.Schedule,
		"retention_days": cfg.Janitor.RetentionDays,
		"archiving":      uploader != nil,
	}).Info("Retention janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down, waiting for any running pass to finish")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	logger.Info("Retention janitor stopped")
}
