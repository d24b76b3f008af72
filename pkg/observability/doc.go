// Package observability provides structured logging, Prometheus metrics, health
// checks, and OpenTelemetry tracing for the dispatch services.
//
// # Overview
//
// This package centralizes observability infrastructure shared by the API
// server, the delivery worker, and the supporting binaries: JSON logging,
// metrics collection, liveness/readiness probes, and distributed tracing.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Infof("Server started on port %d", 8080)
//
// Context-aware logging:
//
//	logger.WithField("subscription_id", subID).WithError(err).Error("Delivery failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.DeliveryAttemptsTotal.WithLabelValues("resume.created", "success").Inc()
//	metrics.DeliveryDuration.WithLabelValues("resume.created").Observe(0.123)
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.RegisterWorker("retry-worker", worker)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "dispatch-worker",
//		Endpoint:    "otel-collector:4317",
//		SampleRatio: 0.1,
//	}, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
