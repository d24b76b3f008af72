// Package config provides application configuration for the dispatch
// binaries.
//
// # Overview
//
// Configuration is layered: built-in defaults, then an optional YAML file
// named by DISPATCH_CONFIG_FILE, then DISPATCH_* environment variables.
// The environment wins over the file, the file wins over defaults. Every
// load ends with Validate, so a binary never starts on a config it cannot
// run with.
//
// # Environment Variables
//
// Server settings:
//
//	DISPATCH_HOST="0.0.0.0"
//	DISPATCH_PORT="8080"
//	DISPATCH_HEALTH_PORT="9090"
//	DISPATCH_READ_TIMEOUT="15s"
//	DISPATCH_WRITE_TIMEOUT="30s"
//
// Storage settings:
//
//	DISPATCH_DATABASE_URL="postgres://localhost/dispatch"  # empty selects in-memory stores
//	DISPATCH_DATABASE_REPLICA_URLS="postgres://replica-1/dispatch,postgres://replica-2/dispatch"
//	DISPATCH_DB_MAX_OPEN="25"
//	DISPATCH_REDIS_ADDR="localhost:6379"  # empty disables caching
//	DISPATCH_CACHE_TTL="5m"
//
// Worker settings:
//
//	DISPATCH_WORKER_PENDING_BATCH="100"
//	DISPATCH_WORKER_POLL_INTERVAL="10s"
//	DISPATCH_WORKER_CONCURRENCY="8"
//	DISPATCH_WORKER_CLAIM_TTL="10m"
//	DISPATCH_RATE_LIMIT_PER_MINUTE="120"  # 0 disables
//
// Janitor and archive settings:
//
//	DISPATCH_RETENTION_DAYS="30"
//	DISPATCH_JANITOR_SCHEDULE="17 3 * * *"
//	DISPATCH_ARCHIVE_ENABLED="true"
//	DISPATCH_S3_BUCKET="dispatch-archive"
//
// Ingest settings:
//
//	DISPATCH_KAFKA_BROKERS="kafka-1:9092,kafka-2:9092"  # empty disables
//	DISPATCH_KAFKA_TOPIC="resumeforge.domain-events"
//
// Observability settings:
//
//	DISPATCH_LOG_LEVEL="info"  # debug, info, warn, error
//	DISPATCH_LOG_FORMAT="json"  # json, text
//	DISPATCH_OTEL_ENABLED="true"
//	DISPATCH_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	logger := cfg.Observability.NewLogger()
//	cm, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), logger)
//
// Watch reloads the file on change so runtime tunables such as the log
// level apply without a restart:
//
//	go config.Watch(ctx, path, logger, func(cfg *config.Config) {
//		logger.SetLevel(cfg.Observability.Level())
//	})
//
// # Related Packages
//
//   - pkg/storage/postgres: consumes the database and cache configuration
//   - pkg/webhooks: consumes the worker configuration
//   - pkg/observability: consumes the logging and OTel configuration
package config
