package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/resumeforge/dispatch/pkg/archive"
	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/storage/postgres"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Worker        WorkerConfig        `yaml:"worker"`
	Janitor       JanitorConfig       `yaml:"janitor"`
	S3            S3Config            `yaml:"s3"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL connection configuration. An empty URL
// selects the in-memory stores, which are only suitable for development.
type DatabaseConfig struct {
	URL          string   `yaml:"url"`
	ReplicaURLs  string   `yaml:"replica_urls"`
	MaxOpen      int      `yaml:"max_open"`
	MaxIdle      int      `yaml:"max_idle"`
	ConnLifetime Duration `yaml:"conn_lifetime"`
	MaxIdleTime  Duration `yaml:"max_idle_time"`
	Timeout      Duration `yaml:"timeout"`
}

// RedisConfig holds Redis configuration. An empty Addr disables the
// subscription cache and distributed rate limiting.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// WorkerConfig holds delivery worker configuration
type WorkerConfig struct {
	PendingBatch int      `yaml:"pending_batch"`
	RetryBatch   int      `yaml:"retry_batch"`
	PollInterval Duration `yaml:"poll_interval"`
	Concurrency  int      `yaml:"concurrency"`
	ClaimTTL     Duration `yaml:"claim_ttl"`

	// Per-subscription delivery rate limiting. Zero RateLimitPerMinute
	// disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int `yaml:"rate_limit_burst"`
}

// JanitorConfig holds retention and archival configuration
type JanitorConfig struct {
	RetentionDays int    `yaml:"retention_days"`
	BatchSize     int    `yaml:"batch_size"`
	Schedule      string `yaml:"schedule"`

	// ArchiveEnabled uploads expired deliveries to S3 before deleting
	// them. When false the janitor only prunes.
	ArchiveEnabled bool `yaml:"archive_enabled"`
}

// S3Config holds the archive bucket configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// IngestConfig holds the Kafka event bridge configuration. Empty Brokers
// disables the bridge.
type IngestConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled     bool    `yaml:"otel_enabled"`
	OTelEndpoint    string  `yaml:"otel_endpoint"`
	OTelInsecure    bool    `yaml:"otel_insecure"`
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
}

// Duration is a time.Duration that YAML encodes as a string like "30s".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML renders the duration in time.ParseDuration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML parses a duration string such as "10s" or "5m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpen:      25,
			MaxIdle:      5,
			ConnLifetime: Duration(5 * time.Minute),
			MaxIdleTime:  Duration(10 * time.Minute),
			Timeout:      Duration(10 * time.Second),
		},
		Redis: RedisConfig{
			CacheTTL: Duration(postgres.DefaultSubscriptionCacheTTL),
		},
		Worker: WorkerConfig{
			PendingBatch:       webhooks.DefaultPendingBatchSize,
			RetryBatch:         webhooks.DefaultRetryBatchSize,
			PollInterval:       Duration(webhooks.DefaultPollInterval),
			Concurrency:        webhooks.DefaultConcurrency,
			ClaimTTL:           Duration(webhooks.DefaultClaimLease),
			RateLimitPerMinute: 120,
			RateLimitBurst:     30,
		},
		Janitor: JanitorConfig{
			RetentionDays: archive.DefaultRetentionDays,
			BatchSize:     archive.DefaultBatchSize,
			Schedule:      "17 3 * * *",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Ingest: IngestConfig{
			Topic:   "resumeforge.domain-events",
			GroupID: "dispatch-webhooks",
		},
		Observability: ObservabilityConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			MetricsEnabled:  true,
			OTelEndpoint:    "localhost:4317",
			OTelInsecure:    true,
			OTelSampleRatio: 1.0,
			ServiceName:     "dispatch",
			ServiceVersion:  "1.0.0",
		},
	}
}

// LoadConfig loads configuration from defaults, the optional YAML file
// named by DISPATCH_CONFIG_FILE, and DISPATCH_* environment variables.
// Environment variables win over the file, the file wins over defaults.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv("DISPATCH_CONFIG_FILE"))
}

// LoadConfigFile is LoadConfig with an explicit file path. An empty path
// skips the file layer.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides cfg with any DISPATCH_* environment variables that
// are set.
func applyEnv(cfg *Config) {
	// Server
	cfg.Server.Host = getEnv("DISPATCH_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("DISPATCH_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("DISPATCH_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("DISPATCH_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("DISPATCH_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("DISPATCH_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthPort = getEnv("DISPATCH_HEALTH_PORT", cfg.Server.HealthPort)

	// Database
	cfg.Database.URL = getEnv("DISPATCH_DATABASE_URL", cfg.Database.URL)
	cfg.Database.ReplicaURLs = getEnv("DISPATCH_DATABASE_REPLICA_URLS", cfg.Database.ReplicaURLs)
	cfg.Database.MaxOpen = getEnvInt("DISPATCH_DB_MAX_OPEN", cfg.Database.MaxOpen)
	cfg.Database.MaxIdle = getEnvInt("DISPATCH_DB_MAX_IDLE", cfg.Database.MaxIdle)
	cfg.Database.ConnLifetime = getEnvDuration("DISPATCH_DB_CONN_LIFETIME", cfg.Database.ConnLifetime)
	cfg.Database.MaxIdleTime = getEnvDuration("DISPATCH_DB_MAX_IDLE_TIME", cfg.Database.MaxIdleTime)
	cfg.Database.Timeout = getEnvDuration("DISPATCH_DB_TIMEOUT", cfg.Database.Timeout)

	// Redis
	cfg.Redis.Addr = getEnv("DISPATCH_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("DISPATCH_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("DISPATCH_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.CacheTTL = getEnvDuration("DISPATCH_CACHE_TTL", cfg.Redis.CacheTTL)

	// Worker
	cfg.Worker.PendingBatch = getEnvInt("DISPATCH_WORKER_PENDING_BATCH", cfg.Worker.PendingBatch)
	cfg.Worker.RetryBatch = getEnvInt("DISPATCH_WORKER_RETRY_BATCH", cfg.Worker.RetryBatch)
	cfg.Worker.PollInterval = getEnvDuration("DISPATCH_WORKER_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Worker.Concurrency = getEnvInt("DISPATCH_WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.ClaimTTL = getEnvDuration("DISPATCH_WORKER_CLAIM_TTL", cfg.Worker.ClaimTTL)
	cfg.Worker.RateLimitPerMinute = getEnvInt("DISPATCH_RATE_LIMIT_PER_MINUTE", cfg.Worker.RateLimitPerMinute)
	cfg.Worker.RateLimitBurst = getEnvInt("DISPATCH_RATE_LIMIT_BURST", cfg.Worker.RateLimitBurst)

	// Janitor
	cfg.Janitor.RetentionDays = getEnvInt("DISPATCH_RETENTION_DAYS", cfg.Janitor.RetentionDays)
	cfg.Janitor.BatchSize = getEnvInt("DISPATCH_JANITOR_BATCH", cfg.Janitor.BatchSize)
	cfg.Janitor.Schedule = getEnv("DISPATCH_JANITOR_SCHEDULE", cfg.Janitor.Schedule)
	cfg.Janitor.ArchiveEnabled = getEnvBool("DISPATCH_ARCHIVE_ENABLED", cfg.Janitor.ArchiveEnabled)

	// S3
	cfg.S3.Endpoint = getEnv("DISPATCH_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.Region = getEnv("DISPATCH_S3_REGION", cfg.S3.Region)
	cfg.S3.Bucket = getEnv("DISPATCH_S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.AccessKey = getEnv("DISPATCH_S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnv("DISPATCH_S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.PathStyle = getEnvBool("DISPATCH_S3_PATH_STYLE", cfg.S3.PathStyle)

	// Ingest
	cfg.Ingest.Brokers = getEnv("DISPATCH_KAFKA_BROKERS", cfg.Ingest.Brokers)
	cfg.Ingest.Topic = getEnv("DISPATCH_KAFKA_TOPIC", cfg.Ingest.Topic)
	cfg.Ingest.GroupID = getEnv("DISPATCH_KAFKA_GROUP_ID", cfg.Ingest.GroupID)

	// Observability
	cfg.Observability.LogLevel = getEnv("DISPATCH_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = getEnv("DISPATCH_LOG_FORMAT", cfg.Observability.LogFormat)
	cfg.Observability.MetricsEnabled = getEnvBool("DISPATCH_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("DISPATCH_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("DISPATCH_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelInsecure = getEnvBool("DISPATCH_OTEL_INSECURE", cfg.Observability.OTelInsecure)
	cfg.Observability.OTelSampleRatio = getEnvFloat("DISPATCH_OTEL_SAMPLE_RATIO", cfg.Observability.OTelSampleRatio)
	cfg.Observability.ServiceName = getEnv("DISPATCH_SERVICE_NAME", cfg.Observability.ServiceName)
	cfg.Observability.ServiceVersion = getEnv("DISPATCH_SERVICE_VERSION", cfg.Observability.ServiceVersion)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.URL != "" {
		if c.Database.MaxOpen <= 0 {
			return fmt.Errorf("database max open connections must be positive")
		}
		if c.Database.MaxIdle < 0 {
			return fmt.Errorf("database max idle connections cannot be negative")
		}
		if c.Database.MaxIdle > c.Database.MaxOpen {
			return fmt.Errorf("database max idle connections cannot exceed max open")
		}
	}

	// Validate redis config
	if c.Redis.Addr != "" && c.Redis.DB < 0 {
		return fmt.Errorf("redis DB cannot be negative")
	}

	// Validate worker config
	if c.Worker.PendingBatch <= 0 || c.Worker.RetryBatch <= 0 {
		return fmt.Errorf("worker batch sizes must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	if time.Duration(c.Worker.ClaimTTL) <= webhooks.MaxTimeoutSeconds*time.Second {
		return fmt.Errorf("worker claim TTL must exceed the maximum delivery timeout of %ds", webhooks.MaxTimeoutSeconds)
	}
	if c.Worker.RateLimitPerMinute < 0 {
		return fmt.Errorf("worker rate limit cannot be negative")
	}
	if c.Worker.RateLimitPerMinute > 0 && c.Worker.RateLimitBurst <= 0 {
		return fmt.Errorf("worker rate limit burst must be positive when rate limiting is enabled")
	}

	// Validate janitor config
	if c.Janitor.RetentionDays <= 0 {
		return fmt.Errorf("janitor retention days must be positive")
	}
	if c.Janitor.BatchSize <= 0 {
		return fmt.Errorf("janitor batch size must be positive")
	}
	if _, err := cron.ParseStandard(c.Janitor.Schedule); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", c.Janitor.Schedule, err)
	}
	if c.Janitor.ArchiveEnabled && c.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required when archiving is enabled")
	}

	// Validate ingest config
	if c.Ingest.Brokers != "" {
		if c.Ingest.Topic == "" {
			return fmt.Errorf("kafka topic is required when brokers are configured")
		}
		if c.Ingest.GroupID == "" {
			return fmt.Errorf("kafka group ID is required when brokers are configured")
		}
	}

	// Validate observability config
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.ServiceName == "" {
			return fmt.Errorf("service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OTel sample ratio must be between 0 and 1")
	}

	return nil
}

// ConnectionConfig converts the database settings to the postgres
// connection manager's config.
func (c DatabaseConfig) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  c.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(c.ReplicaURLs),
		MaxConns:    c.MaxOpen,
		MinConns:    c.MaxIdle,
		Timeout:     time.Duration(c.Timeout),
		MaxLifetime: time.Duration(c.ConnLifetime),
		MaxIdleTime: time.Duration(c.MaxIdleTime),
	}
}

// Enabled reports whether a Redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// DeliveryConfig converts the worker settings to the delivery worker's
// config.
func (c WorkerConfig) DeliveryConfig() webhooks.WorkerConfig {
	return webhooks.WorkerConfig{
		PendingBatchSize: c.PendingBatch,
		RetryBatchSize:   c.RetryBatch,
		PollInterval:     time.Duration(c.PollInterval),
		Concurrency:      c.Concurrency,
		ClaimLease:       time.Duration(c.ClaimTTL),
	}
}

// RateLimiter builds the per-subscription delivery rate limiter, or nil
// when rate limiting is disabled.
func (c WorkerConfig) RateLimiter() *webhooks.RateLimiter {
	if c.RateLimitPerMinute <= 0 {
		return nil
	}
	return webhooks.NewRateLimiter(c.RateLimitBurst, time.Minute/time.Duration(c.RateLimitPerMinute))
}

// RetentionConfig converts the janitor settings to the retention janitor's
// config.
func (c JanitorConfig) RetentionConfig() archive.JanitorConfig {
	return archive.JanitorConfig{
		RetentionDays: c.RetentionDays,
		BatchSize:     c.BatchSize,
	}
}

// ArchiveConfig converts the S3 settings to the archive client's config.
func (c S3Config) ArchiveConfig() archive.Config {
	return archive.Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		Bucket:    c.Bucket,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		PathStyle: c.PathStyle,
	}
}

// Enabled reports whether the Kafka bridge is configured.
func (c IngestConfig) Enabled() bool {
	return c.Brokers != ""
}

// BrokerList splits the comma separated broker list.
func (c IngestConfig) BrokerList() []string {
	parts := strings.Split(c.Brokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			brokers = append(brokers, part)
		}
	}
	return brokers
}

// Level parses the configured log level.
func (c ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLevel(c.LogLevel)
}

// NewLogger builds the process logger in the configured format and level.
func (c ObservabilityConfig) NewLogger() *observability.Logger {
	if c.LogFormat == "text" {
		return observability.NewTextLogger(c.Level(), os.Stdout)
	}
	return observability.NewLogger(c.Level(), os.Stdout)
}

// OTelConfig converts to the OpenTelemetry settings.
func (c ObservabilityConfig) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return Duration(duration)
		}
	}
	return defaultValue
}
