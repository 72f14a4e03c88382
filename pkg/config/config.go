package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/entitle/pkg/cache"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// Ledger backends
const (
	LedgerSQL   = "sql"
	LedgerRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration for health and metrics endpoints
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Usage ledger configuration
	Ledger LedgerConfig

	// Plan catalog; an empty path uses the built-in tiers
	CatalogPath string

	// Snapshot cache for overrides and subscriptions
	Cache cache.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Background jobs
	Jobs JobsConfig
}

// ServerConfig holds the HTTP listener used for probes and metrics
type ServerConfig struct {
	Host            string
	HealthPort      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the host:port of the health listener
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.HealthPort
}

// LedgerConfig selects where usage counters live
type LedgerConfig struct {
	Backend        string
	RedisKeyPrefix string
	Redis          storage.RedisConfig
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// JobsConfig holds cron schedules for maintenance jobs
type JobsConfig struct {
	OwnerBackfillSchedule  string
	OverrideExpirySchedule string
	Timeout                time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	storageCfg, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       storageCfg,
		Ledger:        loadLedgerConfig(),
		CatalogPath:   getEnv("ENTITLE_CATALOG_PATH", ""),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
		Jobs:          loadJobsConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ENTITLE_HOST", "0.0.0.0"),
		HealthPort:      getEnv("ENTITLE_HEALTH_PORT", "9090"),
		ReadTimeout:     getEnvDuration("ENTITLE_READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getEnvDuration("ENTITLE_WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getEnvDuration("ENTITLE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadStorageConfig loads database configuration from environment
func loadStorageConfig() (storage.Config, error) {
	cfg := storage.DefaultConfig()

	dialect, err := storage.ParseDialect(getEnv("ENTITLE_DB_DIALECT", string(storage.DialectPostgres)))
	if err != nil {
		return cfg, err
	}
	cfg.Dialect = dialect
	cfg.PrimaryURL = getEnv("ENTITLE_DB_URL", "")
	cfg.ReplicaURLs = storage.ParseReplicaURLs(getEnv("ENTITLE_DB_REPLICA_URLS", ""))

	if maxConns := getEnvInt("ENTITLE_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("ENTITLE_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("ENTITLE_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg, nil
}

func loadLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Backend:        strings.ToLower(getEnv("ENTITLE_LEDGER_BACKEND", LedgerSQL)),
		RedisKeyPrefix: getEnv("ENTITLE_REDIS_KEY_PREFIX", "usage"),
		Redis: storage.RedisConfig{
			URL:        getEnv("ENTITLE_REDIS_URL", ""),
			Password:   getEnv("ENTITLE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("ENTITLE_REDIS_DB", 0),
			PoolSize:   getEnvInt("ENTITLE_REDIS_POOL_SIZE", 10),
			MaxRetries: getEnvInt("ENTITLE_REDIS_MAX_RETRIES", 0),
			Timeout:    getEnvDuration("ENTITLE_REDIS_TIMEOUT", 2*time.Second),
		},
	}
}

func loadCacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.TTL = getEnvDuration("ENTITLE_CACHE_TTL", cfg.TTL)
	if size := getEnvInt("ENTITLE_CACHE_SIZE", 0); size > 0 {
		cfg.MaxEntries = size
	}
	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ENTITLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ENTITLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ENTITLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ENTITLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ENTITLE_OTEL_SERVICE_NAME", "entitle"),
		OTelServiceVersion: getEnv("ENTITLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ENTITLE_OTEL_INSECURE", true),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		OwnerBackfillSchedule:  getEnv("ENTITLE_JOB_OWNER_BACKFILL_SCHEDULE", "@hourly"),
		OverrideExpirySchedule: getEnv("ENTITLE_JOB_OVERRIDE_EXPIRY_SCHEDULE", "*/5 * * * *"),
		Timeout:                getEnvDuration("ENTITLE_JOB_TIMEOUT", 5*time.Minute),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Storage.PrimaryURL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Ledger.Backend {
	case LedgerSQL:
	case LedgerRedis:
		if c.Ledger.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis ledger")
		}
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be %s or %s)", c.Ledger.Backend, LedgerSQL, LedgerRedis)
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache TTL must not be negative")
	}

	if c.Observability.MetricsEnabled && c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required when metrics are enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if _, err := cron.ParseStandard(c.Jobs.OwnerBackfillSchedule); err != nil {
		return fmt.Errorf("invalid owner backfill schedule %q: %w", c.Jobs.OwnerBackfillSchedule, err)
	}
	if _, err := cron.ParseStandard(c.Jobs.OverrideExpirySchedule); err != nil {
		return fmt.Errorf("invalid override expiry schedule %q: %w", c.Jobs.OverrideExpirySchedule, err)
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("job timeout must be positive")
	}

	return nil
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
