package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hydro13/kanbu-sub005/pkg/observability"
)

// Config holds all configuration for the permission engine daemon and
// tools, loaded from KANBU_* environment variables.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Export        ExportConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// CacheConfig holds permission-check cache configuration. The cache is an
// opt-in decorator around the access gate; the evaluators themselves stay
// stateless.
type CacheConfig struct {
	Enabled       bool
	TTL           time.Duration
	LocalSize     int
	RedisURL      string
	RedisPassword string
}

// ExportConfig holds permission-matrix export configuration.
type ExportConfig struct {
	// Schedule is a cron expression; empty disables scheduled exports.
	Schedule string
	// Destination is a local path or an s3://bucket/prefix URL.
	Destination string
	S3Region    string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("KANBU_HOST", "0.0.0.0"),
			Port:            getEnv("KANBU_PORT", "8080"),
			ReadTimeout:     getEnvDuration("KANBU_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("KANBU_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("KANBU_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("KANBU_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("KANBU_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("KANBU_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("KANBU_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("KANBU_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("KANBU_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("KANBU_CACHE_ENABLED", false),
			TTL:           getEnvDuration("KANBU_CACHE_TTL", 30*time.Second),
			LocalSize:     getEnvInt("KANBU_CACHE_LOCAL_SIZE", 4096),
			RedisURL:      getEnv("KANBU_REDIS_URL", ""),
			RedisPassword: getEnv("KANBU_REDIS_PASSWORD", ""),
		},
		Export: ExportConfig{
			Schedule:    getEnv("KANBU_MATRIX_EXPORT_SCHEDULE", ""),
			Destination: getEnv("KANBU_MATRIX_EXPORT_DESTINATION", ""),
			S3Region:    getEnv("KANBU_MATRIX_EXPORT_S3_REGION", "us-east-1"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("KANBU_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("KANBU_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("KANBU_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("KANBU_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("KANBU_OTEL_SERVICE_NAME", "kanbu-authz"),
			OTelServiceVersion: getEnv("KANBU_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("KANBU_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}
	if c.Export.Schedule != "" && c.Export.Destination == "" {
		return fmt.Errorf("matrix export destination is required when a schedule is set")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
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
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
