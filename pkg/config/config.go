package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stocklane/stocklane/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Auth configuration
	Auth AuthConfig

	// Cache configuration
	Cache CacheConfig

	// Downstream service clients
	Clients ClientsConfig

	// Background job schedules
	Jobs JobsConfig

	// Observability configuration
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

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	ReplicaURLs     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthConfig holds token issuance and request authentication settings
type AuthConfig struct {
	// Secret is the shared HS256 signing key. All services in a
	// deployment must carry the same value.
	Secret string

	TokenTTL            time.Duration
	NearExpiryThreshold time.Duration

	// PublicPathPrefixes lists path prefixes exempt from
	// authentication, comma-separated in the environment.
	PublicPathPrefixes []string

	// AllowlistFile optionally points at a YAML file holding the
	// public path list. When set it takes precedence over
	// PublicPathPrefixes and is reloaded on change.
	AllowlistFile string

	// Login rate limiting
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// CacheConfig holds the two-tier read cache settings
type CacheConfig struct {
	Enabled bool
	L1Size  int
	TTL     time.Duration
}

// ClientsConfig holds base URLs for inter-service calls
type ClientsConfig struct {
	UserServiceURL      string
	InventoryServiceURL string
	RequestTimeout      time.Duration
}

// JobsConfig holds cron schedules for background maintenance
type JobsConfig struct {
	ReservationSweepSchedule string
	UserPurgeSchedule        string
	UserPurgeRetention       time.Duration
	ReservationTTL           time.Duration
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

// LoadConfig loads configuration from environment variables.
// serviceName seeds the OTel service name and metric labels.
func LoadConfig(serviceName string) (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Cache:         loadCacheConfig(),
		Clients:       loadClientsConfig(),
		Jobs:          loadJobsConfig(),
		Observability: loadObservabilityConfig(serviceName),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("STOCKLANE_HOST", "0.0.0.0"),
		Port:            getEnv("STOCKLANE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("STOCKLANE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("STOCKLANE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("STOCKLANE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("STOCKLANE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("STOCKLANE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("STOCKLANE_POSTGRES_URL", ""),
		ReplicaURLs:     getEnv("STOCKLANE_POSTGRES_REPLICA_URLS", ""),
		MaxOpenConns:    getEnvInt("STOCKLANE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("STOCKLANE_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("STOCKLANE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		ConnectTimeout:  getEnvDuration("STOCKLANE_POSTGRES_TIMEOUT", 10*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("STOCKLANE_REDIS_URL", ""),
		Password:   getEnv("STOCKLANE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("STOCKLANE_REDIS_DB", 0),
		MaxRetries: getEnvInt("STOCKLANE_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("STOCKLANE_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Secret:              getEnv("STOCKLANE_AUTH_SECRET", ""),
		TokenTTL:            getEnvDuration("STOCKLANE_TOKEN_TTL", 24*time.Hour),
		NearExpiryThreshold: getEnvDuration("STOCKLANE_TOKEN_NEAR_EXPIRY", 5*time.Minute),
		PublicPathPrefixes:  splitList(getEnv("STOCKLANE_PUBLIC_PATHS", "/auth/,/healthz,/readyz,/metrics")),
		AllowlistFile:       getEnv("STOCKLANE_PUBLIC_PATHS_FILE", ""),
		LoginRateLimit:      getEnvInt("STOCKLANE_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow:     getEnvDuration("STOCKLANE_LOGIN_RATE_WINDOW", time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: getEnvBool("STOCKLANE_CACHE_ENABLED", true),
		L1Size:  getEnvInt("STOCKLANE_L1_CACHE_SIZE", 1024),
		TTL:     getEnvDuration("STOCKLANE_CACHE_TTL", 30*time.Second),
	}
}

func loadClientsConfig() ClientsConfig {
	return ClientsConfig{
		UserServiceURL:      getEnv("STOCKLANE_USER_SERVICE_URL", "http://localhost:8081"),
		InventoryServiceURL: getEnv("STOCKLANE_INVENTORY_SERVICE_URL", "http://localhost:8082"),
		RequestTimeout:      getEnvDuration("STOCKLANE_CLIENT_TIMEOUT", 10*time.Second),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		ReservationSweepSchedule: getEnv("STOCKLANE_RESERVATION_SWEEP_SCHEDULE", "*/5 * * * *"),
		UserPurgeSchedule:        getEnv("STOCKLANE_USER_PURGE_SCHEDULE", "0 3 * * *"),
		UserPurgeRetention:       getEnvDuration("STOCKLANE_USER_PURGE_RETENTION", 30*24*time.Hour),
		ReservationTTL:           getEnvDuration("STOCKLANE_RESERVATION_TTL", 15*time.Minute),
	}
}

func loadObservabilityConfig(serviceName string) ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("STOCKLANE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("STOCKLANE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("STOCKLANE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("STOCKLANE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("STOCKLANE_OTEL_SERVICE_NAME", serviceName),
		OTelServiceVersion: getEnv("STOCKLANE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("STOCKLANE_OTEL_INSECURE", true),
	}
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

	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	if len(c.Auth.Secret) < 16 {
		return fmt.Errorf("auth secret must be at least 16 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Auth.NearExpiryThreshold < 0 {
		return fmt.Errorf("near-expiry threshold cannot be negative")
	}
	if c.Auth.NearExpiryThreshold >= c.Auth.TokenTTL {
		return fmt.Errorf("near-expiry threshold must be shorter than the token TTL")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Cache.Enabled {
		if c.Cache.L1Size <= 0 {
			return fmt.Errorf("L1 cache size must be positive when caching is enabled")
		}
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required when caching is enabled")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
