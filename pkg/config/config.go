package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creatorhub/creatorhub/pkg/observability"
)

const envPrefix = "CREATORHUB_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Storage       StorageConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Media         MediaConfig
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
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
	SeedOnStart     bool
}

// RedisConfig holds the Redis settings backing the active storage setting cache.
// An empty URL disables the cache.
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SettingTTL   time.Duration
}

// StorageConfig holds process-wide storage defaults. Driver credentials live
// in the storage_settings table, not here.
type StorageConfig struct {
	OperationTimeout time.Duration
	ClientCacheSize  int
	ClientCacheTTL   time.Duration
	LocalServeRoute  string
	// SecretsKey is a base64 encoded 32-byte key sealing driver secrets at rest.
	// Empty stores secrets as plaintext.
	SecretsKey string
}

// AuthConfig holds API token settings
type AuthConfig struct {
	TokenCleanupSchedule string
	DefaultTokenTTL      time.Duration
	// TokenRetention is how long expired or revoked tokens are kept before
	// the cleanup job deletes them
	TokenRetention time.Duration
}

// RateLimitConfig holds request rate limits. Limits are shared through Redis
// when it is configured and per process otherwise.
type RateLimitConfig struct {
	Enabled       bool
	UserPerMinute int
	UserBurst     int
	AnonPerMinute int
	AnonBurst     int
}

// MediaConfig holds content library settings
type MediaConfig struct {
	// MaxUploadBytes caps every library's own size limit
	MaxUploadBytes int64
	SignedURLTTL   time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Media:         loadMediaConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("MAX_BODY_BYTES", 512<<20),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		MigrateOnStart:  getEnvBool("DATABASE_MIGRATE", true),
		SeedOnStart:     getEnvBool("DATABASE_SEED", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("REDIS_URL", ""),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		SettingTTL:   getEnvDuration("REDIS_SETTING_TTL", 5*time.Minute),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		OperationTimeout: getEnvDuration("STORAGE_TIMEOUT", 30*time.Second),
		ClientCacheSize:  getEnvInt("STORAGE_CLIENT_CACHE_SIZE", 16),
		ClientCacheTTL:   getEnvDuration("STORAGE_CLIENT_CACHE_TTL", 15*time.Minute),
		LocalServeRoute:  getEnv("STORAGE_LOCAL_ROUTE", "/files"),
		SecretsKey:       getEnv("STORAGE_SECRETS_KEY", ""),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		TokenCleanupSchedule: getEnv("TOKEN_CLEANUP_SCHEDULE", "@every 1h"),
		DefaultTokenTTL:      getEnvDuration("TOKEN_TTL", 90*24*time.Hour),
		TokenRetention:       getEnvDuration("TOKEN_RETENTION", 30*24*time.Hour),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
		UserPerMinute: getEnvInt("RATE_LIMIT_USER_PER_MINUTE", 1000),
		UserBurst:     getEnvInt("RATE_LIMIT_USER_BURST", 50),
		AnonPerMinute: getEnvInt("RATE_LIMIT_ANON_PER_MINUTE", 100),
		AnonBurst:     getEnvInt("RATE_LIMIT_ANON_BURST", 10),
	}
}

func loadMediaConfig() MediaConfig {
	return MediaConfig{
		MaxUploadBytes: getEnvInt64("MEDIA_MAX_UPLOAD_BYTES", 500<<20),
		SignedURLTTL:   getEnvDuration("MEDIA_SIGNED_URL_TTL", 15*time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "creatorhub"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return errors.New(envPrefix + "DATABASE_URL is required")
	}
	if c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return errors.New("database max idle connections cannot exceed max open connections")
	}

	if c.Storage.OperationTimeout <= 0 {
		return errors.New("storage operation timeout must be positive")
	}
	if c.Storage.ClientCacheSize <= 0 {
		return errors.New("storage client cache size must be positive")
	}
	if !strings.HasPrefix(c.Storage.LocalServeRoute, "/") {
		return fmt.Errorf("storage local route must start with '/': %q", c.Storage.LocalServeRoute)
	}
	if c.Storage.SecretsKey != "" {
		if _, err := c.Storage.DecodedSecretsKey(); err != nil {
			return err
		}
	}

	if c.Auth.TokenCleanupSchedule == "" {
		return errors.New("token cleanup schedule is required")
	}
	if c.Auth.TokenRetention < 0 {
		return errors.New("token retention cannot be negative")
	}

	if c.RateLimit.Enabled && (c.RateLimit.UserPerMinute <= 0 || c.RateLimit.AnonPerMinute <= 0) {
		return errors.New("rate limits must be positive when rate limiting is enabled")
	}

	if c.Media.MaxUploadBytes <= 0 {
		return errors.New("media max upload size must be positive")
	}
	if c.Media.MaxUploadBytes > c.Server.MaxBodyBytes {
		return fmt.Errorf("media max upload size (%d) exceeds the request body limit (%d)", c.Media.MaxUploadBytes, c.Server.MaxBodyBytes)
	}
	if c.Media.SignedURLTTL <= 0 {
		return errors.New("media signed URL TTL must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be within [0,1], got %v", r)
	}

	return nil
}

// DecodedSecretsKey returns the raw secretbox key
func (s StorageConfig) DecodedSecretsKey() (*[32]byte, error) {
	if s.SecretsKey == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s.SecretsKey)
	if err != nil {
		return nil, fmt.Errorf("storage secrets key is not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("storage secrets key must decode to 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Address returns host:port for the main listener
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// HealthAddress returns host:port for the health/metrics listener
func (s ServerConfig) HealthAddress() string {
	return s.Host + ":" + s.HealthPort
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
