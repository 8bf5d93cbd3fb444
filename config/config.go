package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported token signing algorithms
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

// Storage backends
const (
	StorageBackendMemory     = "memory"
	StorageBackendFilesystem = "filesystem"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	PushAuth      PushAuthConfig
	Admin         AdminConfig
	Storage       StorageConfig
	Signing       SigningConfig
	Redis         RedisConfig
	Events        EventsConfig
	Retention     RetentionConfig
	Observability ObservabilityConfig
	DefaultTenant string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig is loaded once at startup and never mutated afterwards.
type AuthConfig struct {
	Enabled            bool
	Issuer             string
	Audiences          []string
	JWKSURL            string // When empty, resolved through OIDC discovery on Issuer
	Algorithms         []string
	TenantClaims       []string
	RequireTenantClaim bool
	SharedSecret       string
	ClockSkew          time.Duration
	KeyCacheTTL        time.Duration
	HTTPTimeout        time.Duration
}

// PushAuthConfig configures verification of push-delivery callbacks
type PushAuthConfig struct {
	Enabled              bool
	AllowUnauthenticated bool
	Audiences            []string
	ServiceAccounts      []string
	Issuers              []string
	JWKSURL              string
}

// AdminConfig holds the static credential for the admin surface
type AdminConfig struct {
	APIKey string
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Backend       string
	Root          string // filesystem backend only
	ReportsBucket string
}

// SigningConfig holds the HMAC key used to sign audit artifacts
type SigningConfig struct {
	Key   string
	KeyID string
}

// RedisConfig holds the optional shared key-cache configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// EventsConfig holds the optional Kafka fan-out for activity events
type EventsConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	BufferSize   int
	WorkerCount  int
}

// RetentionConfig bounds retention enforcement runs
type RetentionConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		DefaultTenant: getEnv("DEFAULT_TENANT", "default"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			Enabled:            getEnvAsBool("AUTH_ENABLED", false),
			Issuer:             strings.TrimSpace(getEnv("AUTH_ISSUER", "")),
			Audiences:          getEnvAsList("AUTH_AUDIENCE", nil),
			JWKSURL:            strings.TrimSpace(getEnv("AUTH_JWKS_URL", "")),
			Algorithms:         normalizeAlgorithms(getEnvAsList("AUTH_ALGORITHMS", []string{AlgorithmRS256})),
			TenantClaims:       getEnvAsList("AUTH_TENANT_CLAIMS", []string{"tenant", "tenants"}),
			RequireTenantClaim: getEnvAsBool("AUTH_REQUIRE_TENANT_CLAIM", true),
			SharedSecret:       getEnv("AUTH_JWT_SHARED_SECRET", ""),
			ClockSkew:          getEnvAsDuration("AUTH_CLOCK_SKEW", 30*time.Second),
			KeyCacheTTL:        getEnvAsDuration("AUTH_KEY_CACHE_TTL", 300*time.Second),
			HTTPTimeout:        getEnvAsDuration("AUTH_HTTP_TIMEOUT", 5*time.Second),
		},
		PushAuth: PushAuthConfig{
			Enabled:              getEnvAsBool("PUSH_AUTH_ENABLED", false),
			AllowUnauthenticated: getEnvAsBool("AUTH_ALLOW_UNAUTHENTICATED_PUSH", true),
			Audiences:            getEnvAsList("PUSH_AUTH_AUDIENCES", nil),
			ServiceAccounts:      getEnvAsList("PUSH_AUTH_SERVICE_ACCOUNTS", nil),
			Issuers:              getEnvAsList("PUSH_AUTH_ISSUERS", []string{"https://accounts.google.com", "accounts.google.com"}),
			JWKSURL:              getEnv("PUSH_AUTH_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendMemory)),
			Root:          getEnv("STORAGE_ROOT", "./data/objects"),
			ReportsBucket: strings.TrimSpace(getEnv("REPORTS_BUCKET", "")),
		},
		Signing: SigningConfig{
			Key:   getEnv("AUDIT_SIGNING_KEY", ""),
			KeyID: getEnv("AUDIT_SIGNING_KEY_ID", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Events: EventsConfig{
			KafkaBrokers: getEnvAsList("EVENTS_KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("EVENTS_KAFKA_TOPIC", "audit-activity"),
			BufferSize:   getEnvAsInt("ACTIVITY_BUFFER_SIZE", 1000),
			WorkerCount:  getEnvAsInt("ACTIVITY_WORKERS", 2),
		},
		Retention: RetentionConfig{
			DefaultLimit: getEnvAsInt("RETENTION_DEFAULT_LIMIT", 200),
			MaxLimit:     getEnvAsInt("RETENTION_MAX_LIMIT", 5000),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if err := c.Auth.Validate(); err != nil {
		return err
	}

	if c.PushAuth.Enabled {
		if len(c.PushAuth.Audiences) == 0 {
			return fmt.Errorf("PUSH_AUTH_AUDIENCES is required when push auth is enabled")
		}
		if c.PushAuth.JWKSURL == "" {
			return fmt.Errorf("PUSH_AUTH_JWKS_URL is required when push auth is enabled")
		}
	}

	switch c.Storage.Backend {
	case StorageBackendMemory, StorageBackendFilesystem:
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}

	if c.Retention.DefaultLimit <= 0 || c.Retention.MaxLimit < c.Retention.DefaultLimit {
		return fmt.Errorf("retention limits are invalid: default=%d max=%d", c.Retention.DefaultLimit, c.Retention.MaxLimit)
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Validate checks the auth settings for internal consistency
func (a *AuthConfig) Validate() error {
	if len(a.Algorithms) == 0 {
		return fmt.Errorf("AUTH_ALGORITHMS must list at least one algorithm")
	}
	for _, alg := range a.Algorithms {
		if alg != AlgorithmHS256 && alg != AlgorithmRS256 {
			return fmt.Errorf("unsupported auth algorithm: %s", alg)
		}
	}
	if !a.Enabled {
		return nil
	}
	if a.AllowsAlgorithm(AlgorithmHS256) && a.SharedSecret == "" && !a.AllowsAlgorithm(AlgorithmRS256) {
		return fmt.Errorf("AUTH_JWT_SHARED_SECRET is required for HS256")
	}
	if a.AllowsAlgorithm(AlgorithmRS256) && a.JWKSURL == "" && a.Issuer == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_ISSUER is required for RS256")
	}
	return nil
}

// AllowsAlgorithm reports whether alg is in the configured algorithm list
func (a *AuthConfig) AllowsAlgorithm(alg string) bool {
	for _, candidate := range a.Algorithms {
		if candidate == alg {
			return true
		}
	}
	return false
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "audit_password"),
		Database:        getEnv("DB_NAME", "audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// normalizeAlgorithms upper-cases and de-duplicates algorithm names
func normalizeAlgorithms(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		alg := strings.ToUpper(v)
		if _, ok := seen[alg]; ok {
			continue
		}
		seen[alg] = struct{}{}
		out = append(out, alg)
	}
	return out
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
