package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Rollup backends supported by the service.
const (
	RollupBackendPostgres = "postgres"
	RollupBackendRedis    = "redis"
	RollupBackendMemory   = "memory"
)

// Config holds all configuration for the email analytics service.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Webhook     WebhookConfig
	Storage     StorageConfig
	Query       QueryConfig
	Reconcile   ReconcileConfig
	Diagnostics DiagnosticsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	// Migrate applies the embedded schema on startup.
	Migrate bool
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	// Ingest limits apply to /webhooks/ and /diagnostics/.
	IngestRPS   float64
	IngestBurst int
	APIRPS      float64
	APIBurst    int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// WebhookConfig configures signature verification for provider webhooks.
type WebhookConfig struct {
	// Secret is the shared HMAC secret used when a provider has no override.
	Secret string
	// ProviderSecrets maps provider name to its own secret.
	ProviderSecrets map[string]string
	SignatureHeader string
}

// StorageConfig bounds every storage call.
type StorageConfig struct {
	RollupBackend string
	CallTimeout   time.Duration
	MaxAttempts   int
	// InitialBackoff and MaxBackoff shape the exponential retry schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// FallbackToMemory lets development runs continue without Postgres/Redis.
	FallbackToMemory bool
}

// QueryConfig limits analytics queries.
type QueryConfig struct {
	MaxRangeDays      int
	DefaultWindowDays int
	CampaignBatchSize int
	MaxCampaignIDs    int
}

// ReconcileConfig drives the periodic reconcile worker.
type ReconcileConfig struct {
	Enabled  bool
	Interval time.Duration
	Lookback int // days, including today
}

// DiagnosticsConfig gates the unsigned test ingestion route.
type DiagnosticsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables with sensible defaults
// and validates it for serving.
func Load() (*Config, error) {
	cfg := read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMaintenance reads configuration for offline tools, which need storage
// and query settings but no API key or webhook secret.
func LoadMaintenance() (*Config, error) {
	cfg := read()
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            getEnv("EMAIL_ANALYTICS_HTTP_ADDR", ":8080"),
			Env:             getEnv("EMAIL_ANALYTICS_ENV", "development"),
			ShutdownTimeout: getDurationEnv("EMAIL_ANALYTICS_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    int64(getIntEnv("EMAIL_ANALYTICS_MAX_BODY_BYTES", 5<<20)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("EMAIL_ANALYTICS_DB_HOST", "localhost"),
			Port:     getIntEnv("EMAIL_ANALYTICS_DB_PORT", 5432),
			User:     getEnv("EMAIL_ANALYTICS_DB_USER", "analytics"),
			Password: getEnv("EMAIL_ANALYTICS_DB_PASSWORD", "analytics_secret"),
			DBName:   getEnv("EMAIL_ANALYTICS_DB_NAME", "email_analytics"),
			SSLMode:  getEnv("EMAIL_ANALYTICS_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("EMAIL_ANALYTICS_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("EMAIL_ANALYTICS_DB_MIN_CONNS", 5),
			Migrate:  getBoolEnv("EMAIL_ANALYTICS_DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:      getEnv("EMAIL_ANALYTICS_REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("EMAIL_ANALYTICS_REDIS_PASSWORD", ""),
			DB:        getIntEnv("EMAIL_ANALYTICS_REDIS_DB", 0),
			KeyPrefix: getEnv("EMAIL_ANALYTICS_REDIS_KEY_PREFIX", "email:rollup"),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("EMAIL_ANALYTICS_AUTH_ENABLED", true),
			MasterKey: getEnv("EMAIL_ANALYTICS_API_KEY", ""),
			SkipPaths: getSliceEnv("EMAIL_ANALYTICS_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/webhooks/"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("EMAIL_ANALYTICS_RATE_LIMIT_ENABLED", true),
			IngestRPS:   getFloatEnv("EMAIL_ANALYTICS_RATE_LIMIT_INGEST_RPS", 2000),
			IngestBurst: getIntEnv("EMAIL_ANALYTICS_RATE_LIMIT_INGEST_BURST", 500),
			APIRPS:      getFloatEnv("EMAIL_ANALYTICS_RATE_LIMIT_API_RPS", 100),
			APIBurst:    getIntEnv("EMAIL_ANALYTICS_RATE_LIMIT_API_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("EMAIL_ANALYTICS_LOG_LEVEL", "info"),
			Format: getEnv("EMAIL_ANALYTICS_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("EMAIL_ANALYTICS_METRICS_ENABLED", true),
			Path:      getEnv("EMAIL_ANALYTICS_METRICS_PATH", "/metrics"),
			Namespace: getEnv("EMAIL_ANALYTICS_METRICS_NAMESPACE", "email_analytics"),
		},
		Webhook: WebhookConfig{
			Secret:          getEnv("EMAIL_ANALYTICS_WEBHOOK_SECRET", ""),
			ProviderSecrets: getMapEnv("EMAIL_ANALYTICS_WEBHOOK_PROVIDER_SECRETS"),
			SignatureHeader: getEnv("EMAIL_ANALYTICS_WEBHOOK_SIGNATURE_HEADER", "X-Webhook-Signature"),
		},
		Storage: StorageConfig{
			RollupBackend:    getEnv("EMAIL_ANALYTICS_ROLLUP_BACKEND", RollupBackendPostgres),
			CallTimeout:      getDurationEnv("EMAIL_ANALYTICS_STORAGE_TIMEOUT", 3*time.Second),
			MaxAttempts:      getIntEnv("EMAIL_ANALYTICS_STORAGE_MAX_ATTEMPTS", 5),
			InitialBackoff:   getDurationEnv("EMAIL_ANALYTICS_STORAGE_INITIAL_BACKOFF", 50*time.Millisecond),
			MaxBackoff:       getDurationEnv("EMAIL_ANALYTICS_STORAGE_MAX_BACKOFF", 2*time.Second),
			FallbackToMemory: getBoolEnv("EMAIL_ANALYTICS_STORAGE_FALLBACK_MEMORY", false),
		},
		Query: QueryConfig{
			MaxRangeDays:      getIntEnv("EMAIL_ANALYTICS_QUERY_MAX_RANGE_DAYS", 366),
			DefaultWindowDays: getIntEnv("EMAIL_ANALYTICS_QUERY_DEFAULT_WINDOW_DAYS", 7),
			CampaignBatchSize: getIntEnv("EMAIL_ANALYTICS_QUERY_CAMPAIGN_BATCH_SIZE", 500),
			MaxCampaignIDs:    getIntEnv("EMAIL_ANALYTICS_QUERY_MAX_CAMPAIGN_IDS", 10000),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getBoolEnv("EMAIL_ANALYTICS_RECONCILE_ENABLED", true),
			Interval: getDurationEnv("EMAIL_ANALYTICS_RECONCILE_INTERVAL", 15*time.Minute),
			Lookback: getIntEnv("EMAIL_ANALYTICS_RECONCILE_LOOKBACK_DAYS", 3),
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: getBoolEnv("EMAIL_ANALYTICS_DIAGNOSTICS_ENABLED", false),
		},
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("EMAIL_ANALYTICS_API_KEY is required when auth is enabled")
	}
	if c.Webhook.Secret == "" && len(c.Webhook.ProviderSecrets) == 0 {
		return fmt.Errorf("EMAIL_ANALYTICS_WEBHOOK_SECRET or EMAIL_ANALYTICS_WEBHOOK_PROVIDER_SECRETS is required")
	}
	return c.ValidateStorage()
}

// ValidateStorage checks the storage, query and reconcile settings.
func (c *Config) ValidateStorage() error {
	switch c.Storage.RollupBackend {
	case RollupBackendPostgres, RollupBackendRedis, RollupBackendMemory:
	default:
		return fmt.Errorf("unsupported rollup backend %q", c.Storage.RollupBackend)
	}
	if c.Storage.MaxAttempts < 1 {
		return fmt.Errorf("EMAIL_ANALYTICS_STORAGE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Storage.CallTimeout <= 0 {
		return fmt.Errorf("EMAIL_ANALYTICS_STORAGE_TIMEOUT must be positive")
	}
	if c.Query.MaxRangeDays < 1 || c.Query.DefaultWindowDays < 1 {
		return fmt.Errorf("query range limits must be positive")
	}
	if c.Query.DefaultWindowDays > c.Query.MaxRangeDays {
		return fmt.Errorf("default query window exceeds max range")
	}
	if c.Query.CampaignBatchSize < 1 {
		return fmt.Errorf("EMAIL_ANALYTICS_QUERY_CAMPAIGN_BATCH_SIZE must be positive")
	}
	if c.Reconcile.Enabled && (c.Reconcile.Interval <= 0 || c.Reconcile.Lookback < 1) {
		return fmt.Errorf("reconcile interval and lookback must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}

// getMapEnv parses "name=value,name2=value2" pairs. Malformed pairs are skipped.
func getMapEnv(key string) map[string]string {
	result := make(map[string]string)
	for _, pair := range getSliceEnv(key, nil) {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		result[name] = value
	}
	return result
}
