package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/paywall/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Document store configuration
	Store StoreConfig

	// Redis / cache configuration
	Cache CacheConfig

	// Payment gateway configuration
	Stripe StripeConfig

	// Billing configuration
	Billing BillingConfig

	// Email configuration
	Email EmailConfig

	// Outbound event webhook configuration
	Events EventsConfig

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

	// HMAC secret used to verify bearer identity tokens
	AuthSecret string

	// Per-client rate limit for API endpoints
	RateLimitPerMinute int
}

// StoreConfig holds document store configuration
type StoreConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
}

// CacheConfig holds Redis and in-process cache configuration
type CacheConfig struct {
	Enabled         bool
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisPoolSize   int
	L1Size          int
	SubscriptionTTL time.Duration
}

// StripeConfig holds payment gateway configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string
	Timeout       time.Duration
}

// BillingConfig holds product and entitlement configuration
type BillingConfig struct {
	// Base URL used to build upgrade links, e.g. https://app.example.com
	UpgradeBaseURL string

	// Lifetime premium price in cents
	LifetimePriceCents int64
	Currency           string

	// Sliding window after a subscription lapses during which premium
	// features keep working
	GracePeriodDays int

	// How often the background sweep removes expired grace periods
	GraceSweepSchedule string
}

// EmailConfig holds SMTP configuration for booking notifications
type EmailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromAddress  string
	AdminAddress string
}

// EventsConfig holds outbound event webhook configuration. Payment
// events are mirrored to every listed URL, signed with the shared
// secret.
type EventsConfig struct {
	WebhookURLs   []string
	WebhookSecret string

	// How often failed deliveries are retried
	RetryInterval time.Duration
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

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Cache:         loadCacheConfig(),
		Stripe:        loadStripeConfig(),
		Billing:       loadBillingConfig(),
		Email:         loadEmailConfig(),
		Events:        loadEventsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:               getEnv("PAYWALL_HOST", "0.0.0.0"),
		Port:               getEnv("PAYWALL_PORT", "8080"),
		ReadTimeout:        getEnvDuration("PAYWALL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("PAYWALL_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:        getEnvDuration("PAYWALL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:    getEnvDuration("PAYWALL_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:         getEnv("PAYWALL_HEALTH_PORT", "9090"),
		AuthSecret:         getEnv("PAYWALL_AUTH_SECRET", ""),
		RateLimitPerMinute: getEnvInt("PAYWALL_RATE_LIMIT_PER_MINUTE", 120),
	}
}

// loadStoreConfig loads document store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		PostgresURL:      getEnv("PAYWALL_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("PAYWALL_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("PAYWALL_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("PAYWALL_POSTGRES_TIMEOUT", 30*time.Second),
	}
}

// loadCacheConfig loads Redis and cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:         getEnvBool("PAYWALL_CACHE_ENABLED", true),
		RedisURL:        getEnv("PAYWALL_REDIS_URL", "localhost:6379"),
		RedisPassword:   getEnv("PAYWALL_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("PAYWALL_REDIS_DB", 0),
		RedisPoolSize:   getEnvInt("PAYWALL_REDIS_POOL_SIZE", 10),
		L1Size:          getEnvInt("PAYWALL_L1_CACHE_SIZE", 4096),
		SubscriptionTTL: getEnvDuration("PAYWALL_SUBSCRIPTION_CACHE_TTL", 5*time.Minute),
	}
}

// loadStripeConfig loads payment gateway configuration from environment
func loadStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:     getEnv("PAYWALL_STRIPE_SECRET_KEY", ""),
		WebhookSecret: getEnv("PAYWALL_STRIPE_WEBHOOK_SECRET", ""),
		APIBaseURL:    getEnv("PAYWALL_STRIPE_API_BASE_URL", "https://api.stripe.com"),
		Timeout:       getEnvDuration("PAYWALL_STRIPE_TIMEOUT", 30*time.Second),
	}
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		UpgradeBaseURL:     getEnv("PAYWALL_UPGRADE_BASE_URL", "https://cvplus.com"),
		LifetimePriceCents: getEnvInt64("PAYWALL_LIFETIME_PRICE_CENTS", 4900),
		Currency:           getEnv("PAYWALL_CURRENCY", "usd"),
		GracePeriodDays:    getEnvInt("PAYWALL_GRACE_PERIOD_DAYS", 7),
		GraceSweepSchedule: getEnv("PAYWALL_GRACE_SWEEP_SCHEDULE", "0 * * * *"),
	}
}

// loadEmailConfig loads SMTP configuration from environment
func loadEmailConfig() EmailConfig {
	return EmailConfig{
		Enabled:      getEnvBool("PAYWALL_EMAIL_ENABLED", false),
		SMTPHost:     getEnv("PAYWALL_SMTP_HOST", ""),
		SMTPPort:     getEnvInt("PAYWALL_SMTP_PORT", 587),
		SMTPUsername: getEnv("PAYWALL_SMTP_USERNAME", ""),
		SMTPPassword: getEnv("PAYWALL_SMTP_PASSWORD", ""),
		FromAddress:  getEnv("PAYWALL_EMAIL_FROM", ""),
		AdminAddress: getEnv("PAYWALL_EMAIL_ADMIN", ""),
	}
}

// loadEventsConfig loads outbound event webhook configuration from environment
func loadEventsConfig() EventsConfig {
	return EventsConfig{
		WebhookURLs:   getEnvList("PAYWALL_EVENT_WEBHOOK_URLS"),
		WebhookSecret: getEnv("PAYWALL_EVENT_WEBHOOK_SECRET", ""),
		RetryInterval: getEnvDuration("PAYWALL_EVENT_WEBHOOK_RETRY_INTERVAL", 30*time.Second),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PAYWALL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PAYWALL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PAYWALL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PAYWALL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PAYWALL_OTEL_SERVICE_NAME", "paywall"),
		OTelServiceVersion: getEnv("PAYWALL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PAYWALL_OTEL_INSECURE", true),
	}
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
	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Server.AuthSecret == "" {
		return fmt.Errorf("auth secret is required")
	}

	// Validate store config
	if c.Store.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate payment gateway config
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}

	// Validate billing config
	u, err := url.Parse(c.Billing.UpgradeBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upgrade base URL %q is not an absolute URL", c.Billing.UpgradeBaseURL)
	}
	if c.Billing.LifetimePriceCents <= 0 {
		return fmt.Errorf("lifetime price must be positive")
	}
	if c.Billing.GracePeriodDays < 0 {
		return fmt.Errorf("grace period days must not be negative")
	}

	// Validate email config
	if c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP host is required when email is enabled")
		}
		if c.Email.FromAddress == "" {
			return fmt.Errorf("from address is required when email is enabled")
		}
		if c.Email.AdminAddress == "" {
			return fmt.Errorf("admin address is required when email is enabled")
		}
	}

	// Validate event webhook config
	if len(c.Events.WebhookURLs) > 0 && c.Events.WebhookSecret == "" {
		return fmt.Errorf("event webhook secret is required when webhook URLs are set")
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

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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
