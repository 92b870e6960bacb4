package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/platinummonkey/docmeter/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Stripe        StripeConfig
	Analytics     AnalyticsConfig
	Upstream      UpstreamConfig
	SMTP          SMTPConfig
	S3            S3Config
	Chatbot       ChatbotConfig
	Jobs          JobsConfig
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
	// ClientURL is the web client origin used for checkout redirects and CORS
	ClientURL      string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	// AutoMigrate applies pending schema migrations at startup
	AutoMigrate bool
}

// RedisConfig holds Redis configuration. An empty URL disables Redis-backed
// features (rate limiting, job locks).
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// StripeConfig holds payment processor configuration
type StripeConfig struct {
	APIKey            string
	WebhookSecret     string
	CustomerPortalURL string
	HobbyPriceID      string
	ProPriceID        string
	Credits10PriceID  string
	// PlansFile optionally points at a YAML plan registry overriding the price IDs above
	PlansFile      string
	RequestTimeout time.Duration
	MaxRetries     int64
	// DedupWebhooks claims each event ID before processing so redeliveries are skipped
	DedupWebhooks bool
}

// AnalyticsConfig holds the Plausible analytics API configuration
type AnalyticsConfig struct {
	APIKey  string
	SiteID  string
	BaseURL string
	Timeout time.Duration
}

// UpstreamConfig holds the document-analysis service configuration
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is requests per RateWindow per caller; 0 disables limiting
	RateLimit  int
	RateWindow time.Duration
}

// SMTPConfig holds outbound email configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether SMTP is configured
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// ChatbotConfig holds the OpenAI chat completion configuration
type ChatbotConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Enabled reports whether the chatbot is configured
func (c ChatbotConfig) Enabled() bool {
	return c.APIKey != ""
}

// S3Config holds file storage configuration
type S3Config struct {
	Region       string
	Bucket       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	URLExpiry    time.Duration
}

// Enabled reports whether file storage is configured
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// JobsConfig holds job queue and scheduler configuration
type JobsConfig struct {
	Enabled          bool
	DailyStatsCron   string
	PollInterval     time.Duration
	Workers          int
	JobTimeout       time.Duration
	ExpireActiveJobs time.Duration
	// RevenueSettleWindow is how far behind now the incremental revenue scan stops
	RevenueSettleWindow time.Duration
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
}

// LoadConfig loads configuration from the environment. A .env file in the
// working directory (or at DOCMETER_ENV_FILE) is loaded first; variables
// already set in the process environment win.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(getEnv("DOCMETER_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Stripe:        loadStripeConfig(),
		Analytics:     loadAnalyticsConfig(),
		Upstream:      loadUpstreamConfig(),
		SMTP:          loadSMTPConfig(),
		S3:            loadS3Config(),
		Chatbot:       loadChatbotConfig(),
		Jobs:          loadJobsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadServerConfig() ServerConfig {
	clientURL := strings.TrimRight(getEnv("WASP_WEB_CLIENT_URL", getEnv("DOCMETER_CLIENT_URL", "http://localhost:3000")), "/")
	return ServerConfig{
		Host:            getEnv("DOCMETER_HOST", "0.0.0.0"),
		Port:            getEnv("PORT", getEnv("DOCMETER_PORT", "3001")),
		ReadTimeout:     getEnvDuration("DOCMETER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DOCMETER_WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:     getEnvDuration("DOCMETER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DOCMETER_SHUTDOWN_TIMEOUT", 30*time.Second),
		ClientURL:       clientURL,
		AllowedOrigins:  getEnvList("DOCMETER_ALLOWED_ORIGINS", []string{clientURL}),
		MaxBodyBytes:    getEnvInt64("DOCMETER_MAX_BODY_BYTES", 50<<20),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("DATABASE_URL", ""),
		ReplicaURLs: getEnvList("DOCMETER_DATABASE_REPLICA_URLS", nil),
		MaxConns:    getEnvInt("DOCMETER_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("DOCMETER_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("DOCMETER_DATABASE_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("DOCMETER_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("DOCMETER_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		AutoMigrate: getEnvBool("DOCMETER_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("REDIS_URL", getEnv("DOCMETER_REDIS_URL", "")),
		Password:   getEnv("DOCMETER_REDIS_PASSWORD", ""),
		DB:         getEnvInt("DOCMETER_REDIS_DB", -1),
		MaxRetries: getEnvInt("DOCMETER_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("DOCMETER_REDIS_POOL_SIZE", 10),
	}
}

func loadStripeConfig() StripeConfig {
	return StripeConfig{
		APIKey:            getEnv("STRIPE_API_KEY", ""),
		WebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
		CustomerPortalURL: getEnv("STRIPE_CUSTOMER_PORTAL_URL", ""),
		HobbyPriceID:      getEnv("PAYMENTS_HOBBY_SUBSCRIPTION_PLAN_ID", ""),
		ProPriceID:        getEnv("PAYMENTS_PRO_SUBSCRIPTION_PLAN_ID", ""),
		Credits10PriceID:  getEnv("PAYMENTS_CREDITS_10_PLAN_ID", ""),
		PlansFile:         getEnv("DOCMETER_PLANS_FILE", ""),
		RequestTimeout:    getEnvDuration("DOCMETER_STRIPE_TIMEOUT", 30*time.Second),
		MaxRetries:        getEnvInt64("DOCMETER_STRIPE_MAX_RETRIES", 0),
		DedupWebhooks:     getEnvBool("DOCMETER_DEDUP_WEBHOOKS", true),
	}
}

func loadAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		APIKey:  getEnv("PLAUSIBLE_API_KEY", ""),
		SiteID:  getEnv("PLAUSIBLE_SITE_ID", ""),
		BaseURL: strings.TrimRight(getEnv("PLAUSIBLE_BASE_URL", "https://plausible.io/api"), "/"),
		Timeout: getEnvDuration("DOCMETER_ANALYTICS_TIMEOUT", 15*time.Second),
	}
}

func loadUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		BaseURL:    strings.TrimRight(getEnv("BASE_URL", "http://127.0.0.1:5001"), "/"),
		Timeout:    getEnvDuration("DOCMETER_UPSTREAM_TIMEOUT", 90*time.Second),
		RateLimit:  getEnvInt("DOCMETER_UPSTREAM_RATE_LIMIT", 60),
		RateWindow: getEnvDuration("DOCMETER_UPSTREAM_RATE_WINDOW", time.Minute),
	}
}

func loadSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     getEnvInt("SMTP_PORT", 587),
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("DOCMETER_EMAIL_FROM", "noreply@docmeter.local"),
	}
}

func loadS3Config() S3Config {
	return S3Config{
		Region:       getEnv("AWS_S3_REGION", "us-east-1"),
		Bucket:       getEnv("AWS_S3_FILES_BUCKET", ""),
		Endpoint:     getEnv("DOCMETER_S3_ENDPOINT", ""),
		AccessKey:    getEnv("AWS_S3_IAM_ACCESS_KEY", ""),
		SecretKey:    getEnv("AWS_S3_IAM_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("DOCMETER_S3_USE_PATH_STYLE", false),
		URLExpiry:    getEnvDuration("DOCMETER_S3_URL_EXPIRY", time.Hour),
	}
}

func loadChatbotConfig() ChatbotConfig {
	return ChatbotConfig{
		APIKey:  getEnv("OPENAI_API_KEY", ""),
		BaseURL: strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		Model:   getEnv("DOCMETER_CHATBOT_MODEL", "gpt-3.5-turbo"),
		Timeout: getEnvDuration("DOCMETER_CHATBOT_TIMEOUT", 60*time.Second),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		Enabled:             getEnvBool("DOCMETER_JOBS_ENABLED", true),
		DailyStatsCron:      getEnv("DOCMETER_DAILY_STATS_CRON", "0 * * * *"),
		PollInterval:        getEnvDuration("DOCMETER_JOBS_POLL_INTERVAL", 2*time.Second),
		Workers:             getEnvInt("DOCMETER_JOBS_WORKERS", 2),
		JobTimeout:          getEnvDuration("DOCMETER_JOBS_TIMEOUT", 10*time.Minute),
		ExpireActiveJobs:    getEnvDuration("DOCMETER_JOBS_EXPIRE_ACTIVE", 15*time.Minute),
		RevenueSettleWindow: getEnvDuration("DOCMETER_REVENUE_SETTLE_WINDOW", 5*time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("DOCMETER_LOG_LEVEL", "info"))),
		MetricsEnabled:     getEnvBool("DOCMETER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DOCMETER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DOCMETER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DOCMETER_OTEL_SERVICE_NAME", "docmeter"),
		OTelServiceVersion: getEnv("DOCMETER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DOCMETER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Stripe.APIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.Stripe.PlansFile == "" && (c.Stripe.HobbyPriceID == "" || c.Stripe.ProPriceID == "" || c.Stripe.Credits10PriceID == "") {
		return fmt.Errorf("price IDs for hobby, pro and credits10 plans are required when no plans file is set")
	}
	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("invalid BASE_URL %q: %w", c.Upstream.BaseURL, err)
	}
	if c.SMTP.Enabled() && (c.SMTP.Port <= 0 || c.SMTP.Port > 65535) {
		return fmt.Errorf("invalid SMTP_PORT %d", c.SMTP.Port)
	}
	if c.Chatbot.Enabled() && c.Chatbot.Model == "" {
		return fmt.Errorf("chatbot model is required when OPENAI_API_KEY is set")
	}
	if c.Jobs.Enabled && c.Jobs.DailyStatsCron == "" {
		return fmt.Errorf("daily stats cron expression is required when jobs are enabled")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs workers must be at least 1")
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

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
