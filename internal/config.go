package internal

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string // Empty selects in-memory stores

	// Public base URL of this service
	BaseURL string

	// Base URL embedded in instrumented email (pixel and click links).
	// Defaults to BaseURL.
	TrackingBaseURL string

	// Quota Configuration
	QuotaPolicyFile   string // Optional YAML replacing the built-in plan limits
	CounterMaxRetries int    // Compare-and-swap attempts per usage write
	CounterSweepEvery time.Duration

	// Request limits (per minute; 0 disables)
	TrackingRateLimitPerMin int
	APIRateLimitPerMin      int

	// Anonymous caller fingerprint key
	FingerprintSalt string

	// Engagement archive
	ArchiveEnabled       bool
	ArchiveBatchSize     int
	ArchiveBufferSize    int
	ArchiveFlushInterval time.Duration

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for archive batches

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional S3-compatible endpoint override

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "debug"),
		DatabaseUrl: getEnv("DATABASE_URL", ""),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		QuotaPolicyFile:   getEnv("QUOTA_POLICY_FILE", ""),
		CounterMaxRetries: getEnvInt("COUNTER_MAX_RETRIES", 8),
		CounterSweepEvery: getEnvDuration("COUNTER_SWEEP_INTERVAL", 10*time.Minute),

		TrackingRateLimitPerMin: getEnvInt("TRACKING_RATE_LIMIT_PER_MIN", 120),
		APIRateLimitPerMin:      getEnvInt("API_RATE_LIMIT_PER_MIN", 600),

		FingerprintSalt: getEnv("FINGERPRINT_SALT", ""),

		ArchiveEnabled:       getEnvBool("ARCHIVE_ENABLED", false),
		ArchiveBatchSize:     getEnvInt("ARCHIVE_BATCH_SIZE", 500),
		ArchiveBufferSize:    getEnvInt("ARCHIVE_BUFFER_SIZE", 10000),
		ArchiveFlushInterval: getEnvDuration("ARCHIVE_FLUSH_INTERVAL", 30*time.Second),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	cfg.TrackingBaseURL = getEnv("TRACKING_BASE_URL", cfg.BaseURL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	// Tracking links end up in recipients' inboxes
	u, err := url.Parse(cfg.TrackingBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("TRACKING_BASE_URL must be an absolute http(s) URL, got: %q", cfg.TrackingBaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("TRACKING_BASE_URL must not carry a query or fragment")
	}

	if cfg.CounterMaxRetries < 1 {
		return fmt.Errorf("COUNTER_MAX_RETRIES must be at least 1, got: %d", cfg.CounterMaxRetries)
	}

	if cfg.Env == "production" && cfg.FingerprintSalt == "" {
		return fmt.Errorf("FINGERPRINT_SALT is required in production")
	}

	if !cfg.ArchiveEnabled {
		return nil
	}

	if cfg.ArchiveBatchSize < 1 {
		return fmt.Errorf("ARCHIVE_BATCH_SIZE must be at least 1, got: %d", cfg.ArchiveBatchSize)
	}
	if cfg.ArchiveBufferSize < cfg.ArchiveBatchSize {
		return fmt.Errorf("ARCHIVE_BUFFER_SIZE must be at least ARCHIVE_BATCH_SIZE")
	}
	if cfg.ArchiveFlushInterval <= 0 {
		return fmt.Errorf("ARCHIVE_FLUSH_INTERVAL must be positive")
	}

	// Validate storage configuration
	switch cfg.StorageProvider {
	case "r2":
		if cfg.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	case "local":
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
