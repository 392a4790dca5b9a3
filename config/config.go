package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	AWS       AWSConfig
	Worker    WorkerConfig
	Ingest    IngestConfig
	Accounts  AccountsConfig
	Reaper    ReaperConfig
	Operator  OperatorConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderConfig holds source conferencing provider API settings.
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	WebhookSecret  string // HMAC secret for inbound recording webhooks
	RequestTimeout time.Duration
}

// AWSConfig holds AWS credentials and the durable recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PublicPlayback       bool // public-read objects vs presigned URLs
	PresignExpireMinutes int
}

// WorkerConfig parameterizes the migration worker pool and its retry policy.
type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// IngestConfig holds reconciliation poll settings for missed webhooks.
type IngestConfig struct {
	PollInterval time.Duration // 0 disables the background poll
	PollWindow   time.Duration // trailing window of ended sessions to check
}

// AccountsConfig holds pool reconciliation settings.
type AccountsConfig struct {
	ReconcileInterval time.Duration // 0 disables the sweep
}

// ReaperConfig holds the optional scheduled sweep; 0 means operator-only.
type ReaperConfig struct {
	SweepInterval time.Duration
	SweepLimit    int
}

// OperatorConfig authenticates operator API calls.
type OperatorConfig struct {
	APIKeyHash string // bcrypt hash of the operator bearer key
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "school"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("PROVIDER_BASE_URL", "https://api.zoom.us/v2"),
			APIKey:         getEnv("PROVIDER_API_KEY", ""),
			APISecret:      getEnv("PROVIDER_API_SECRET", ""),
			WebhookSecret:  getEnv("PROVIDER_WEBHOOK_SECRET", ""),
			RequestTimeout: getEnvDuration("PROVIDER_TIMEOUT_SEC", 60),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "school-recordings-bucket"),
			PublicPlayback:       getEnvBool("S3_PUBLIC_PLAYBACK", false),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 4),
			MaxAttempts: getEnvInt("WORKER_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvDuration("WORKER_BACKOFF_BASE_SEC", 10),
			BackoffMax:  getEnvDuration("WORKER_BACKOFF_MAX_SEC", 600),
		},
		Ingest: IngestConfig{
			PollInterval: getEnvDuration("INGEST_POLL_INTERVAL_SEC", 900),
			PollWindow:   time.Duration(getEnvInt("INGEST_POLL_WINDOW_HOURS", 24)) * time.Hour,
		},
		Accounts: AccountsConfig{
			ReconcileInterval: getEnvDuration("ACCOUNT_RECONCILE_INTERVAL_SEC", 300),
		},
		Reaper: ReaperConfig{
			SweepInterval: getEnvDuration("REAPER_SWEEP_INTERVAL_SEC", 0),
			SweepLimit:    getEnvInt("REAPER_SWEEP_LIMIT", 100),
		},
		Operator: OperatorConfig{
			APIKeyHash: getEnv("OPERATOR_API_KEY_HASH", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallbackSec int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSec)) * time.Second
}
