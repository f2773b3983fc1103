package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Dispatch    DispatchConfig
	Worker      WorkerConfig
	Credentials CredentialsConfig
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
	URL             string // if set, used as-is (e.g. postgres://localhost:5432/emailez?sslmode=disable)
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxConnLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds the S3 body archive settings. An empty BodiesBucket disables the archive.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BodiesBucket    string
	S3Endpoint      string
}

// DispatchConfig holds send pipeline settings.
type DispatchConfig struct {
	MaxRetries int
	// SMTPInsecureSkipVerify disables certificate checks for SMTP TLS. Local development only.
	SMTPInsecureSkipVerify bool
}

// WorkerConfig holds background runner settings.
type WorkerConfig struct {
	Concurrency         int
	PromoteInterval     time.Duration
	OutboxSweepInterval time.Duration
	OutboxGrace         time.Duration
	OutboxBatch         int
	MetricsPort         string
}

// CredentialsConfig holds the master secret SMTP passwords are encrypted under.
type CredentialsConfig struct {
	Secret string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// ArchiveEnabled reports whether full bodies are archived to S3.
func (c AWSConfig) ArchiveEnabled() bool {
	return c.BodiesBucket != ""
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "emailez"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			BodiesBucket:    getEnv("AWS_S3_BODIES_BUCKET", ""),
			S3Endpoint:      getEnv("AWS_S3_ENDPOINT", ""),
		},
		Dispatch: DispatchConfig{
			MaxRetries:             getEnvInt("DISPATCH_MAX_RETRIES", 3),
			SMTPInsecureSkipVerify: getEnvBool("SMTP_INSECURE_SKIP_VERIFY", false),
		},
		Worker: WorkerConfig{
			Concurrency:         getEnvInt("WORKER_CONCURRENCY", 4),
			PromoteInterval:     getEnvDuration("WORKER_PROMOTE_INTERVAL", time.Second),
			OutboxSweepInterval: getEnvDuration("WORKER_OUTBOX_SWEEP_INTERVAL", 30*time.Second),
			OutboxGrace:         getEnvDuration("WORKER_OUTBOX_GRACE", time.Minute),
			OutboxBatch:         getEnvInt("WORKER_OUTBOX_BATCH", 100),
			MetricsPort:         getEnv("WORKER_METRICS_PORT", "9091"),
		},
		Credentials: CredentialsConfig{
			Secret: getEnv("CREDENTIALS_SECRET", ""),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Credentials.Secret == "" {
		return errors.New("CREDENTIALS_SECRET is required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Dispatch.MaxRetries < 1 {
		return fmt.Errorf("DISPATCH_MAX_RETRIES must be at least 1, got %d", c.Dispatch.MaxRetries)
	}
	return nil
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
