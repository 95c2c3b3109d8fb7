package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-prod"

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Mail      MailConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port        int
	Env         string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	ResetTTL  time.Duration

	// Seeded when the users table is empty
	DefaultAdminEmail    string
	DefaultAdminPassword string

	// Base URL used to build password reset links
	FrontendURL string
}

// RedisConfig configures the statistics cache.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	StatsTTL time.Duration
}

// StorageConfig configures where profile and cover images go.
type StorageConfig struct {
	// Backend: "gcs" or "local"
	Backend         string
	Bucket          string
	CredentialsFile string
	LocalDir        string
	PublicBaseURL   string
	MaxImageBytes   int64
}

type MailConfig struct {
	// Provider: "console" or "sendgrid"
	Provider  string
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
}

type LogConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	LoginRPS   int
	LoginBurst int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the process win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvInt("SERVER_PORT", 8080),
			Env:         getEnv("ENV", "development"),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "psique"),
			Password: getEnv("DB_PASSWORD", "psique"),
			Database: getEnv("DB_NAME", "psique"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", true),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret:            getEnv("JWT_SECRET", devJWTSecret),
			TokenTTL:             getEnvDuration("JWT_TTL", 24*time.Hour),
			ResetTTL:             getEnvDuration("RESET_TOKEN_TTL", time.Hour),
			DefaultAdminEmail:    getEnv("DEFAULT_ADMIN_EMAIL", "admin@system.com"),
			DefaultAdminPassword: getEnv("DEFAULT_ADMIN_PASSWORD", "password_seguro_default_123"),
			FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:5173"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			StatsTTL: getEnvDuration("STATS_CACHE_TTL", 2*time.Minute),
		},
		Storage: StorageConfig{
			Backend:         getEnv("STORAGE_BACKEND", "local"),
			Bucket:          getEnv("GCS_BUCKET", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			LocalDir:        getEnv("STORAGE_LOCAL_DIR", "uploads"),
			PublicBaseURL:   getEnv("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/uploads"),
			MaxImageBytes:   int64(getEnvInt("STORAGE_MAX_IMAGE_BYTES", 5*1024*1024)),
		},
		Mail: MailConfig{
			Provider:  getEnv("MAIL_PROVIDER", "console"),
			APIKey:    getEnv("SENDGRID_API_KEY", ""),
			BaseURL:   getEnv("SENDGRID_BASE_URL", "https://api.sendgrid.com"),
			FromEmail: getEnv("MAIL_FROM_EMAIL", "no-reply@psique.local"),
			FromName:  getEnv("MAIL_FROM_NAME", "Psique"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		RateLimit: RateLimitConfig{
			LoginRPS:   getEnvInt("LOGIN_RATE_RPS", 1),
			LoginBurst: getEnvInt("LOGIN_RATE_BURST", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted safely.
func (c *Config) Validate() error {
	if c.Server.Env == "production" && c.Auth.JWTSecret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	switch c.Storage.Backend {
	case "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Mail.Provider == "sendgrid" && c.Mail.APIKey == "" {
		return fmt.Errorf("SENDGRID_API_KEY is required when MAIL_PROVIDER=sendgrid")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
