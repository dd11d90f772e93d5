package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config holds the application configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" default:"development"`
	ServerPort  int    `env:"SERVER_PORT" default:"8080"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	DatabaseURL        string        `env:"DATABASE_URL"`
	DBMaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime  time.Duration `env:"DB_CONN_MAX_LIFETIME" default:"5m"`
	DBConnectAttempts  int           `env:"DB_CONNECT_ATTEMPTS" default:"5"`
	RedisURL           string        `env:"REDIS_URL" default:"redis://localhost:6379"`
	OTLPEndpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	FeatureFlags       string        `env:"FEATURE_FLAGS"`
	SubscriptionSweep  time.Duration `env:"SUBSCRIPTION_SWEEP_INTERVAL" default:"1m"`
	DomainIndexTimeout time.Duration `env:"DOMAIN_INDEX_BREAKER_TIMEOUT" default:"30s"`

	JWTSecret            string        `env:"JWT_SECRET"`
	TokenTTL             time.Duration `env:"TOKEN_TTL" default:"15m"`
	LoginMaxAttempts     int           `env:"LOGIN_MAX_ATTEMPTS" default:"5"`
	LoginLockoutDuration time.Duration `env:"LOGIN_LOCKOUT_DURATION" default:"15m"`
	LoginThrottleLimit   int           `env:"LOGIN_THROTTLE_LIMIT" default:"20"`
	LoginThrottleWindow  time.Duration `env:"LOGIN_THROTTLE_WINDOW" default:"1m"`
	PasswordMinLength    int           `env:"PASSWORD_MIN_LENGTH" default:"8"`
	BcryptCost           int           `env:"BCRYPT_COST" default:"10"`

	APIRateLimit  int           `env:"API_RATE_LIMIT" default:"100"`
	APIRateWindow time.Duration `env:"API_RATE_WINDOW" default:"1m"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if cfg.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	if cfg.LoginMaxAttempts < 1 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be at least 1, got %d", cfg.LoginMaxAttempts)
	}
	if cfg.LoginLockoutDuration < 0 {
		return errors.New("LOGIN_LOCKOUT_DURATION must not be negative")
	}
	if cfg.LoginThrottleLimit < 1 || cfg.LoginThrottleWindow <= 0 {
		return errors.New("LOGIN_THROTTLE_LIMIT and LOGIN_THROTTLE_WINDOW must be positive")
	}
	if cfg.APIRateLimit < 1 || cfg.APIRateWindow <= 0 {
		return errors.New("API_RATE_LIMIT and API_RATE_WINDOW must be positive")
	}
	if cfg.PasswordMinLength < 8 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be at least 8, got %d", cfg.PasswordMinLength)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", cfg.BcryptCost)
	}
	if cfg.SubscriptionSweep <= 0 {
		return errors.New("SUBSCRIPTION_SWEEP_INTERVAL must be positive")
	}
	if cfg.DBConnectAttempts < 1 {
		return errors.New("DB_CONNECT_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
