package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Game server
	IPVersion  string `env:"AVIATOR_IP_VERSION" default:"v4"`
	Port       int    `env:"AVIATOR_PORT" default:"51511"`
	MaxPlayers int    `env:"AVIATOR_MAX_PLAYERS" default:"10"`

	// Admin / spectator HTTP server, 0 disables it
	AdminHTTPPort int `env:"ADMIN_HTTP_PORT" default:"8090"`

	// Sessions
	SessionIdleTimeout  time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"5m"`
	SessionWriteTimeout time.Duration `env:"SESSION_WRITE_TIMEOUT" default:"2s"`
	SessionRateLimit    float64       `env:"SESSION_RATE_LIMIT" default:"10"`
	SessionRateBurst    int           `env:"SESSION_RATE_BURST" default:"20"`

	// Round timing and economics
	BettingSeconds    int             `env:"GAME_BETTING_SECONDS" default:"10"`
	CountdownTick     time.Duration   `env:"GAME_COUNTDOWN_TICK" default:"1s"`
	FlightTick        time.Duration   `env:"GAME_FLIGHT_TICK" default:"100ms"`
	MultiplierStep    decimal.Decimal `env:"GAME_MULTIPLIER_STEP" default:"0.01"`
	RoundPause        time.Duration   `env:"GAME_ROUND_PAUSE" default:"10s"`
	StakeFactor       decimal.Decimal `env:"GAME_STAKE_FACTOR" default:"0.01"`
	ExplosionExponent float64         `env:"GAME_EXPLOSION_EXPONENT" default:"0.5"`

	// Round history (audit only, never read back on startup)
	RedisURL             string        `env:"REDIS_URL"`
	RedisPassword        string        `env:"REDIS_PASSWORD"`
	DatabaseURL          string        `env:"DATABASE_URL"`
	HistoryBatchInterval time.Duration `env:"HISTORY_BATCH_INTERVAL" default:"30s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`
}

// LoadConfig loads configuration from a .env file (if any) and the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// A missing .env is normal, a malformed one is worth a note
		slog.Warn("env_file_not_loaded", "error", err)
	}

	config := &Config{}

	loadEnvString(&config.GoEnv, "GO_ENV", "development")

	// Game server
	loadEnvString(&config.IPVersion, "AVIATOR_IP_VERSION", "v4")
	if err := loadEnvInt(&config.Port, "AVIATOR_PORT", 51511); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxPlayers, "AVIATOR_MAX_PLAYERS", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AdminHTTPPort, "ADMIN_HTTP_PORT", 8090); err != nil {
		return nil, err
	}

	// Sessions
	if err := loadEnvDuration(&config.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.SessionWriteTimeout, "SESSION_WRITE_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.SessionRateLimit, "SESSION_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.SessionRateBurst, "SESSION_RATE_BURST", 20); err != nil {
		return nil, err
	}

	// Round timing and economics
	if err := loadEnvInt(&config.BettingSeconds, "GAME_BETTING_SECONDS", 10); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.CountdownTick, "GAME_COUNTDOWN_TICK", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.FlightTick, "GAME_FLIGHT_TICK", 100*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvDecimal(&config.MultiplierStep, "GAME_MULTIPLIER_STEP", "0.01"); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RoundPause, "GAME_ROUND_PAUSE", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDecimal(&config.StakeFactor, "GAME_STAKE_FACTOR", "0.01"); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.ExplosionExponent, "GAME_EXPLOSION_EXPONENT", 0.5); err != nil {
		return nil, err
	}

	// Round history
	loadEnvString(&config.RedisURL, "REDIS_URL", "")
	loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", "")
	loadEnvString(&config.DatabaseURL, "DATABASE_URL", "")
	if err := loadEnvDuration(&config.HistoryBatchInterval, "HISTORY_BATCH_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	// Logging
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "text")
	loadEnvString(&config.LogFile, "LOG_FILE", "")

	return config, nil
}

// Helper functions for type conversion
func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDecimal(target *decimal.Decimal, key, defaultValue string) error {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("invalid decimal value for %s: %w", key, err)
	}
	*target = parsed
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.IPVersion != "v4" && c.IPVersion != "v6" {
		errors = append(errors, "AVIATOR_IP_VERSION must be v4 or v6")
	}
	if c.Port < 1 || c.Port > 65535 {
		errors = append(errors, "AVIATOR_PORT must be between 1 and 65535")
	}
	if c.MaxPlayers < 1 {
		errors = append(errors, "AVIATOR_MAX_PLAYERS must be at least 1")
	}
	if c.AdminHTTPPort < 0 || c.AdminHTTPPort > 65535 {
		errors = append(errors, "ADMIN_HTTP_PORT must be between 0 and 65535")
	}

	if c.SessionIdleTimeout <= 0 || c.SessionWriteTimeout <= 0 {
		errors = append(errors, "SESSION_IDLE_TIMEOUT and SESSION_WRITE_TIMEOUT must be positive")
	}
	if c.SessionRateLimit <= 0 || c.SessionRateBurst < 1 {
		errors = append(errors, "SESSION_RATE_LIMIT must be positive and SESSION_RATE_BURST at least 1")
	}

	if c.BettingSeconds < 1 {
		errors = append(errors, "GAME_BETTING_SECONDS must be at least 1")
	}
	if c.CountdownTick <= 0 || c.FlightTick <= 0 || c.RoundPause < 0 {
		errors = append(errors, "GAME_COUNTDOWN_TICK and GAME_FLIGHT_TICK must be positive, GAME_ROUND_PAUSE not negative")
	}
	if !c.MultiplierStep.IsPositive() {
		errors = append(errors, "GAME_MULTIPLIER_STEP must be positive")
	}
	if c.StakeFactor.IsNegative() || c.ExplosionExponent <= 0 {
		errors = append(errors, "GAME_STAKE_FACTOR must not be negative and GAME_EXPLOSION_EXPONENT must be positive")
	}
	if c.HistoryBatchInterval <= 0 {
		errors = append(errors, "HISTORY_BATCH_INTERVAL must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// ListenNetwork maps the IP version selector to a net.Listen network.
func (c *Config) ListenNetwork() string {
	if c.IPVersion == "v6" {
		return "tcp6"
	}
	return "tcp4"
}

// ListenAddr is the wildcard address of the selected family on Port.
func (c *Config) ListenAddr() string {
	host := "0.0.0.0"
	if c.IPVersion == "v6" {
		host = "::"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// AdminAddr is empty when the admin server is disabled.
func (c *Config) AdminAddr() string {
	if c.AdminHTTPPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.AdminHTTPPort)
}

// RedisAddr strips the scheme from REDIS_URL, go-redis wants host:port.
func (c *Config) RedisAddr() string {
	addr := strings.TrimPrefix(c.RedisURL, "redis://")
	return strings.TrimPrefix(addr, "rediss://")
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
