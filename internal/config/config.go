package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	StrategyScript = "script"
	StrategyCAS    = "cas"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string `env:"APP_NAME" envDefault:"CongoCredits"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreBackend   string `env:"STORE_BACKEND" envDefault:"redis"`
	ChargeStrategy string `env:"CHARGE_STRATEGY" envDefault:"script"`

	RedisURL    string `env:"REDIS_URL"`
	RedisHost   string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort   int    `env:"REDIS_PORT" envDefault:"6379"`
	DatabaseURL string `env:"DATABASE_URL"`

	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
	CASMaxAttempts    int           `env:"CAS_MAX_ATTEMPTS" envDefault:"16"`
	CASBackoffInitial time.Duration `env:"CAS_BACKOFF_INITIAL" envDefault:"2ms"`
	CASBackoffMax     time.Duration `env:"CAS_BACKOFF_MAX" envDefault:"100ms"`

	DefaultBalance int64         `env:"DEFAULT_BALANCE" envDefault:"100"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.ChargeStrategy = strings.ToLower(cfg.ChargeStrategy)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendRedis:
		switch c.ChargeStrategy {
		case StrategyScript, StrategyCAS:
		default:
			return fmt.Errorf("invalid CHARGE_STRATEGY %q", c.ChargeStrategy)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=%s", BackendPostgres)
		}
	case BackendMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_BACKEND=%s is only allowed when APP_ENV is a development env", BackendMemory)
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.CASMaxAttempts < 1 {
		return fmt.Errorf("CAS_MAX_ATTEMPTS must be at least 1")
	}
	if c.DefaultBalance < 0 {
		return fmt.Errorf("DEFAULT_BALANCE must not be negative")
	}
	return nil
}

// RedisAddress returns the connection URL for the shared store. REDIS_URL wins
// over the host/port pair.
func (c Config) RedisAddress() string {
	if c.RedisURL != "" {
		return c.RedisURL
	}
	return "redis://" + net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
