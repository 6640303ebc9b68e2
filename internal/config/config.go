// Package config provides configuration management for the dividends service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ledger    LedgerConfig
	Cache     CacheConfig
	Signal    SignalConfig
	Scoring   ScoringConfig
	Worker    WorkerConfig
	Trade     TradeConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port     string
	Host     string
	APIToken string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration.
// The outcome archive is disabled when Host is empty.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// Enabled reports whether the outcome archive is configured
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL            string
	MaxConnections int
}

// LedgerConfig holds ledger node configuration
type LedgerConfig struct {
	URL        string
	NumSubnets int
	PageSize   int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// SignalConfig holds social search configuration
type SignalConfig struct {
	APIKey  string
	BaseURL string
	Limit   int
	Timeout time.Duration
}

// ScoringConfig holds completion service configuration
type ScoringConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	Concurrency int
	JobTimeout  time.Duration
	ResultTTL   time.Duration
	// MetricsAddr is the listen address of the worker's /metrics endpoint; empty disables it
	MetricsAddr string
}

// TradeConfig holds fallback job arguments for requests that omit them
type TradeConfig struct {
	DefaultNetUID int
	DefaultHotkey string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:     getEnv("SERVER_PORT", "8000"),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			APIToken: getEnv("API_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", ""),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "tao_dividends"),
				User:           getEnv("POSTGRES_USER", "tao"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				URL:            getEnv("CACHE_SERVER_URL", "redis://localhost:6379/0"),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Ledger: LedgerConfig{
			URL:        getEnv("BLOCKCHAIN_SERVICE_URL", "wss://entrypoint-finney.opentensor.ai:443"),
			NumSubnets: getEnvAsInt("NUM_SUBNETS", 20),
			PageSize:   getEnvAsInt("LEDGER_PAGE_SIZE", 1000),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 120*time.Second),
		},
		Signal: SignalConfig{
			APIKey:  getEnv("DATURA_API_KEY", ""),
			BaseURL: strings.TrimRight(getEnv("DATURA_BASE_URL", "https://apis.datura.ai"), "/"),
			Limit:   getEnvAsInt("SIGNAL_SEARCH_LIMIT", 20),
			Timeout: getEnvAsDuration("SIGNAL_SEARCH_TIMEOUT", 30*time.Second),
		},
		Scoring: ScoringConfig{
			APIKey:  getEnv("CHUTES_API_KEY", ""),
			BaseURL: strings.TrimRight(getEnv("CHUTES_BASE_URL", "https://llm.chutes.ai"), "/"),
			Model:   getEnv("SCORING_MODEL", "unsloth/Llama-3.2-3B-Instruct"),
			Timeout: getEnvAsDuration("SCORING_TIMEOUT", 60*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
			JobTimeout:  getEnvAsDuration("JOB_TIME_LIMIT", 300*time.Second),
			ResultTTL:   getEnvAsDuration("JOB_RESULT_TTL", 24*time.Hour),
			MetricsAddr: getEnv("WORKER_METRICS_ADDR", ":9091"),
		},
		Trade: TradeConfig{
			DefaultNetUID: getEnvAsInt("TRADE_DEFAULT_NETUID", 18),
			DefaultHotkey: getEnv("TRADE_DEFAULT_HOTKEY", "5FFApaS75bv5pJHfAp2FVLBj9ZaXuFDjEypsaBNc1wCfe52v"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Process selects which settings Validate requires
type Process int

const (
	// ForServer validates settings needed by the HTTP API
	ForServer Process = iota
	// ForWorker validates settings needed by the background worker
	ForWorker
)

// Validate checks that the settings required by the given process are present
func (c *Config) Validate(process Process) error {
	var missing []string

	if c.Database.Redis.URL == "" {
		missing = append(missing, "CACHE_SERVER_URL")
	}
	if c.Ledger.URL == "" {
		missing = append(missing, "BLOCKCHAIN_SERVICE_URL")
	}
	if c.Ledger.NumSubnets < 1 {
		return fmt.Errorf("NUM_SUBNETS must be positive, got %d", c.Ledger.NumSubnets)
	}

	switch process {
	case ForServer:
		if c.Server.APIToken == "" {
			missing = append(missing, "API_TOKEN")
		}
	case ForWorker:
		if c.Signal.APIKey == "" {
			missing = append(missing, "DATURA_API_KEY")
		}
		if c.Scoring.APIKey == "" {
			missing = append(missing, "CHUTES_API_KEY")
		}
		if c.Worker.Concurrency < 1 {
			return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
// Bare integers are read as seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
