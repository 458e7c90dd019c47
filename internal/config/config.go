// Package config provides configuration management for the yield vault services.
// It loads settings from environment variables and .env files, and vault definitions
// from a YAML bootstrap file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Keeper    KeeperConfig
	Strategy  StrategyConfig
	Lock      LockConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	// VaultConfigFile points at the YAML vault bootstrap file
	VaultConfigFile string
	// MigrationsPath holds the postgres/ and clickhouse/ migration directories
	MigrationsPath string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	// Enabled persists ledger state; without it vaults live in memory only
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
	// MinConnections stay open so a persist after each mutation never waits on a dial
	MinConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	// Enabled records harvest reports; without it a bounded in-memory history is kept
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	QueryTimeout   time.Duration
	// AsyncInsert buffers report inserts server side; inserts still wait for the flush
	AsyncInsert bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	// Enabled turns on the shared summary cache and the cross-process harvest lock
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	// Timeout bounds each command; summary publishes sit on the mutation path
	Timeout time.Duration
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	// SummaryTTL bounds how long a published vault summary is served
	SummaryTTL time.Duration
}

// KeeperConfig holds the harvest scheduler configuration
type KeeperConfig struct {
	// Embedded runs the keeper inside the API server process
	Embedded bool
	// APIURL is the server a standalone keeper harvests through
	APIURL string
	// Schedule is a cron expression with a leading seconds field
	Schedule       string
	Concurrency    int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// StrategyConfig holds settings for calls into strategy units
type StrategyConfig struct {
	CallTimeout         time.Duration
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	// RemoteRPS paces calls to each remote unit; zero means unpaced
	RemoteRPS float64
}

// LockConfig holds distributed lock configuration
type LockConfig struct {
	HarvestTTL time.Duration
}

// RateLimitConfig holds per-client API rate limits
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Enabled:        getEnvAsBool("POSTGRES_ENABLED", false),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "yield_vault"),
				User:           getEnv("POSTGRES_USER", "vault"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MinConnections: getEnvAsInt("POSTGRES_MIN_CONNECTIONS", 2),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:        getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "yield_vault"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MaxConnections: getEnvAsInt("CLICKHOUSE_MAX_CONNECTIONS", 5),
				QueryTimeout:   getEnvAsDuration("CLICKHOUSE_QUERY_TIMEOUT", 30*time.Second),
				AsyncInsert:    getEnvAsBool("CLICKHOUSE_ASYNC_INSERT", false),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				Timeout:        getEnvAsDuration("REDIS_TIMEOUT", 3*time.Second),
			},
		},
		Cache: CacheConfig{
			SummaryTTL: getEnvAsDuration("CACHE_SUMMARY_TTL", 15*time.Second),
		},
		Keeper: KeeperConfig{
			Embedded:       getEnvAsBool("KEEPER_EMBEDDED", true),
			APIURL:         getEnv("KEEPER_API_URL", "http://localhost:8080"),
			Schedule:       getEnv("KEEPER_SCHEDULE", "0 */5 * * * *"),
			Concurrency:    getEnvAsInt("KEEPER_CONCURRENCY", 4),
			MaxRetries:     getEnvAsInt("KEEPER_MAX_RETRIES", 3),
			InitialBackoff: getEnvAsDuration("KEEPER_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     getEnvAsDuration("KEEPER_MAX_BACKOFF", 30*time.Second),
		},
		Strategy: StrategyConfig{
			CallTimeout:         getEnvAsDuration("STRATEGY_CALL_TIMEOUT", 10*time.Second),
			BreakerThreshold:    getEnvAsInt("STRATEGY_BREAKER_THRESHOLD", 5),
			BreakerResetTimeout: getEnvAsDuration("STRATEGY_BREAKER_RESET_TIMEOUT", time.Minute),
			RemoteRPS:           getEnvAsFloat("STRATEGY_REMOTE_RPS", 0),
		},
		Lock: LockConfig{
			HarvestTTL: getEnvAsDuration("HARVEST_LOCK_TTL", 2*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		VaultConfigFile: getEnv("VAULT_CONFIG_FILE", "vaults.yaml"),
		MigrationsPath:  getEnv("MIGRATIONS_PATH", "migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	if c.Strategy.CallTimeout <= 0 {
		return fmt.Errorf("STRATEGY_CALL_TIMEOUT must be positive, got %s", c.Strategy.CallTimeout)
	}
	if c.Keeper.Concurrency < 1 {
		return fmt.Errorf("KEEPER_CONCURRENCY must be at least 1, got %d", c.Keeper.Concurrency)
	}
	if c.Lock.HarvestTTL < c.Strategy.CallTimeout {
		return fmt.Errorf("HARVEST_LOCK_TTL (%s) must not be shorter than STRATEGY_CALL_TIMEOUT (%s)",
			c.Lock.HarvestTTL, c.Strategy.CallTimeout)
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit must be positive, got %.2f rps burst %d",
			c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	}
	if pg := c.Database.Postgres; pg.Enabled && pg.MinConnections > pg.MaxConnections {
		return fmt.Errorf("POSTGRES_MIN_CONNECTIONS (%d) exceeds POSTGRES_MAX_CONNECTIONS (%d)",
			pg.MinConnections, pg.MaxConnections)
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
