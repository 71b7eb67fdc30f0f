package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Log       LogConfig       `mapstructure:"log"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // "development" or "production"
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`            // "sqlite" or "postgres"
	DSN             string `mapstructure:"dsn"`               // Connection string
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`    // Maximum idle connections (Postgres)
	MaxOpenConns    int    `mapstructure:"max_open_conns"`    // Maximum open connections (Postgres)
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // Connection max lifetime in minutes (Postgres)
	LogLevel        string `mapstructure:"log_level"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`        // Secret for JWT signing
	EncryptionKey   string `mapstructure:"encryption_key"`    // Secret for webhook-secret encryption at rest
	DefaultAdminPwd string `mapstructure:"default_admin_pwd"` // Password for the seeded admin (dev only)
}

// QueueConfig holds delivery nudge queue configuration
type QueueConfig struct {
	Type       string `mapstructure:"type"`        // "memory" or "valkey"
	ValkeyAddr string `mapstructure:"valkey_addr"` // Valkey address (if type=valkey), e.g., "localhost:6379"
}

// LogConfig holds logging configuration
type LogConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// WebhookConfig holds outbound delivery configuration
type WebhookConfig struct {
	MaxAttempts     int     `mapstructure:"max_attempts"`     // attempts before an event is marked failed
	InitialBackoff  int     `mapstructure:"initial_backoff"`  // seconds
	MaxBackoff      int     `mapstructure:"max_backoff"`      // seconds, backoff ceiling
	RequestTimeout  int     `mapstructure:"request_timeout"`  // seconds per POST
	RatePerSecond   float64 `mapstructure:"rate_per_second"`  // outbound rate limit
	SignatureHeader string  `mapstructure:"signature_header"` // HMAC signature header name
	PollInterval    int     `mapstructure:"poll_interval"`    // seconds between outbox scans
	WorkerCount     int     `mapstructure:"worker_count"`     // concurrent delivery workers
}

// SchedulerConfig holds background scheduler configuration
type SchedulerConfig struct {
	ExpiryInterval     int `mapstructure:"expiry_interval"`     // seconds between expiry scans
	EscalationInterval int `mapstructure:"escalation_interval"` // seconds between escalation scans
}

// SeedConfig points at the fixtures file for permit types and demo data
type SeedConfig struct {
	FixturesPath string `mapstructure:"fixtures_path"`
	Demo         bool   `mapstructure:"demo"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for local development
	v.SetDefault("server.port", 8470)
	v.SetDefault("server.mode", "development")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./ptw.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60) // 60 minutes
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.encryption_key", "change-me-in-production")
	v.SetDefault("queue.type", "memory")
	v.SetDefault("queue.valkey_addr", "localhost:6379")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("webhook.max_attempts", 8)
	v.SetDefault("webhook.initial_backoff", 5)
	v.SetDefault("webhook.max_backoff", 3600)
	v.SetDefault("webhook.request_timeout", 10)
	v.SetDefault("webhook.rate_per_second", 20.0)
	v.SetDefault("webhook.signature_header", "X-PTW-Signature")
	v.SetDefault("webhook.poll_interval", 15)
	v.SetDefault("webhook.worker_count", 4)
	v.SetDefault("scheduler.expiry_interval", 60)
	v.SetDefault("scheduler.escalation_interval", 300)
	v.SetDefault("seed.fixtures_path", "./seed/permit_types.yaml")
	v.SetDefault("seed.demo", false)

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ptw/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults
	}

	// Environment variables override
	v.SetEnvPrefix("PTW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
