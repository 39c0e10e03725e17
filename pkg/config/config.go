package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the globalization dispatch service.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Logger    LoggerConfig    `mapstructure:"logger" validate:"required"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Push      PushConfig      `mapstructure:"push" validate:"required"`
	Payment   PaymentConfig   `mapstructure:"payment" validate:"required"`
	Templates TemplatesConfig `mapstructure:"templates" validate:"required"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggerConfig configures the slog pipeline.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig toggles error reporting.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate" validate:"gte=0,lte=1"`
}

// DatabaseConfig describes the PostgreSQL connection. An empty Host disables
// the SQL-backed stores.
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Name          string `mapstructure:"name"`
	SSLMode       string `mapstructure:"sslmode"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// Enabled reports whether a database host is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// RedisConfig defines connection parameters for the Redis client.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	UserCacheTTL    time.Duration `mapstructure:"user_cache_ttl"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// RateLimitRule is a limit over a window such as "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit" validate:"gte=0"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig holds API and per-channel limits.
type RateLimitConfig struct {
	PerClient RateLimitRule            `mapstructure:"per_client"`
	Channels  map[string]RateLimitRule `mapstructure:"channels"`
	Whitelist []string                 `mapstructure:"whitelist"`
}

// RetryConfig mirrors errors.RetryPolicy. max_retries of 0 disables retries.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// PushConfig configures the notification channels.
type PushConfig struct {
	Concurrency int            `mapstructure:"concurrency" validate:"gte=1"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Retry       RetryConfig    `mapstructure:"retry"`
	Log         bool           `mapstructure:"log"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Slack       WebhookConfig  `mapstructure:"slack"`
	WhatsApp    WebhookConfig  `mapstructure:"whatsapp"`
	WeChat      WebhookConfig  `mapstructure:"wechat"`
	Email       EmailConfig    `mapstructure:"email"`
}

// TelegramConfig enables the Telegram channel when Token is set.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// WebhookConfig enables an HTTP webhook channel when URL is set.
type WebhookConfig struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Token string `mapstructure:"token"`
}

// EmailConfig enables SMTP delivery when Host is set.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"omitempty,email"`
	Subject  string `mapstructure:"subject"`
}

// PaymentConfig configures payout gateways.
type PaymentConfig struct {
	Currency       string                   `mapstructure:"currency" validate:"required,len=3"`
	Timeout        time.Duration            `mapstructure:"timeout"`
	IdempotencyTTL time.Duration            `mapstructure:"idempotency_ttl"`
	Retry          RetryConfig              `mapstructure:"retry"`
	Providers      map[string]GatewayConfig `mapstructure:"providers" validate:"dive"`
}

// GatewayConfig describes one HTTP payout gateway.
type GatewayConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`
	APIKey   string `mapstructure:"api_key"`
}

// TemplatesConfig points at the YAML template catalog.
type TemplatesConfig struct {
	Dir         string `mapstructure:"dir" validate:"required"`
	DefaultLang string `mapstructure:"default_lang" validate:"required"`
	Watch       bool   `mapstructure:"watch"`
}

// AuditConfig configures audit sinks.
type AuditConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Postgres   bool   `mapstructure:"postgres"`
	VerifyCron string `mapstructure:"verify_cron"`
}

// JobsConfig configures the asynq worker.
type JobsConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// Default returns a configuration suitable for local development and tests.
func Default() Config {
	return Config{
		AppEnv: "development",
		Server: ServerConfig{
			Port:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logger: LoggerConfig{Level: "info", Format: "json"},
		Redis: RedisConfig{
			UserCacheTTL: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			PerClient: RateLimitRule{Limit: 120, Window: "1m"},
		},
		Push: PushConfig{
			Concurrency: 8,
			Timeout:     10 * time.Second,
			Retry:       RetryConfig{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second},
			Log:         true,
		},
		Payment: PaymentConfig{
			Currency:       "USD",
			Timeout:        15 * time.Second,
			IdempotencyTTL: 24 * time.Hour,
			Retry:          RetryConfig{MaxRetries: 2, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second},
		},
		Templates: TemplatesConfig{Dir: "templates", DefaultLang: "en"},
		Audit: AuditConfig{
			MaxSizeMB:  100,
			MaxBackups: 30,
			MaxAgeDays: 365,
			VerifyCron: "0 * * * *",
		},
		Jobs: JobsConfig{
			Concurrency: 10,
			Queues:      map[string]int{"critical": 6, "default": 3, "low": 1},
		},
	}
}
