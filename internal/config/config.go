package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Hub      HubConfig      `mapstructure:"hub" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains connection settings for the queue backing store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// QueueConfig tunes the work queue and its dispatcher.
type QueueConfig struct {
	// PollInterval is the dispatcher tick interval.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,min=100ms"`

	// MaxAttempts bounds redeliveries of a failing work item before it
	// is parked permanently.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gte=1"`

	// BackoffBase is the base delay for exponential retry backoff
	// (base * 2^attempts).
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"required,min=10ms"`

	// StageTimeout bounds a single stage handler invocation.
	StageTimeout time.Duration `mapstructure:"stage_timeout" validate:"required,min=1s"`

	// Retention is how long completed and dead items are kept before the
	// purge job removes them.
	Retention time.Duration `mapstructure:"retention" validate:"required,min=1m"`

	// PurgeSchedule is the cron spec for the retention purge job.
	PurgeSchedule string `mapstructure:"purge_schedule" validate:"required"`
}

// HubConfig tunes the websocket notification hub.
type HubConfig struct {
	// HeartbeatInterval is how often the hub pings live connections.
	// A connection that has not answered by the next sweep is dropped.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required,min=1s"`

	// AllowUnauthenticated lets clients subscribe without completing
	// auth. Development convenience only; keep off in production.
	AllowUnauthenticated bool `mapstructure:"allow_unauthenticated"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name" validate:"required"`

	// MaxRetries bounds retries of transient Gemini API failures.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// RetryDelaySeconds is the base delay for retry backoff.
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds" validate:"gte=1"`
}
