package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"     validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"   validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"       validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"        validate:"required"`
	Task      TaskConfig      `mapstructure:"task"       validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	// TokenLifetimeMinutes is the lifetime of issued access tokens.
	TokenLifetimeMinutes int `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
	// RefreshTokenLifetimeMinutes is the lifetime of issued refresh tokens,
	// which must outlive the access tokens they renew.
	RefreshTokenLifetimeMinutes int `mapstructure:"refresh_token_lifetime_minutes" validate:"required,gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	// TextModel is the Gemini model used for copy generation and image review.
	TextModel string `mapstructure:"text_model" validate:"required"`
	// ImageModel is the Gemini model used for image generation.
	ImageModel string `mapstructure:"image_model" validate:"required"`
}

// TaskConfig contains settings for the background task dispatcher.
type TaskConfig struct {
	// WorkerCount bounds how many claimed tasks execute concurrently.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
	// PollIntervalSeconds is how often the dispatcher scans for ready work.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" validate:"required,gt=0"`
	// MaxTasksPerCycle caps how many tasks one dispatch cycle may claim.
	MaxTasksPerCycle int `mapstructure:"max_tasks_per_cycle" validate:"required,gt=0"`
	// StuckTaskAgeMinutes is the age after which a running task with no
	// progress updates is considered stale and re-queued or failed.
	StuckTaskAgeMinutes int `mapstructure:"stuck_task_age_minutes" validate:"required,gt=0"`
	// MaxRetries bounds automatic re-executions of a failed task.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
}

// RateLimitConfig contains settings for the outbound LLM request limiter.
type RateLimitConfig struct {
	// MaxConcurrent bounds how many requests are in flight at once.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"required,gt=0"`
	// RequestsPerSecond is the steady-state admission rate.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"required,gt=0"`
	// MaxRetries bounds retries of transient provider failures.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
	// BaseDelayMs is the backoff delay before the first retry; subsequent
	// retries double it.
	BaseDelayMs int `mapstructure:"base_delay_ms" validate:"required,gt=0"`
	// MaxDelayMs caps the backoff delay regardless of retry count.
	MaxDelayMs int `mapstructure:"max_delay_ms" validate:"required,gt=0"`
}
