package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables read by Load,
// e.g. PAGEFORGE_SERVER_PORT or PAGEFORGE_DATABASE_URL.
const envPrefix = "PAGEFORGE"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory. Absence is fine;
	// any other read error is not.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file values. Nested keys map to
	// underscore-separated names under the PAGEFORGE_ prefix.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every config key. Registering the key
// is what lets AutomaticEnv pick up the corresponding environment variable
// during Unmarshal, so required fields get an empty default here and are
// enforced by validation instead.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("auth.refresh_token_lifetime_minutes", 10080)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.text_model", "gemini-2.5-flash")
	v.SetDefault("llm.image_model", "imagen-3.0-generate-002")

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.poll_interval_seconds", 5)
	v.SetDefault("task.max_tasks_per_cycle", 10)
	v.SetDefault("task.stuck_task_age_minutes", 10)
	v.SetDefault("task.max_retries", 3)

	v.SetDefault("rate_limit.max_concurrent", 3)
	v.SetDefault("rate_limit.requests_per_second", 2)
	v.SetDefault("rate_limit.max_retries", 3)
	v.SetDefault("rate_limit.base_delay_ms", 1000)
	v.SetDefault("rate_limit.max_delay_ms", 30000)
}
