package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that populate
// them. Durations accept Go duration strings ("5s", "100ms", "168h").
var envBindings = map[string][]string{
	"server.port":                    {"SERVER_PORT"},
	"server.log_level":               {"LOG_LEVEL", "SERVER_LOG_LEVEL"},
	"task.max_workers":               {"TASK_MAX_WORKERS"},
	"task.queue_size":                {"TASK_QUEUE_SIZE"},
	"task.retry_attempts":            {"TASK_RETRY_ATTEMPTS"},
	"task.retry_delay":               {"TASK_RETRY_DELAY"},
	"task.default_timeout":           {"TASK_DEFAULT_TIMEOUT"},
	"task.result_cache_size":         {"TASK_RESULT_CACHE_SIZE"},
	"task.result_cache_ttl":          {"TASK_RESULT_CACHE_TTL"},
	"task.enable_cold_storage":       {"TASK_ENABLE_COLD_STORAGE"},
	"task.persist_threshold_kb":      {"TASK_PERSIST_THRESHOLD_KB"},
	"task.persist_long_tasks":        {"TASK_PERSIST_LONG_TASKS"},
	"task.long_task_threshold":       {"TASK_LONG_TASK_THRESHOLD"},
	"task.scheduler_interval":        {"TASK_SCHEDULER_INTERVAL"},
	"task.cleanup_interval":          {"TASK_CLEANUP_INTERVAL"},
	"task.max_history_hours":         {"TASK_MAX_HISTORY_HOURS"},
	"rate_limit.enabled":             {"RATE_LIMIT_ENABLED"},
	"rate_limit.requests_per_minute": {"RATE_LIMIT_REQUESTS_PER_MINUTE"},
	"rate_limit.burst_size":          {"RATE_LIMIT_BURST_SIZE"},
	"rate_limit.algorithm":           {"RATE_LIMIT_ALGORITHM"},
	"redis.addr":                     {"REDIS_ADDR"},
	"redis.password":                 {"REDIS_PASSWORD"},
	"redis.db":                       {"REDIS_DB"},
}

// Load reads configuration from environment variables, applies defaults,
// and validates the result. Environment variables take precedence over
// defaults. Returns a populated Config struct or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		// BindEnv only errors on an empty key, which cannot happen here.
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every known key so that
// AutomaticEnv can resolve them and Unmarshal sees the full key set.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("task.max_workers", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.retry_attempts", 3)
	v.SetDefault("task.retry_delay", "5s")
	v.SetDefault("task.default_timeout", "5m")
	v.SetDefault("task.result_cache_size", 1000)
	v.SetDefault("task.result_cache_ttl", "2h")
	v.SetDefault("task.enable_cold_storage", false)
	v.SetDefault("task.persist_threshold_kb", 10)
	v.SetDefault("task.persist_long_tasks", true)
	v.SetDefault("task.long_task_threshold", "5m")
	v.SetDefault("task.scheduler_interval", "100ms")
	v.SetDefault("task.cleanup_interval", "1h")
	v.SetDefault("task.max_history_hours", "168h")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 100)
	v.SetDefault("rate_limit.burst_size", 20)
	v.SetDefault("rate_limit.algorithm", "sliding_window")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}
