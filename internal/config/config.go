package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Task      TaskConfig      `mapstructure:"task" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// TaskConfig contains the scheduler, retry and result-cache settings.
type TaskConfig struct {
	// MaxWorkers is the fixed size of the worker pool.
	MaxWorkers int `mapstructure:"max_workers" validate:"required,gte=1,lte=100"`

	// QueueSize bounds the pending priority queue. Submissions beyond this
	// bound fail fast with a queue-full error.
	QueueSize int `mapstructure:"queue_size" validate:"required,gte=1"`

	// RetryAttempts is the default maximum number of retries for a task
	// whose submission does not specify its own limit.
	RetryAttempts int `mapstructure:"retry_attempts" validate:"gte=0,lte=10"`

	// RetryDelay is the base delay before the first retry; subsequent
	// retries back off exponentially from it.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gt=0"`

	// DefaultTimeout bounds task execution when a submission does not
	// carry its own timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`

	// ResultCacheSize is the maximum number of entries held in memory.
	ResultCacheSize int `mapstructure:"result_cache_size" validate:"required,gte=1"`

	// ResultCacheTTL is the default time-to-live for cached results.
	ResultCacheTTL time.Duration `mapstructure:"result_cache_ttl" validate:"gt=0"`

	// EnableColdStorage turns on overflow of oversized or long-running
	// results to the blob store.
	EnableColdStorage bool `mapstructure:"enable_cold_storage"`

	// PersistThresholdKB is the serialized-size threshold above which a
	// result is written to cold storage instead of memory.
	PersistThresholdKB int `mapstructure:"persist_threshold_kb" validate:"gte=1"`

	// PersistLongTasks also overflows results of tasks that ran longer
	// than LongTaskThreshold, regardless of size.
	PersistLongTasks  bool          `mapstructure:"persist_long_tasks"`
	LongTaskThreshold time.Duration `mapstructure:"long_task_threshold" validate:"gt=0"`

	// SchedulerInterval is the idle-worker wake-up poll interval. Workers
	// are also woken eagerly on submission, so this only bounds worst-case
	// dequeue latency.
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval" validate:"gt=0"`

	// CleanupInterval is how often terminal tasks older than MaxHistoryAge
	// are purged from the history index.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
	MaxHistoryAge   time.Duration `mapstructure:"max_history_hours" validate:"gt=0"`
}

// RateLimitConfig contains the admission-control settings applied in front
// of task submission.
type RateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" validate:"required,gte=1"`
	BurstSize         int    `mapstructure:"burst_size" validate:"required,gte=1"`
	Algorithm         string `mapstructure:"algorithm" validate:"required,oneof=sliding_window token_bucket"`
}

// RedisConfig contains the cold-storage backend settings. An empty Addr
// disables the Redis blob store; cold storage then falls back to the
// in-memory store if enabled at all.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}
