package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete configuration for the execution core.
type Config struct {
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Queue     QueueConfig     `yaml:"queue" env:"QUEUE"`
	Pool      PoolConfig      `yaml:"pool" env:"POOL"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Provider  ProviderConfig  `yaml:"provider" env:"PROVIDER"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// CacheConfig configures the tiered cache.
type CacheConfig struct {
	Memory MemoryCacheConfig `yaml:"memory" env:"MEMORY"`
	Disk   DiskCacheConfig   `yaml:"disk" env:"DISK"`
}

// MemoryCacheConfig configures the in-process level.
type MemoryCacheConfig struct {
	// MaxEntries bounds the entry count before LRU eviction.
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// DefaultTTL applies when a put passes no explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// DiskCacheConfig configures the durable level.
type DiskCacheConfig struct {
	// Enabled turns the disk level on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// MaxSizeBytes caps the total stored bytes.
	MaxSizeBytes int64 `yaml:"max_size_bytes" env:"MAX_SIZE_BYTES"`
	// DefaultTTL applies when a put passes no explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// StoreConfig selects the durable key-value backend shared by the disk
// cache and the job queue.
type StoreConfig struct {
	// Backend is one of "file", "redis", "sqlite".
	Backend string `yaml:"backend" env:"BACKEND"`
	// Dir is the file backend's directory.
	Dir string `yaml:"dir" env:"DIR"`
	// SQLitePath is the sqlite backend's database file.
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// Redis connection settings for the redis backend.
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

// QueueConfig configures the job queue.
type QueueConfig struct {
	MaxConcurrentJobs int         `yaml:"max_concurrent_jobs" env:"MAX_CONCURRENT_JOBS"`
	PersistEnabled    bool        `yaml:"persist_enabled" env:"PERSIST_ENABLED"`
	PersistBuffer     int         `yaml:"persist_buffer" env:"PERSIST_BUFFER"`
	Retry             RetryConfig `yaml:"retry" env:"RETRY"`
}

// RetryConfig configures job retry backoff.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	MinWorkers           int           `yaml:"min_workers" env:"MIN_WORKERS"`
	MaxWorkers           int           `yaml:"max_workers" env:"MAX_WORKERS"`
	AutoScale            bool          `yaml:"auto_scale" env:"AUTO_SCALE"`
	QueueSize            int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	SampleInterval       time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
	ScaleUpUtilization   float64       `yaml:"scale_up_utilization" env:"SCALE_UP_UTILIZATION"`
	ScaleDownUtilization float64       `yaml:"scale_down_utilization" env:"SCALE_DOWN_UTILIZATION"`
	ScaleUpSamples       int           `yaml:"scale_up_samples" env:"SCALE_UP_SAMPLES"`
	ScaleDownSamples     int           `yaml:"scale_down_samples" env:"SCALE_DOWN_SAMPLES"`
	ScaleEvery           time.Duration `yaml:"scale_every" env:"SCALE_EVERY"`
}

// EngineConfig configures the workflow engine defaults.
type EngineConfig struct {
	DefaultNodeTimeout time.Duration `yaml:"default_node_timeout" env:"DEFAULT_NODE_TIMEOUT"`
	DefaultMaxRetries  int           `yaml:"default_max_retries" env:"DEFAULT_MAX_RETRIES"`
}

// ProviderConfig configures the cached call wrapper policy.
type ProviderConfig struct {
	// TemperatureThreshold is the highest sampling temperature still
	// considered deterministic enough to cache.
	TemperatureThreshold float64 `yaml:"temperature_threshold" env:"TEMPERATURE_THRESHOLD"`
	// MaxResponseBytes is the largest response body worth caching.
	MaxResponseBytes int `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
	// CacheTTL applies to cached completions.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the OTel SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Backend {
	case "file", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	if c.Cache.Memory.MaxEntries <= 0 {
		errs = append(errs, "cache.memory.max_entries must be positive")
	}
	if c.Cache.Disk.Enabled && c.Cache.Disk.MaxSizeBytes <= 0 {
		errs = append(errs, "cache.disk.max_size_bytes must be positive when disk cache is enabled")
	}
	if c.Queue.MaxConcurrentJobs <= 0 {
		errs = append(errs, "queue.max_concurrent_jobs must be positive")
	}
	if c.Pool.MinWorkers <= 0 {
		errs = append(errs, "pool.min_workers must be positive")
	}
	if c.Pool.MaxWorkers < c.Pool.MinWorkers {
		errs = append(errs, "pool.max_workers must be >= pool.min_workers")
	}
	if c.Provider.TemperatureThreshold < 0 || c.Provider.TemperatureThreshold > 2 {
		errs = append(errs, "provider.temperature_threshold must be in [0, 2]")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry.otlp_endpoint required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
