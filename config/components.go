package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skeinlab/skein/cache"
	"github.com/skeinlab/skein/jobs"
	"github.com/skeinlab/skein/kv"
	"github.com/skeinlab/skein/llm"
	"github.com/skeinlab/skein/workflow"
)

// The loaded configuration is handed to components through these
// conversions, so YAML and environment settings reach them without the
// component packages depending on this one.

// QueueConfig converts the queue, retry, and pool sections into the job
// queue's config.
func (c *Config) QueueConfig() jobs.QueueConfig {
	return jobs.QueueConfig{
		MaxConcurrentJobs: c.Queue.MaxConcurrentJobs,
		PersistBuffer:     c.Queue.PersistBuffer,
		Retry: jobs.RetryPolicy{
			InitialDelay: c.Queue.Retry.InitialDelay,
			MaxDelay:     c.Queue.Retry.MaxDelay,
			Multiplier:   c.Queue.Retry.Multiplier,
			Jitter:       c.Queue.Retry.Jitter,
		},
		Pool: c.PoolConfig(),
	}
}

// PoolConfig converts the pool section into the worker pool's config.
func (c *Config) PoolConfig() jobs.PoolConfig {
	return jobs.PoolConfig{
		MinWorkers:           c.Pool.MinWorkers,
		MaxWorkers:           c.Pool.MaxWorkers,
		AutoScale:            c.Pool.AutoScale,
		QueueSize:            c.Pool.QueueSize,
		SampleInterval:       c.Pool.SampleInterval,
		ScaleUpUtilization:   c.Pool.ScaleUpUtilization,
		ScaleDownUtilization: c.Pool.ScaleDownUtilization,
		ScaleUpSamples:       c.Pool.ScaleUpSamples,
		ScaleDownSamples:     c.Pool.ScaleDownSamples,
		ScaleEvery:           c.Pool.ScaleEvery,
	}
}

// MemoryCacheConfig converts the memory cache section.
func (c *Config) MemoryCacheConfig() cache.MemoryConfig {
	return cache.MemoryConfig{
		MaxEntries: c.Cache.Memory.MaxEntries,
		DefaultTTL: c.Cache.Memory.DefaultTTL,
	}
}

// DiskCacheConfig converts the disk cache section. Callers check
// Cache.Disk.Enabled before opening the level.
func (c *Config) DiskCacheConfig() cache.DiskConfig {
	return cache.DiskConfig{
		MaxSizeBytes: c.Cache.Disk.MaxSizeBytes,
		DefaultTTL:   c.Cache.Disk.DefaultTTL,
	}
}

// EngineConfig converts the engine section into the workflow engine's
// per-node defaults.
func (c *Config) EngineConfig() workflow.EngineConfig {
	return workflow.EngineConfig{
		DefaultNodeTimeout: c.Engine.DefaultNodeTimeout,
		DefaultMaxRetries:  c.Engine.DefaultMaxRetries,
	}
}

// CachePolicy converts the provider section into the cached call
// wrapper's policy.
func (c *Config) CachePolicy() llm.CachePolicy {
	return llm.CachePolicy{
		TemperatureThreshold: float32(c.Provider.TemperatureThreshold),
		MaxResponseBytes:     int64(c.Provider.MaxResponseBytes),
		TTL:                  c.Provider.CacheTTL,
	}
}

// OpenStore opens the configured durable backend.
func (c *Config) OpenStore(ctx context.Context, logger *zap.Logger) (kv.Store, error) {
	switch c.Store.Backend {
	case "file":
		return kv.NewFileStore(c.Store.Dir, logger)
	case "sqlite":
		return kv.NewSQLiteStore(c.Store.SQLitePath, logger)
	case "redis":
		return kv.NewRedisStore(ctx, kv.RedisConfig{
			Addr:     c.Store.RedisAddr,
			Password: c.Store.RedisPassword,
			DB:       c.Store.RedisDB,
			Prefix:   c.Store.RedisPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}

// QueueStore opens the backend for queue persistence, nil when the queue
// runs without durability.
func (c *Config) QueueStore(ctx context.Context, logger *zap.Logger) (kv.Store, error) {
	if !c.Queue.PersistEnabled {
		return nil, nil
	}
	return c.OpenStore(ctx, logger)
}
