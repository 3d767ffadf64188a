package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Memory: MemoryCacheConfig{
				MaxEntries: 1024,
				DefaultTTL: time.Hour,
			},
			Disk: DiskCacheConfig{
				Enabled:      true,
				MaxSizeBytes: 256 << 20,
				DefaultTTL:   24 * time.Hour,
			},
		},
		Store: StoreConfig{
			Backend:     "file",
			Dir:         "data/skein",
			SQLitePath:  "data/skein.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "skein:",
		},
		Queue: QueueConfig{
			MaxConcurrentJobs: 8,
			PersistEnabled:    false,
			PersistBuffer:     256,
			Retry: RetryConfig{
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2.0,
				Jitter:       true,
			},
		},
		Pool: PoolConfig{
			MinWorkers:           2,
			MaxWorkers:           8,
			AutoScale:            true,
			QueueSize:            256,
			SampleInterval:       250 * time.Millisecond,
			ScaleUpUtilization:   0.8,
			ScaleDownUtilization: 0.2,
			ScaleUpSamples:       2,
			ScaleDownSamples:     4,
			ScaleEvery:           500 * time.Millisecond,
		},
		Engine: EngineConfig{
			DefaultNodeTimeout: 30 * time.Second,
			DefaultMaxRetries:  0,
		},
		Provider: ProviderConfig{
			TemperatureThreshold: 0.3,
			MaxResponseBytes:     1 << 20,
			CacheTTL:             time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "skein",
		},
		Log: LogConfig{
			Level:            "info",
			Format:           "json",
			OutputPaths:      []string{"stdout"},
			EnableCaller:     true,
			EnableStacktrace: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "skein",
			SampleRate:   1.0,
		},
	}
}
