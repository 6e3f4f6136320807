package internal

import (
	"time"

	"sync-engine/domain"
	"sync-engine/runtime"
)

type Config struct {
	UploadBaseURL      string        `env:"UPLOAD_BASE_URL,required=true"`
	HealthURL          string        `env:"HEALTH_URL"`
	AuthToken          string        `env:"AUTH_TOKEN"`
	BadgerFilepath     string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel           string        `env:"LOG_LEVEL,required=true"`
	MaxConcurrent      int           `env:"MAX_CONCURRENT_TRANSFERS"`
	ChunkSizeBytes     int64         `env:"CHUNK_SIZE_BYTES"`
	ChunkThreshold     int64         `env:"CHUNK_THRESHOLD_BYTES"`
	MaxRetries         int           `env:"MAX_RETRIES"`
	RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY"`
	RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY"`
	ProbeInterval      time.Duration `env:"NETWORK_PROBE_INTERVAL"`
	ProbeTimeout       time.Duration `env:"NETWORK_PROBE_TIMEOUT"`
	CancelRetention    time.Duration `env:"CANCEL_RETENTION"`
	CompletedRetention time.Duration `env:"COMPLETED_RETENTION"`
	CleanupSchedule    string        `env:"CLEANUP_CRON"`
}

// SchedulerConfig maps env settings onto engine defaults; zero values
// keep the default so a minimal .env still works.
func (c Config) SchedulerConfig() runtime.SchedulerConfig {
	cfg := runtime.DefaultSchedulerConfig()
	if c.MaxConcurrent > 0 {
		cfg.MaxConcurrent = c.MaxConcurrent
	}
	if c.ChunkSizeBytes > 0 {
		cfg.ChunkSize = c.ChunkSizeBytes
	}
	if c.ChunkThreshold > 0 {
		cfg.ChunkThreshold = c.ChunkThreshold
	}
	cfg.Retry = c.retryPolicy()
	if c.CancelRetention > 0 {
		cfg.CancelRetention = c.CancelRetention
	}
	return cfg
}

func (c Config) retryPolicy() domain.RetryPolicy {
	policy := domain.DefaultRetryPolicy()
	if c.MaxRetries > 0 {
		policy.MaxRetries = c.MaxRetries
	}
	if c.RetryBaseDelay > 0 {
		policy.BaseDelay = c.RetryBaseDelay
	}
	if c.RetryMaxDelay > 0 {
		policy.MaxDelay = c.RetryMaxDelay
	}
	return policy
}

func (c Config) HealthEndpoint() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	return c.UploadBaseURL + "/health"
}

func (c Config) NetworkProbeInterval() time.Duration {
	if c.ProbeInterval > 0 {
		return c.ProbeInterval
	}
	return 10 * time.Second
}

func (c Config) NetworkProbeTimeout() time.Duration {
	if c.ProbeTimeout > 0 {
		return c.ProbeTimeout
	}
	return 5 * time.Second
}

func (c Config) CompletedRetentionWindow() time.Duration {
	if c.CompletedRetention > 0 {
		return c.CompletedRetention
	}
	return 10 * time.Minute
}

func (c Config) CleanupCron() string {
	if c.CleanupSchedule != "" {
		return c.CleanupSchedule
	}
	return "@every 1m"
}
