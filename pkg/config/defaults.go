package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default values applied when the config file or a field is absent.
const (
	DefaultBaseURL = "https://storage.haio.ir"

	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 4 * time.Second

	DefaultHealthInterval      = 30 * time.Second
	DefaultVerifyTimeout       = 10 * time.Second
	DefaultMountAttempts       = 3
	DefaultMountBackoff        = 2 * time.Second
	DefaultUnmountModeTimeout  = 5 * time.Second
	DefaultUnmountTotalTimeout = 20 * time.Second
	DefaultWorkerPoolSize      = 8

	DefaultAgentLogLevel  = "INFO"
	DefaultDirCacheTTL    = 10 * time.Second
	DefaultPollInterval   = time.Minute
	DefaultVFSCacheMaxAge = 24 * time.Hour
	DefaultWriteBack      = 10 * time.Second
	DefaultBufferSizeMiB  = 32
	DefaultAttrTimeout    = time.Minute

	DefaultReconcileInterval = 30 * time.Second

	DefaultStatusAPIPort = 7680

	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
)

// GetDefaultConfig returns a Config populated entirely with defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogPath()
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = DefaultLogMaxBackups
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.API.RetryAttempts == 0 {
		cfg.API.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.API.RetryBaseDelay == 0 {
		cfg.API.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.API.RetryMaxDelay == 0 {
		cfg.API.RetryMaxDelay = DefaultRetryMaxDelay
	}

	if cfg.Mounts.HealthInterval == 0 {
		cfg.Mounts.HealthInterval = DefaultHealthInterval
	}
	if cfg.Mounts.VerifyTimeout == 0 {
		cfg.Mounts.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.Mounts.MountAttempts == 0 {
		cfg.Mounts.MountAttempts = DefaultMountAttempts
	}
	if cfg.Mounts.MountBackoff == 0 {
		cfg.Mounts.MountBackoff = DefaultMountBackoff
	}
	if cfg.Mounts.UnmountModeTimeout == 0 {
		cfg.Mounts.UnmountModeTimeout = DefaultUnmountModeTimeout
	}
	if cfg.Mounts.UnmountTotalTimeout == 0 {
		cfg.Mounts.UnmountTotalTimeout = DefaultUnmountTotalTimeout
	}
	if cfg.Mounts.WorkerPoolSize == 0 {
		cfg.Mounts.WorkerPoolSize = DefaultWorkerPoolSize
	}

	if cfg.Agent.LogLevel == "" {
		cfg.Agent.LogLevel = DefaultAgentLogLevel
	}
	if cfg.Agent.CacheDir == "" {
		cfg.Agent.CacheDir = defaultCacheDir()
	}
	if cfg.Agent.DirCacheTTL == 0 {
		cfg.Agent.DirCacheTTL = DefaultDirCacheTTL
	}
	if cfg.Agent.PollInterval == 0 {
		cfg.Agent.PollInterval = DefaultPollInterval
	}
	if cfg.Agent.VFSCacheMaxAge == 0 {
		cfg.Agent.VFSCacheMaxAge = DefaultVFSCacheMaxAge
	}
	if cfg.Agent.WriteBack == 0 {
		cfg.Agent.WriteBack = DefaultWriteBack
	}
	if cfg.Agent.BufferSizeMiB == 0 {
		cfg.Agent.BufferSizeMiB = DefaultBufferSizeMiB
	}
	if cfg.Agent.AttrTimeout == 0 {
		cfg.Agent.AttrTimeout = DefaultAttrTimeout
	}

	if cfg.Reconcile.Interval == 0 {
		cfg.Reconcile.Interval = DefaultReconcileInterval
	}

	if cfg.StatusAPI.Port == 0 {
		cfg.StatusAPI.Port = DefaultStatusAPIPort
	}
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if cfg.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be positive")
	}
	if cfg.API.RetryAttempts < 1 {
		return fmt.Errorf("api.retry_attempts must be at least 1")
	}

	if cfg.Mounts.MountAttempts < 1 {
		return fmt.Errorf("mounts.mount_attempts must be at least 1")
	}
	if cfg.Mounts.WorkerPoolSize < 1 {
		return fmt.Errorf("mounts.worker_pool_size must be at least 1")
	}

	if cfg.Reconcile.Interval < time.Second {
		return fmt.Errorf("reconcile.interval must be at least 1s")
	}

	if cfg.StatusAPI.Enabled && (cfg.StatusAPI.Port < 1 || cfg.StatusAPI.Port > 65535) {
		return fmt.Errorf("status_api.port must be in 1..65535")
	}

	return nil
}

// defaultCacheDir returns the agent VFS cache directory under the user cache root.
func defaultCacheDir() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(Dir(), "cache")
	}
	return filepath.Join(cache, "haio-client")
}
