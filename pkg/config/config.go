// Package config loads and validates the haio-client configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the haio-client configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (HAIO_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Dynamic state (known accounts, tokens, temp-URL keys) is not configuration;
// it lives in accounts.json managed by pkg/creds.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// API configures the object-store HTTP client
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Mounts configures mount lifecycle behavior
	Mounts MountsConfig `mapstructure:"mounts" yaml:"mounts"`

	// Agent configures mount-agent discovery and invocation options
	Agent AgentConfig `mapstructure:"agent" yaml:"agent"`

	// Reconcile configures the reconciliation loop
	Reconcile ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`

	// StatusAPI configures the local status/control HTTP endpoint
	StatusAPI StatusAPIConfig `mapstructure:"status_api" yaml:"status_api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" yaml:"level"`

	// Format specifies the log output format: text, json
	Format string `mapstructure:"format" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	// An empty value logs to app.log under the config directory.
	Output string `mapstructure:"output" yaml:"output"`

	// MaxSizeMB rotates the log file when it exceeds this size
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// APIConfig configures the object-store HTTP client.
type APIConfig struct {
	// BaseURL is the object-store base URL. The auth endpoint is derived as
	// <base>/auth/v1.0. Override: HAIO_BASE_URL.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// RequestTimeout bounds every API request
	// Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// RetryAttempts is the number of tries for idempotent GET/HEAD requests
	// Default: 3
	RetryAttempts int `mapstructure:"retry_attempts" yaml:"retry_attempts"`

	// RetryBaseDelay is the first backoff delay between retries
	// Default: 500ms
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`

	// RetryMaxDelay caps the exponential backoff
	// Default: 4s
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
}

// MountsConfig configures the mount supervisor.
type MountsConfig struct {
	// HealthInterval is how often mounted buckets are re-probed
	// Default: 30s
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`

	// VerifyTimeout bounds each wait for the mount to appear in the mount table
	// Default: 10s
	VerifyTimeout time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`

	// MountAttempts is the number of mount attempts before FAILED
	// Default: 3
	MountAttempts int `mapstructure:"mount_attempts" yaml:"mount_attempts"`

	// MountBackoff is the pause between mount attempts
	// Default: 2s
	MountBackoff time.Duration `mapstructure:"mount_backoff" yaml:"mount_backoff"`

	// UnmountModeTimeout bounds each unmount mode (graceful, forced, lazy)
	// Default: 5s
	UnmountModeTimeout time.Duration `mapstructure:"unmount_mode_timeout" yaml:"unmount_mode_timeout"`

	// UnmountTotalTimeout bounds the whole unmount ladder
	// Default: 20s
	UnmountTotalTimeout time.Duration `mapstructure:"unmount_total_timeout" yaml:"unmount_total_timeout"`

	// WorkerPoolSize bounds concurrent cross-bucket operations
	// Default: 8
	WorkerPoolSize int `mapstructure:"worker_pool_size" yaml:"worker_pool_size"`

	// AutoRecover remounts DEGRADED buckets without prompting
	// Default: false
	AutoRecover bool `mapstructure:"auto_recover" yaml:"auto_recover"`

	// WindowsDriveLetters mounts to an available drive letter instead of a
	// path under the user profile. Windows only.
	// Default: false (path-style mount points)
	WindowsDriveLetters bool `mapstructure:"windows_drive_letters" yaml:"windows_drive_letters"`
}

// AgentConfig configures mount-agent discovery and the options passed to it.
type AgentConfig struct {
	// Path overrides mount-agent binary discovery. Override: HAIO_MOUNT_AGENT.
	Path string `mapstructure:"path" yaml:"path"`

	// LogLevel is passed through to the agent
	// Default: INFO
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// CacheDir is the agent VFS cache directory.
	// Default: <user cache dir>/haio-client
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`

	// DirCacheTTL is the agent directory-cache TTL
	// Default: 10s
	DirCacheTTL time.Duration `mapstructure:"dir_cache_ttl" yaml:"dir_cache_ttl"`

	// PollInterval is the agent remote-change poll interval
	// Default: 1m
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// VFSCacheMaxAge is the maximum age of cached file data
	// Default: 24h
	VFSCacheMaxAge time.Duration `mapstructure:"vfs_cache_max_age" yaml:"vfs_cache_max_age"`

	// WriteBack is the delay before dirty data is written back
	// Default: 10s
	WriteBack time.Duration `mapstructure:"write_back" yaml:"write_back"`

	// BufferSizeMiB is the per-file transfer buffer size
	// Default: 32
	BufferSizeMiB int `mapstructure:"buffer_size_mib" yaml:"buffer_size_mib"`

	// AttrTimeout is the kernel attribute cache timeout
	// Default: 1m
	AttrTimeout time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout"`
}

// ReconcileConfig configures the reconciliation loop.
type ReconcileConfig struct {
	// Interval between reconciliation ticks
	// Default: 30s
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// StatusAPIConfig configures the local status/control HTTP endpoint used by
// GUI shells. The listener binds to 127.0.0.1 only.
type StatusAPIConfig struct {
	// Enabled controls whether the status API is served
	// Default: false (opt-in; GUI shells enable it)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the localhost TCP port
	// Default: 7680
	Port int `mapstructure:"port" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses the default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the HAIO_ prefix and underscores.
	// Example: HAIO_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("HAIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// applyEnvOverrides applies the documented shorthand environment variables.
// These predate the viper-style HAIO_SECTION_KEY names and stay supported.
func applyEnvOverrides(cfg *Config) {
	if base := os.Getenv("HAIO_BASE_URL"); base != "" {
		cfg.API.BaseURL = base
	}
	if agent := os.Getenv("HAIO_MOUNT_AGENT"); agent != "" {
		cfg.Agent.Path = agent
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// Dir returns the user configuration directory.
//
// HAIO_CONFIG_DIR wins when set. Otherwise %APPDATA%\haio-client on Windows,
// $XDG_CONFIG_HOME/haio-client or ~/.config/haio-client elsewhere.
func Dir() string {
	if dir := os.Getenv("HAIO_CONFIG_DIR"); dir != "" {
		return dir
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "haio-client")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "haio-client")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "haio-client")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(Dir(), "app.log")
}
