package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HAIO_CONFIG_DIR", t.TempDir())
	t.Setenv("HAIO_BASE_URL", "")
	t.Setenv("HAIO_MOUNT_AGENT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultRequestTimeout, cfg.API.RequestTimeout)
	assert.Equal(t, DefaultMountAttempts, cfg.Mounts.MountAttempts)
	assert.Equal(t, DefaultWorkerPoolSize, cfg.Mounts.WorkerPoolSize)
	assert.Equal(t, DefaultReconcileInterval, cfg.Reconcile.Interval)
	assert.Equal(t, DefaultStatusAPIPort, cfg.StatusAPI.Port)
	assert.False(t, cfg.StatusAPI.Enabled)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_FileWithDurationStrings(t *testing.T) {
	t.Setenv("HAIO_BASE_URL", "")
	t.Setenv("HAIO_MOUNT_AGENT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
logging:
  level: DEBUG
  format: json
  output: stderr
api:
  base_url: https://example.com
  request_timeout: 5s
mounts:
  verify_timeout: 3s
  worker_pool_size: 2
agent:
  poll_interval: 30s
reconcile:
  interval: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "https://example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, 3*time.Second, cfg.Mounts.VerifyTimeout)
	assert.Equal(t, 2, cfg.Mounts.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.Agent.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.Interval)

	// Fields absent from the file still get defaults.
	assert.Equal(t, DefaultMountBackoff, cfg.Mounts.MountBackoff)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HAIO_CONFIG_DIR", t.TempDir())
	t.Setenv("HAIO_BASE_URL", "https://other.example")
	t.Setenv("HAIO_MOUNT_AGENT", "/opt/rclone/rclone")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://other.example", cfg.API.BaseURL)
	assert.Equal(t, "/opt/rclone/rclone", cfg.Agent.Path)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.API.RetryAttempts = 0
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Reconcile.Interval = 100 * time.Millisecond
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.StatusAPI.Enabled = true
	cfg.StatusAPI.Port = 70000
	assert.Error(t, Validate(cfg))
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("HAIO_BASE_URL", "")
	t.Setenv("HAIO_MOUNT_AGENT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := GetDefaultConfig()
	cfg.API.BaseURL = "https://example.com"
	cfg.Mounts.WorkerPoolSize = 4

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", loaded.API.BaseURL)
	assert.Equal(t, 4, loaded.Mounts.WorkerPoolSize)
	assert.Equal(t, cfg.API.RequestTimeout, loaded.API.RequestTimeout)
}

func TestDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HAIO_CONFIG_DIR", dir)

	assert.Equal(t, dir, Dir())
	assert.Equal(t, filepath.Join(dir, "config.yaml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(dir, "app.log"), DefaultLogPath())
}
