// Package agent locates and invokes the external mount agent: building its
// argv, spawning it detached, unmounting, and managing its config file.
package agent

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/haio-cloud/haio-client/pkg/config"
)

// Adapter invokes the external mount agent for one account.
type Adapter struct {
	binary     string
	configPath string
	opts       config.AgentConfig

	// runCmd executes a short-lived external command. Replaceable for tests.
	runCmd func(ctx context.Context, name string, args ...string) error
}

// New creates an Adapter for a resolved agent binary and config file path.
func New(binary, configPath string, opts config.AgentConfig) *Adapter {
	return &Adapter{
		binary:     binary,
		configPath: configPath,
		opts:       opts,
		runCmd:     runCommand,
	}
}

// Binary returns the resolved mount-agent binary path.
func (a *Adapter) Binary() string {
	return a.binary
}

// ConfigPath returns the agent config file path.
func (a *Adapter) ConfigPath() string {
	return a.configPath
}

// CacheDir returns the VFS cache directory passed to the agent.
func (a *Adapter) CacheDir() string {
	return a.opts.CacheDir
}

// MountArgv builds the argv for a foreground mount of container at
// mountPoint, using the remote entry configName from the agent config file.
func (a *Adapter) MountArgv(configName, container, mountPoint string) []string {
	return []string{
		"mount", configName + ":" + container, mountPoint,
		"--config", a.configPath,
		"--allow-non-empty",
		"--dir-cache-time", durArg(a.opts.DirCacheTTL),
		"--poll-interval", durArg(a.opts.PollInterval),
		"--vfs-cache-mode", "full",
		"--vfs-cache-max-age", durArg(a.opts.VFSCacheMaxAge),
		"--vfs-write-back", durArg(a.opts.WriteBack),
		"--buffer-size", fmt.Sprintf("%dM", a.opts.BufferSizeMiB),
		"--attr-timeout", durArg(a.opts.AttrTimeout),
		"--cache-dir", a.opts.CacheDir,
		"--log-level", a.opts.LogLevel,
	}
}

// durArg renders a duration the way the agent expects flag values.
func durArg(d time.Duration) string {
	return d.String()
}

// runCommand executes name with args and waits for it to finish.
func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%s: %w: %s", name, err, out)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
