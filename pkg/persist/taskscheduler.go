package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haio-cloud/haio-client/internal/logger"
	"github.com/haio-cloud/haio-client/pkg/agent"
	"github.com/haio-cloud/haio-client/pkg/config"
	"github.com/haio-cloud/haio-client/pkg/fault"
)

// TaskScheduler installs per-bucket "at logon" scheduled tasks pointing at a
// launcher script under the user's app-data directory. Logon tasks for the
// current user need no elevation.
type TaskScheduler struct {
	adapter *agent.Adapter

	scriptDir string
	runCmd    func(ctx context.Context, name string, args ...string) error
}

// NewTaskScheduler creates the Windows backend.
func NewTaskScheduler(adapter *agent.Adapter) *TaskScheduler {
	return &TaskScheduler{
		adapter:   adapter,
		scriptDir: filepath.Join(config.Dir(), "automount"),
		runCmd:    runCommand,
	}
}

// TaskName returns the scheduled-task name for a bucket.
func TaskName(username, container string) string {
	return fmt.Sprintf("HaioAutoMount_%s_%s", username, container)
}

func (t *TaskScheduler) scriptPath(username, container string) string {
	return filepath.Join(t.scriptDir, username+"-"+container+".bat")
}

// Install writes the launcher script and registers the logon task.
func (t *TaskScheduler) Install(ctx context.Context, username, container, mountPoint string) error {
	if agent.IsVolatilePath(t.adapter.Binary()) {
		return fault.Newf(fault.AgentVolatilePath,
			"mount agent at %s is in a temporary location and cannot be referenced from a boot artifact",
			t.adapter.Binary()).
			WithRemediation(`install the mount agent to a permanent location such as C:\Program Files\rclone`)
	}

	if err := os.MkdirAll(t.scriptDir, 0o755); err != nil {
		return fmt.Errorf("failed to create automount directory: %w", err)
	}

	script := t.renderScript(username, container, mountPoint)
	path := t.scriptPath(username, container)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return fmt.Errorf("failed to write launcher script: %w", err)
	}

	task := TaskName(username, container)
	err := t.runCmd(ctx, "schtasks",
		"/Create", "/F",
		"/TN", task,
		"/TR", fmt.Sprintf(`"%s"`, path),
		"/SC", "ONLOGON",
		"/RL", "LIMITED")
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to register scheduled task: %w", err)
	}

	logger.Info("auto-mount installed",
		logger.KeyAccount, username,
		logger.KeyBucket, container,
		logger.KeyArtifact, task)
	return nil
}

// Remove deletes the task and launcher script. Absent artifacts are success.
func (t *TaskScheduler) Remove(ctx context.Context, username, container string) error {
	task := TaskName(username, container)

	// schtasks errors when the task does not exist; removal stays idempotent.
	if err := t.runCmd(ctx, "schtasks", "/Delete", "/F", "/TN", task); err != nil {
		if t.taskExists(ctx, task) {
			return fmt.Errorf("failed to delete scheduled task: %w", err)
		}
	}

	path := t.scriptPath(username, container)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove launcher script: %w", err)
	}

	logger.Info("auto-mount removed", logger.KeyAccount, username, logger.KeyBucket, container)
	return nil
}

func (t *TaskScheduler) taskExists(ctx context.Context, task string) bool {
	return t.runCmd(ctx, "schtasks", "/Query", "/TN", task) == nil
}

// IsInstalled reports whether the launcher script exists. The script and the
// task are created and removed together; the script is the cheap probe.
func (t *TaskScheduler) IsInstalled(username, container string) bool {
	return fileExists(t.scriptPath(username, container))
}

// ListInstalled returns the containers with an auto-mount entry for username.
func (t *TaskScheduler) ListInstalled(username string) ([]string, error) {
	entries, err := os.ReadDir(t.scriptDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan automount directory: %w", err)
	}

	prefix := username + "-"
	var containers []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".bat") {
			continue
		}
		container := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".bat")
		if container != "" {
			containers = append(containers, container)
		}
	}

	sort.Strings(containers)
	return containers, nil
}

func (t *TaskScheduler) renderScript(username, container, mountPoint string) string {
	argv := t.adapter.MountArgv(agent.ConfigName(username), container, mountPoint)

	quoted := make([]string, 0, len(argv)+1)
	quoted = append(quoted, fmt.Sprintf(`"%s"`, t.adapter.Binary()))
	for _, a := range argv {
		if strings.ContainsAny(a, " \t") {
			quoted = append(quoted, `"`+a+`"`)
		} else {
			quoted = append(quoted, a)
		}
	}

	var b strings.Builder
	b.WriteString("@echo off\r\n")
	fmt.Fprintf(&b, "rem Auto-mount of %s for %s\r\n", container, username)
	fmt.Fprintf(&b, "if not exist \"%s\" mkdir \"%s\"\r\n", mountPoint, mountPoint)
	b.WriteString("start \"\" /B " + strings.Join(quoted, " ") + "\r\n")
	return b.String()
}
