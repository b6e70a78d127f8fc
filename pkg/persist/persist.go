// Package persist installs and removes the boot-persistence artifacts that
// re-mount a bucket at session start: systemd units on Linux, Task Scheduler
// tasks on Windows.
package persist

import (
	"context"
	"os/exec"
	"runtime"

	"github.com/haio-cloud/haio-client/pkg/agent"
)

// Installer manages per-bucket boot-persistence artifacts.
//
// Install and Remove are idempotent; repeated calls converge on the desired
// state. A declined elevation prompt surfaces as fault.PersistUserCancelled
// and never as a panic or a half-created artifact.
type Installer interface {
	Install(ctx context.Context, username, container, mountPoint string) error
	Remove(ctx context.Context, username, container string) error
	IsInstalled(username, container string) bool
	ListInstalled(username string) ([]string, error)
}

// PrivilegeHelper runs a command with elevated rights, prompting the user.
// cancelled is true when the user declined the prompt.
type PrivilegeHelper interface {
	RunElevated(ctx context.Context, name string, args ...string) (cancelled bool, err error)
}

// NewInstaller returns the platform backend.
func NewInstaller(adapter *agent.Adapter, priv PrivilegeHelper) Installer {
	if runtime.GOOS == "windows" {
		return NewTaskScheduler(adapter)
	}
	return NewSystemd(adapter, priv)
}

// runCommand executes name with args, returning combined output on failure.
func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return &commandError{name: name, err: err, output: string(out)}
		}
		return &commandError{name: name, err: err}
	}
	return nil
}

type commandError struct {
	name   string
	err    error
	output string
}

func (e *commandError) Error() string {
	if e.output != "" {
		return e.name + ": " + e.err.Error() + ": " + e.output
	}
	return e.name + ": " + e.err.Error()
}

func (e *commandError) Unwrap() error {
	return e.err
}
