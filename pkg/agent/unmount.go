package agent

import (
	"context"
	"errors"
)

// UnmountMode selects how aggressively a mount is detached.
type UnmountMode int

const (
	// UnmountGraceful detaches only when no process holds the mount busy.
	UnmountGraceful UnmountMode = iota
	// UnmountForced detaches even with open handles.
	UnmountForced
	// UnmountLazy detaches from the namespace now and cleans up when the
	// last reference drops.
	UnmountLazy
)

func (m UnmountMode) String() string {
	switch m {
	case UnmountGraceful:
		return "graceful"
	case UnmountForced:
		return "forced"
	case UnmountLazy:
		return "lazy"
	default:
		return "unknown"
	}
}

// ErrNoUnmountCommand means this platform has no external unmount command;
// callers fall through to terminating the agent process.
var ErrNoUnmountCommand = errors.New("no unmount command on this platform")

// Unmount detaches mountPoint using the platform command for mode. The caller
// bounds each mode with the context and falls through modes on failure.
func (a *Adapter) Unmount(ctx context.Context, mountPoint string, mode UnmountMode) error {
	name, args, err := unmountArgv(mountPoint, mode)
	if err != nil {
		return err
	}
	return a.runCmd(ctx, name, args...)
}
