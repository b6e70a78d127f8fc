package persist

import (
	"context"
	"errors"
	"os/exec"
)

// pkexec exit codes per its man page.
const (
	pkexecExitCancelled  = 126
	pkexecExitNotAllowed = 127
)

// Pkexec is the polkit-backed PrivilegeHelper used on Linux desktops.
type Pkexec struct{}

// RunElevated runs the command through pkexec, which shows the desktop
// authentication dialog. A dismissed dialog reports cancelled=true.
func (Pkexec) RunElevated(ctx context.Context, name string, args ...string) (bool, error) {
	cmd := exec.CommandContext(ctx, "pkexec", append([]string{name}, args...)...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return false, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case pkexecExitCancelled, pkexecExitNotAllowed:
			return true, nil
		}
	}

	if len(out) > 0 {
		return false, &commandError{name: "pkexec", err: err, output: string(out)}
	}
	return false, &commandError{name: "pkexec", err: err}
}
