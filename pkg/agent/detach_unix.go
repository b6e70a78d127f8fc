//go:build !windows

package agent

import (
	"os"
	"syscall"
)

// detachedSysProcAttr starts the agent in its own session so it survives the
// terminal and does not receive our signals.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// terminateProcess asks the agent to exit gracefully.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
