package agent

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// detachedSysProcAttr starts the agent without a console window and in its
// own process group.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateProcess ends the agent. Windows has no graceful signal for
// detached processes, so this is equivalent to Kill.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
