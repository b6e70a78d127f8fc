package agent

// unmountArgv has no external command on Windows; the mount goes away when
// the agent process is terminated.
func unmountArgv(string, UnmountMode) (string, []string, error) {
	return "", nil, ErrNoUnmountCommand
}
