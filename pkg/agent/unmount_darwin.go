package agent

// unmountArgv maps a mode to the macOS unmount command.
func unmountArgv(mountPoint string, mode UnmountMode) (string, []string, error) {
	switch mode {
	case UnmountForced:
		return "umount", []string{"-f", mountPoint}, nil
	case UnmountLazy:
		return "diskutil", []string{"unmount", "force", mountPoint}, nil
	default:
		return "umount", []string{mountPoint}, nil
	}
}
