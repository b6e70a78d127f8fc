package agent

// unmountArgv maps a mode to the FUSE unmount command.
func unmountArgv(mountPoint string, mode UnmountMode) (string, []string, error) {
	switch mode {
	case UnmountForced:
		return "fusermount", []string{"-uz", mountPoint}, nil
	case UnmountLazy:
		return "umount", []string{"-l", mountPoint}, nil
	default:
		return "fusermount", []string{"-u", mountPoint}, nil
	}
}
