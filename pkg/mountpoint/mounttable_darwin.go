package mountpoint

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// listMountTargets returns the set of mount target paths via getfsstat(2).
func listMountTargets() (map[string]bool, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	stats := make([]unix.Statfs_t, n)
	n, err = unix.Getfsstat(stats, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	targets := make(map[string]bool, n)
	for _, st := range stats[:n] {
		targets[unix.ByteSliceToString(st.Mntonname[:])] = true
	}
	return targets, nil
}
