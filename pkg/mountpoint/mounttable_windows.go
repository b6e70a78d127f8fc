package mountpoint

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// listMountTargets returns the set of drive-letter roots backed by remote or
// removable volumes. WinFsp directory mounts have no mount-table entry, so
// path-style mount points are classified purely by their probe behavior.
func listMountTargets() (map[string]bool, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate drives: %w", err)
	}

	targets := make(map[string]bool)
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		root := string(rune('A'+i)) + `:\`
		rootPtr, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		switch windows.GetDriveType(rootPtr) {
		case windows.DRIVE_REMOTE, windows.DRIVE_NO_ROOT_DIR:
			targets[string(rune('A'+i))+":"] = true
			targets[root] = true
		}
	}
	return targets, nil
}
