package mountpoint

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// AvailableDriveLetter returns a free drive letter, scanning from Z: down so
// low letters stay available for removable media.
func AvailableDriveLetter() (string, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate drives: %w", err)
	}

	for i := 25; i >= 3; i-- {
		if mask&(1<<uint(i)) == 0 {
			return string(rune('A'+i)) + ":", nil
		}
	}
	return "", errors.New("no free drive letter")
}
