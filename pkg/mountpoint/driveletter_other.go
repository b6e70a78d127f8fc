//go:build !windows

package mountpoint

import "errors"

// AvailableDriveLetter is Windows-only.
func AvailableDriveLetter() (string, error) {
	return "", errors.New("drive letters are not supported on this platform")
}
