//go:build !windows

package mountpoint

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isBrokenMountErr reports whether err is the signature of a FUSE endpoint
// whose agent died: ENOTCONN ("Transport endpoint is not connected"), or
// ESTALE/EIO from a wedged filesystem.
func isBrokenMountErr(err error) bool {
	return errors.Is(err, unix.ENOTCONN) ||
		errors.Is(err, unix.ESTALE) ||
		errors.Is(err, unix.EIO)
}
