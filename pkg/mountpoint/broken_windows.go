package mountpoint

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isBrokenMountErr reports whether err is the signature of a mount whose
// agent died: the volume claims to exist but cannot service requests.
func isBrokenMountErr(err error) bool {
	return errors.Is(err, windows.ERROR_DEVICE_NOT_CONNECTED) ||
		errors.Is(err, windows.ERROR_NOT_READY) ||
		errors.Is(err, windows.ERROR_SEM_TIMEOUT)
}
