package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so mount, reconcile, and API events can be
// correlated per account and bucket.
const (
	KeyAccount    = "account"     // Object-store account (username)
	KeyBucket     = "bucket"      // Container/bucket name
	KeyMountPoint = "mount_point" // Local mount point path
	KeyState      = "state"       // Mount state (UNMOUNTED, MOUNTING, ...)
	KeyOp         = "op"          // Operation name: mount, unmount, install, ...
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyPID        = "pid"         // Mount agent process ID
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorKind  = "error_kind"  // Stable error kind identifier
	KeyStatus     = "status"      // HTTP status code
	KeyURL        = "url"         // Request URL (credentials stripped)
	KeyPath       = "path"        // Filesystem path
	KeyScheme     = "scheme"      // Credential encryption scheme
	KeyArtifact   = "artifact"    // Persistence artifact name (unit/task)
	KeyCount      = "count"       // Generic count
)

// Account returns a slog.Attr for the object-store account.
func Account(username string) slog.Attr {
	return slog.String(KeyAccount, username)
}

// Bucket returns a slog.Attr for a container name.
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// MountPoint returns a slog.Attr for a local mount point.
func MountPoint(path string) slog.Attr {
	return slog.String(KeyMountPoint, path)
}

// State returns a slog.Attr for a mount state.
func State(state string) slog.Attr {
	return slog.String(KeyState, state)
}

// Op returns a slog.Attr for an operation name.
func Op(name string) slog.Attr {
	return slog.String(KeyOp, name)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// PID returns a slog.Attr for a mount agent process ID.
func PID(pid int) slog.Attr {
	return slog.Int(KeyPID, pid)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorKind returns a slog.Attr for a stable error kind identifier.
func ErrorKind(kind string) slog.Attr {
	return slog.String(KeyErrorKind, kind)
}

// Status returns a slog.Attr for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Path returns a slog.Attr for a filesystem path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Artifact returns a slog.Attr for a persistence artifact name.
func Artifact(name string) slog.Attr {
	return slog.String(KeyArtifact, name)
}

// Count returns a slog.Attr for a generic count.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}
