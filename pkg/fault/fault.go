// Package fault defines the stable error kinds surfaced to the view-model.
//
// Every operation that can fail returns an error; errors that cross the
// worker/view-model boundary are wrapped in *Error so the frontend can key
// its behavior off Kind without parsing messages. Remediation, when present,
// holds the exact shell commands a user can run to fix the condition by hand.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a stable error identifier. Values are part of the view-model
// contract and must not change between releases.
type Kind string

const (
	AuthInvalid    Kind = "AUTH_INVALID"
	AuthExpired    Kind = "AUTH_EXPIRED"
	NetworkTimeout Kind = "NETWORK_TIMEOUT"
	NetworkError   Kind = "NETWORK_ERROR"
	ServerError    Kind = "SERVER_ERROR"

	AgentNotFound     Kind = "AGENT_NOT_FOUND"
	AgentCrashed      Kind = "AGENT_CRASHED"
	AgentVolatilePath Kind = "AGENT_VOLATILE_PATH"

	MountVerifyTimeout    Kind = "MOUNT_VERIFY_TIMEOUT"
	MountPointNotEmpty    Kind = "MOUNT_POINT_NOT_EMPTY"
	MountPointUncleanable Kind = "MOUNT_POINT_UNCLEANABLE"
	StaleMountRecovered   Kind = "STALE_MOUNT_RECOVERED"

	PersistUserCancelled   Kind = "PERSIST_USER_CANCELLED"
	PersistElevationFailed Kind = "PERSIST_ELEVATION_FAILED"
	PersistArtifactStale   Kind = "PERSIST_ARTIFACT_STALE"

	TempURLKeyNotAccepted Kind = "TEMPURL_KEY_NOT_ACCEPTED"
	TempURLKeyDesync      Kind = "TEMPURL_KEY_DESYNC"

	OrphanMountDetected Kind = "ORPHAN_MOUNT_DETECTED"
)

// Error is a typed error carrying a stable kind, a human-readable detail and
// optional remediation commands.
type Error struct {
	Kind        Kind
	Detail      string
	Status      int      // HTTP status, set for ServerError
	Remediation []string // exact shell commands, set when manual cleanup applies
	cause       error
}

// New creates an Error with the given kind and detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates an Error with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// WithStatus returns a copy with the HTTP status set.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.Status = status
	return &c
}

// WithRemediation returns a copy carrying manual-cleanup commands.
func (e *Error) WithRemediation(cmds ...string) *Error {
	c := *e
	c.Remediation = cmds
	return &c
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == ServerError && e.Status != 0:
		return fmt.Sprintf("%s(%d): %s", e.Kind, e.Status, e.Detail)
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is allows errors.Is comparison against a bare kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind from err, or "" when err carries no *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
