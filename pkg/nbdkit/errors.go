package nbdkit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Sentinel Errors
// ============================================================================

var (
	// ErrNotSupported is returned by a plugin to decline an operation the host
	// thought might be available. It maps to EOPNOTSUPP, which makes the host
	// fall back (e.g. from Zero to WriteAt) unless a fast path was requested.
	ErrNotSupported = errors.New("operation not supported")

	// ErrAlreadyRegistered is returned when a second, different plugin is
	// registered in a process that already has one.
	ErrAlreadyRegistered = errors.New("a different plugin is already registered")
)

// ============================================================================
// Error
// ============================================================================

// Error is a failure carrying an errno for the host and a message for the
// log. Returning an *Error from a Plugin or Server method controls exactly
// what the client sees; any other error is translated by ErrnoOf.
type Error struct {
	Errno unix.Errno
	Msg   string
}

// NewError returns an *Error with the given errno and message.
func NewError(errno unix.Errno, msg string) *Error {
	return &Error{Errno: errno, Msg: msg}
}

// Errorf returns an *Error with a formatted message.
func Errorf(errno unix.Errno, format string, args ...any) *Error {
	return &Error{Errno: errno, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Msg
}

// Unwrap exposes the errno so errors.Is(err, unix.EIO) works.
func (e *Error) Unwrap() error {
	return e.Errno
}

// ErrnoOf returns the errno and message the host should see for err.
//
// Mapping:
//   - *Error: its own errno and message
//   - unix.Errno anywhere in the chain: that errno
//   - ErrNotSupported: EOPNOTSUPP
//   - os.ErrNotExist / os.ErrExist / os.ErrPermission / os.ErrClosed /
//     os.ErrInvalid: ENOENT / EEXIST / EPERM / EBADF / EINVAL
//   - context.Canceled / context.DeadlineExceeded: ECANCELED / ETIMEDOUT
//   - anything else: EIO
//
// The message is always err.Error(), verbatim.
func ErrnoOf(err error) (unix.Errno, string) {
	if err == nil {
		return 0, ""
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Errno, err.Error()
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, err.Error()
	}

	switch {
	case errors.Is(err, ErrNotSupported):
		return unix.EOPNOTSUPP, err.Error()
	case errors.Is(err, os.ErrNotExist):
		return unix.ENOENT, err.Error()
	case errors.Is(err, os.ErrExist):
		return unix.EEXIST, err.Error()
	case errors.Is(err, os.ErrPermission):
		return unix.EPERM, err.Error()
	case errors.Is(err, os.ErrClosed):
		return unix.EBADF, err.Error()
	case errors.Is(err, os.ErrInvalid):
		return unix.EINVAL, err.Error()
	case errors.Is(err, context.Canceled):
		return unix.ECANCELED, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return unix.ETIMEDOUT, err.Error()
	default:
		return unix.EIO, err.Error()
	}
}

// reportError forwards err to the host: message first, then errno.
func reportError(err error) {
	errno, msg := ErrnoOf(err)
	h := currentHost()
	h.Error(msg)
	h.SetError(errno)
}
