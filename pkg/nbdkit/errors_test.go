package nbdkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestErrnoOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErrno unix.Errno
		wantMsg   string
	}{
		{"Explicit", NewError(unix.ENOSPC, "disk full"), unix.ENOSPC, "disk full"},
		{"WrappedExplicit", fmt.Errorf("write: %w", Errorf(unix.EROFS, "ro %d", 1)), unix.EROFS, "write: ro 1"},
		{"Errno", unix.ENOTDIR, unix.ENOTDIR, unix.ENOTDIR.Error()},
		{"WrappedErrno", fmt.Errorf("open: %w", unix.EACCES), unix.EACCES, "open: " + unix.EACCES.Error()},
		{"NotSupported", ErrNotSupported, unix.EOPNOTSUPP, "operation not supported"},
		{"NotExist", os.ErrNotExist, unix.ENOENT, "file does not exist"},
		{"Exist", os.ErrExist, unix.EEXIST, "file already exists"},
		{"Permission", os.ErrPermission, unix.EPERM, "permission denied"},
		{"Closed", os.ErrClosed, unix.EBADF, "file already closed"},
		{"Canceled", context.Canceled, unix.ECANCELED, "context canceled"},
		{"Deadline", context.DeadlineExceeded, unix.ETIMEDOUT, "context deadline exceeded"},
		{"Other", io.ErrUnexpectedEOF, unix.EIO, "unexpected EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errno, msg := ErrnoOf(tt.err)
			assert.Equal(t, tt.wantErrno, errno)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestErrnoOfNil(t *testing.T) {
	errno, msg := ErrnoOf(nil)
	assert.Equal(t, unix.Errno(0), errno)
	assert.Empty(t, msg)
}

func TestErrorUnwrapsToErrno(t *testing.T) {
	err := NewError(unix.EIO, "I/O Schmerror")
	assert.True(t, errors.Is(err, unix.EIO))
	assert.False(t, errors.Is(err, unix.EINVAL))
	assert.Equal(t, "I/O Schmerror", err.Error())
}

func TestReportErrorOrder(t *testing.T) {
	host := withHost(t)

	reportError(NewError(unix.EINVAL, "Invalid value for foo"))

	assert.Equal(t, []string{"Invalid value for foo"}, host.errors)
	assert.Equal(t, []unix.Errno{unix.EINVAL}, host.errnos)
}
