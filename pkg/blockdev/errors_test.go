package blockdev

import (
	"errors"
	"fmt"
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestToNBD(t *testing.T) {
	assert.NoError(t, toNBD(nil))

	tests := []struct {
		err   error
		errno unix.Errno
	}{
		{block.ErrOutOfRange, unix.EINVAL},
		{block.ErrNoSpace, unix.ENOSPC},
		{block.ErrReadOnly, unix.EROFS},
		{block.ErrStoreClosed, unix.ESHUTDOWN},
		{block.ErrInvalidBlockSize, unix.EINVAL},
		{errors.New("disk on fire"), unix.EIO},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("block 7: %w", tt.err)
		err := toNBD(wrapped)
		assert.Equal(t, tt.errno, errnoOf(err), tt.err.Error())
		assert.Equal(t, wrapped.Error(), err.Error())
	}
}
