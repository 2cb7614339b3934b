package blockdev

import (
	"errors"

	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/marmos91/dittobd/pkg/store/block"
	"golang.org/x/sys/unix"
)

// storeErrnos maps block store sentinels to the errno the client sees.
// Anything else falls through to nbdkit.ErrnoOf.
var storeErrnos = []struct {
	err   error
	errno unix.Errno
}{
	{block.ErrOutOfRange, unix.EINVAL},
	{block.ErrNoSpace, unix.ENOSPC},
	{block.ErrReadOnly, unix.EROFS},
	{block.ErrStoreClosed, unix.ESHUTDOWN},
	{block.ErrInvalidBlockSize, unix.EINVAL},
}

// toNBD attaches the errno matching a store error, keeping its message.
func toNBD(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range storeErrnos {
		if errors.Is(err, m.err) {
			return nbdkit.NewError(m.errno, err.Error())
		}
	}
	return err
}
