package nbdkit

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ExtentHandle is the host-owned extent accumulator for one Extents call.
//
// It is only valid for the duration of that call. Extents must be added in
// ascending, contiguous order starting at the requested offset; the host
// enforces this and Add returns its error (typically ERANGE) otherwise.
type ExtentHandle struct {
	mu   sync.Mutex
	acc  unsafe.Pointer
	err  error
	done bool
}

func newExtentHandle(acc unsafe.Pointer) *ExtentHandle {
	return &ExtentHandle{acc: acc}
}

// Add appends one extent. After the first failure every later Add returns
// the same error without calling the host again.
func (h *ExtentHandle) Add(offset, length uint64, typ ExtentType) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done {
		return NewError(unix.EINVAL, "extent handle used after extents returned")
	}
	if h.err != nil {
		return h.err
	}
	if typ > ExtentHoleZero {
		h.err = Errorf(unix.EINVAL, "invalid extent type %d", uint32(typ))
		return h.err
	}
	if err := currentHost().AddExtent(h.acc, offset, length, typ); err != nil {
		h.err = err
		return err
	}
	return nil
}

// Err returns the first failure recorded by Add, if any.
func (h *ExtentHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// release invalidates the handle once the Extents call has returned.
func (h *ExtentHandle) release() {
	h.mu.Lock()
	h.done = true
	h.acc = nil
	h.mu.Unlock()
}
