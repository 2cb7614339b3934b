package cabi

/*
#include <sys/socket.h>
#include "plugin.h"
*/
import "C"

import (
	"net"
	"syscall"
	"unsafe"

	"github.com/marmos91/dittobd/pkg/nbdkit"
	"golang.org/x/sys/unix"
)

func init() {
	nbdkit.SetHost(cHost{})
}

// cHost implements nbdkit.Host on top of the nbdkit_* functions exported
// by the server executable.
type cHost struct{}

func (cHost) Error(msg string) {
	cs := C.CString(msg)
	defer C.free(unsafe.Pointer(cs))
	C.dittobd_error(cs)
}

func (cHost) SetError(errno unix.Errno) {
	C.nbdkit_set_error(C.int(errno))
}

func (cHost) Debug(msg string) {
	cs := C.CString(msg)
	defer C.free(unsafe.Pointer(cs))
	C.dittobd_debug(cs)
}

func (cHost) AddExtent(acc unsafe.Pointer, offset, length uint64, typ nbdkit.ExtentType) error {
	r, err := C.nbdkit_add_extent((*C.struct_nbdkit_extents)(acc),
		C.uint64_t(offset), C.uint64_t(length), C.uint32_t(typ))
	if r == 0 {
		return nil
	}
	errno, ok := err.(syscall.Errno)
	if !ok || errno == 0 {
		errno = unix.EINVAL
	}
	return nbdkit.Errorf(errno, "nbdkit_add_extent(%d, %d, %s): %v", offset, length, typ, errno)
}

func (cHost) ExportName() (string, bool) {
	cs := C.dittobd_export_name()
	if cs == nil {
		return "", false
	}
	return C.GoString(cs), true
}

func (cHost) PeerName() (net.Addr, error) {
	var (
		family C.int
		port   C.int
		buf    [108]byte
		n      = C.size_t(len(buf))
	)
	r, err := C.dittobd_peer_name(&family, (*C.uint8_t)(unsafe.Pointer(&buf[0])), &n, &port)
	if r != 0 {
		errno, ok := err.(syscall.Errno)
		if !ok || errno == 0 {
			errno = unix.ENOTCONN
		}
		return nil, nbdkit.Errorf(errno, "nbdkit_peer_name: %v", errno)
	}

	raw := buf[:n]
	switch family {
	case C.AF_INET, C.AF_INET6:
		ip := make(net.IP, len(raw))
		copy(ip, raw)
		return &net.TCPAddr{IP: ip, Port: int(port)}, nil
	case C.AF_UNIX:
		return &net.UnixAddr{Name: string(raw), Net: "unix"}, nil
	default:
		return nil, nbdkit.Errorf(unix.EAFNOSUPPORT, "unsupported peer address family %d", int(family))
	}
}

func (cHost) StdioSafe() bool {
	return C.nbdkit_stdio_safe() != 0
}

func (cHost) Shutdown() {
	C.nbdkit_shutdown()
}
