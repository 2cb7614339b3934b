package nbdkit

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/marmos91/dittobd/internal/logger"
	"golang.org/x/sys/unix"
)

// Host is the set of services the nbdkit server offers to a plugin.
//
// Package cabi installs an implementation that calls the real nbdkit_*
// functions. Tests install a recording double with SetHost.
type Host interface {
	// Error reports a failure message for the current request
	// (nbdkit_error("%s", msg)).
	Error(msg string)

	// SetError sets the errno for the current request (nbdkit_set_error).
	SetError(errno unix.Errno)

	// Debug writes a debug message (nbdkit_debug("%s", msg)).
	Debug(msg string)

	// AddExtent appends one extent to the host-owned accumulator acc
	// (nbdkit_add_extent). A non-nil error carries the host's errno.
	AddExtent(acc unsafe.Pointer, offset, length uint64, typ ExtentType) error

	// ExportName returns the export name the client asked for, if known.
	ExportName() (string, bool)

	// PeerName returns the address of the connected client.
	PeerName() (net.Addr, error)

	// StdioSafe reports whether the plugin may use stdin/stdout.
	StdioSafe() bool

	// Shutdown asks the server to shut down asynchronously.
	Shutdown()
}

type hostBox struct{ h Host }

var host atomic.Pointer[hostBox]

func init() {
	host.Store(&hostBox{h: stderrHost{}})
}

// SetHost installs h as the host for every subsequent call and points the
// internal logger at h's debug channel. It must be called before the plugin
// is registered; it is not meant to be swapped while requests are running.
func SetHost(h Host) {
	if h == nil {
		h = stderrHost{}
	}
	host.Store(&hostBox{h: h})
	logger.SetOutput(debugWriter{h: h})
}

func currentHost() Host {
	return host.Load().h
}

// ============================================================================
// Host services for plugin code
// ============================================================================

// Debug writes a formatted debug message through the host.
func Debug(format string, args ...any) {
	currentHost().Debug(fmt.Sprintf(format, args...))
}

// ExportName returns the export name requested by the current client.
func ExportName() (string, bool) {
	return currentHost().ExportName()
}

// PeerName returns the address of the current client.
func PeerName() (net.Addr, error) {
	return currentHost().PeerName()
}

// StdioSafe reports whether the plugin may interact with stdin/stdout.
func StdioSafe() bool {
	return currentHost().StdioSafe()
}

// Shutdown asks the server to exit. It returns immediately.
func Shutdown() {
	currentHost().Shutdown()
}

// ============================================================================
// Default host
// ============================================================================

// errNoHost is returned by the fallback host for services only a real
// server can provide.
var errNoHost = errors.New("no nbdkit host attached")

// stderrHost is used until a real host is installed. Messages go to stderr
// so that misuse outside nbdkit is still visible.
type stderrHost struct{}

func (stderrHost) Error(msg string)            { fmt.Fprintf(os.Stderr, "nbdkit: error: %s\n", msg) }
func (stderrHost) SetError(unix.Errno)         {}
func (stderrHost) Debug(msg string)            { fmt.Fprintf(os.Stderr, "nbdkit: debug: %s\n", msg) }
func (stderrHost) ExportName() (string, bool)  { return "", false }
func (stderrHost) PeerName() (net.Addr, error) { return nil, errNoHost }
func (stderrHost) StdioSafe() bool             { return false }
func (stderrHost) Shutdown()                   {}

func (stderrHost) AddExtent(unsafe.Pointer, uint64, uint64, ExtentType) error {
	return NewError(unix.EINVAL, errNoHost.Error())
}

// debugWriter turns logger output into host debug messages, one per line.
type debugWriter struct{ h Host }

func (w debugWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte{'\n'}) {
		if len(line) > 0 {
			w.h.Debug(string(line))
		}
	}
	return len(p), nil
}
