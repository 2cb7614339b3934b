package blockdev

import (
	"context"
	"net"
	"sync"
	"testing"
	"unsafe"

	"github.com/marmos91/dittobd/pkg/config"
	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/marmos91/dittobd/pkg/store/block/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// extent is one call to AddExtent as seen by fakeHost.
type extent struct {
	Offset uint64
	Length uint64
	Type   nbdkit.ExtentType
}

// fakeHost records what the plugin asks of the nbdkit server.
type fakeHost struct {
	mu       sync.Mutex
	peer     net.Addr
	export   string
	extents  []extent
	errors   []string
	shutdown int
}

func (h *fakeHost) Error(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

func (h *fakeHost) SetError(unix.Errno) {}
func (h *fakeHost) Debug(string)        {}
func (h *fakeHost) StdioSafe() bool     { return true }

func (h *fakeHost) AddExtent(_ unsafe.Pointer, offset, length uint64, typ nbdkit.ExtentType) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extents = append(h.extents, extent{offset, length, typ})
	return nil
}

func (h *fakeHost) ExportName() (string, bool) {
	return h.export, h.export != ""
}

func (h *fakeHost) PeerName() (net.Addr, error) {
	if h.peer == nil {
		return nil, unix.ENOTCONN
	}
	return h.peer, nil
}

func (h *fakeHost) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown++
}

func (h *fakeHost) recorded() []extent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]extent(nil), h.extents...)
}

// installHost makes h the nbdkit host for the rest of the test.
func installHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{}
	nbdkit.SetHost(h)
	t.Cleanup(func() { nbdkit.SetHost(nil) })
	return h
}

// readyPlugin returns a plugin that went through configuration and
// GetReady with the given parameters.
func readyPlugin(t *testing.T, params ...string) *Plugin {
	t.Helper()
	return prepare(t, New(), params...)
}

// prepare configures p with params and calls GetReady.
func prepare(t *testing.T, p *Plugin, params ...string) *Plugin {
	t.Helper()
	require.Zero(t, len(params)%2, "params must be key/value pairs")

	for i := 0; i < len(params); i += 2 {
		require.NoError(t, p.Config(params[i], params[i+1]))
	}
	require.NoError(t, p.ConfigComplete())
	require.NoError(t, p.GetReady())
	t.Cleanup(p.Unload)
	return p
}

// openConn opens a connection on a fresh plugin backed by a 1 MiB memory
// store with 4 KiB blocks.
func openConn(t *testing.T, readonly bool) (*Plugin, *Conn) {
	t.Helper()
	return openOn(t, New(), readonly)
}

// openOn prepares p like openConn does and opens a connection on it.
func openOn(t *testing.T, p *Plugin, readonly bool) (*Plugin, *Conn) {
	t.Helper()
	prepare(t, p, "size", "1MiB", "block_size", "4KiB")
	srv, err := p.Open(readonly)
	require.NoError(t, err)
	c := srv.(*Conn)
	t.Cleanup(func() { _ = c.Close() })
	return p, c
}

// withStore makes GetReady hand out the store built by wrap.
func withStore(wrap func(block.Store) block.Store) func(ctx context.Context, cfg *config.StoreConfig, blockSize int) (block.Store, error) {
	return func(ctx context.Context, cfg *config.StoreConfig, blockSize int) (block.Store, error) {
		s, err := memory.New(memory.Config{BlockSize: blockSize})
		if err != nil {
			return nil, err
		}
		return wrap(s), nil
	}
}

// plainStore hides every optional capability of the wrapped store.
type plainStore struct {
	block.Store
}

// slowZeroStore reports that zeroing is no faster than writing.
type slowZeroStore struct {
	*memory.Store
}

func (slowZeroStore) FastZero() bool { return false }

// errnoOf is a shorthand for the errno a client would see.
func errnoOf(err error) unix.Errno {
	errno, _ := nbdkit.ErrnoOf(err)
	return errno
}
