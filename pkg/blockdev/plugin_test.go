package blockdev

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
	"unsafe"

	"github.com/marmos91/dittobd/pkg/config"
	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/marmos91/dittobd/pkg/store/block/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPlugin_Metadata(t *testing.T) {
	p := New()
	assert.Equal(t, "dittobd", p.Name())
	assert.Equal(t, Version, p.Version())
	assert.Equal(t, "size", p.MagicConfigKey())
	assert.NotEmpty(t, p.LongName())
	assert.NotEmpty(t, p.Description())
	assert.Contains(t, p.ConfigHelp(), "size=")

	tm, err := p.ThreadModel()
	require.NoError(t, err)
	assert.Equal(t, nbdkit.ThreadModelParallel, tm)
}

func TestPlugin_DumpPlugin(t *testing.T) {
	var out bytes.Buffer
	p := New()
	p.dumpOut = &out
	p.DumpPlugin()

	assert.Contains(t, out.String(), "dittobd_stores=memory,badger,bolt,s3\n")
	assert.Contains(t, out.String(), "dittobd_default_block_size=65536\n")
	assert.Contains(t, out.String(), "dittobd_capabilities=")
	assert.Contains(t, out.String(), "pwrite")
	assert.NotContains(t, out.String(), "{")
}

func TestPlugin_ConfigErrors(t *testing.T) {
	installHost(t)

	t.Run("UnknownKey", func(t *testing.T) {
		err := New().Config("colour", "blue")
		assert.Equal(t, unix.EINVAL, errnoOf(err))
	})

	t.Run("MissingSize", func(t *testing.T) {
		err := New().ConfigComplete()
		assert.Equal(t, unix.EINVAL, errnoOf(err))
	})

	t.Run("BadClientPattern", func(t *testing.T) {
		p := New()
		require.NoError(t, p.Config("size", "1M"))
		require.NoError(t, p.Config("allowed_clients", "not-an-ip"))
		assert.Equal(t, unix.EINVAL, errnoOf(p.ConfigComplete()))
	})

	t.Run("GetReadyBeforeConfig", func(t *testing.T) {
		assert.Equal(t, unix.EINVAL, errnoOf(New().GetReady()))
	})
}

func TestPlugin_Lifecycle(t *testing.T) {
	h := installHost(t)
	h.export = "disk0"

	p := New()
	prepare(t, p, "size", "1MiB")

	a, err := p.Open(false)
	require.NoError(t, err)
	b, err := p.Open(true)
	require.NoError(t, err)
	assert.NotEqual(t, a.(*Conn).ID(), b.(*Conn).ID())
	assert.Equal(t, 2, p.conns)

	// Connections share one store.
	require.NoError(t, a.WriteAt([]byte("shared"), 10, 0))
	got := make([]byte, 6)
	require.NoError(t, b.ReadAt(got, 10))
	assert.Equal(t, "shared", string(got))

	require.NoError(t, a.(*Conn).Close())
	require.NoError(t, b.(*Conn).Close())
	assert.Zero(t, p.conns)

	p.Unload()
	_, err = p.Open(false)
	assert.Equal(t, unix.ESHUTDOWN, errnoOf(err))
}

func TestPlugin_PreConnect(t *testing.T) {
	h := installHost(t)

	t.Run("NoRules", func(t *testing.T) {
		p := readyPlugin(t, "size", "1M")
		assert.NoError(t, p.PreConnect(false))
	})

	p := readyPlugin(t,
		"size", "1M",
		"allowed_clients", "10.0.0.0/8",
		"denied_clients", "10.0.0.66")

	h.peer = &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 40000}
	assert.NoError(t, p.PreConnect(false))

	h.peer = &net.TCPAddr{IP: net.ParseIP("10.0.0.66"), Port: 40000}
	assert.Equal(t, unix.EPERM, errnoOf(p.PreConnect(false)))

	h.peer = &net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 40000}
	assert.Equal(t, unix.EPERM, errnoOf(p.PreConnect(true)))

	h.peer = nil
	assert.Equal(t, unix.EPERM, errnoOf(p.PreConnect(false)))
}

// TestRegister drives dittobd through the descriptor the C layer exports.
func TestRegister(t *testing.T) {
	h := installHost(t)

	p := New()
	d, err := nbdkit.Register(p, nbdkit.Options{Capabilities: Capabilities()})
	require.NoError(t, err)

	assert.Equal(t, "dittobd", d.Name)
	assert.Equal(t, "size", d.MagicConfigKey)
	for _, slot := range []string{"pwrite", "trim", "zero", "extents", "cache", "can_fast_zero", "preconnect", "get_ready"} {
		assert.True(t, d.Has(slot), slot)
	}

	d.Load()
	require.Zero(t, d.Config(cString("size"), cString("64KiB")))
	require.Zero(t, d.Config(cString("block_size"), cString("4KiB")))
	require.Zero(t, d.ConfigComplete())
	require.Zero(t, d.GetReady())
	defer d.Unload()

	handle := d.Open(0)
	require.NotZero(t, handle)
	defer d.Close(handle)

	assert.Equal(t, int64(64<<10), d.GetSize(handle))
	assert.Equal(t, int32(1), d.CanWrite(handle))
	assert.Equal(t, int32(nbdkit.FuaNative), d.CanFua(handle))

	data := []byte("through the descriptor")
	require.Zero(t, d.PWrite(handle, unsafe.Pointer(&data[0]), uint32(len(data)), 4096, 0))

	got := make([]byte, len(data))
	require.Zero(t, d.PRead(handle, unsafe.Pointer(&got[0]), uint32(len(got)), 4096, 0))
	assert.Equal(t, data, got)

	require.Zero(t, d.Extents(handle, 3*4096, 0, 0, nil))
	assert.Equal(t, []extent{
		{0, 4096, nbdkit.ExtentHoleZero},
		{4096, 4096, nbdkit.ExtentAllocated},
		{8192, 4096, nbdkit.ExtentHoleZero},
	}, h.recorded())

	assert.Equal(t, int32(-1), d.PRead(handle, unsafe.Pointer(&got[0]), uint32(len(got)), 64<<10, 0))
	assert.NotEmpty(t, h.errors)
}

// cString returns a NUL-terminated copy of s.
func cString(s string) unsafe.Pointer {
	b := append([]byte(s), 0)
	return unsafe.Pointer(&b[0])
}

func TestPlugin_GC(t *testing.T) {
	installHost(t)

	// seeded returns a plugin whose store already holds blocks 0, 100 and
	// 300 of 4 KiB, as left by an earlier, larger export.
	seeded := func(t *testing.T, wrap func(block.Store) block.Store) (*Plugin, *memory.Store) {
		t.Helper()
		s, err := memory.New(memory.Config{BlockSize: 4096})
		require.NoError(t, err)
		for _, idx := range []uint64{0, 100, 300} {
			require.NoError(t, s.WriteAt(context.Background(), []byte{1}, idx*4096))
		}

		p := New()
		p.storeFactory = func(context.Context, *config.StoreConfig, int) (block.Store, error) {
			return wrap(s), nil
		}
		return p, s
	}
	blocks := func(s *memory.Store) []uint64 {
		list, _ := s.ListBlocks(context.Background(), 0)
		return list
	}
	same := func(s block.Store) block.Store { return s }

	t.Run("Enabled", func(t *testing.T) {
		p, s := seeded(t, same)
		prepare(t, p, "size", "1MiB", "block_size", "4KiB", "gc.enabled", "true")
		require.NotNil(t, p.gc)

		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]uint64{0}, blocks(s))
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("DryRun", func(t *testing.T) {
		p, s := seeded(t, same)
		prepare(t, p, "size", "1MiB", "block_size", "4KiB", "gc.enabled", "true", "gc.dry_run", "true")
		require.NotNil(t, p.gc)
		require.NoError(t, p.gc.Stop(context.Background()))
		assert.Equal(t, []uint64{0, 100, 300}, blocks(s))
	})

	t.Run("Disabled", func(t *testing.T) {
		p, _ := seeded(t, same)
		prepare(t, p, "size", "1MiB", "block_size", "4KiB")
		assert.Nil(t, p.gc)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		p, _ := seeded(t, same)
		prepare(t, p, "size", "1MiB", "block_size", "4KiB", "readonly", "true", "gc.enabled", "true")
		assert.Nil(t, p.gc)
	})

	t.Run("NotCollectable", func(t *testing.T) {
		p, _ := seeded(t, func(s block.Store) block.Store { return plainStore{s} })
		prepare(t, p, "size", "1MiB", "block_size", "4KiB", "gc.enabled", "true")
		assert.Nil(t, p.gc)
	})
}
