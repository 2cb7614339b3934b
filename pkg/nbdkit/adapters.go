package nbdkit

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
	"unsafe"

	"github.com/marmos91/dittobd/internal/logger"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Helpers
// ============================================================================

// done records the call and, on failure, forwards err to the host. It returns
// the value the slot must hand back: 0 on success, -1 on failure.
func (b *binding) done(op string, start time.Time, err error) int32 {
	if err != nil {
		errno, _ := ErrnoOf(err)
		reportError(err)
		b.metrics.ObserveCall(op, time.Since(start), int(errno))
		logger.Debug("%s failed: %v (%s)", op, err, unix.ErrnoName(errno))
		return -1
	}
	b.metrics.ObserveCall(op, time.Since(start), 0)
	return 0
}

// boolResult encodes a boolean can_* answer.
func (b *binding) boolResult(op string, start time.Time, v bool, err error) int32 {
	if err != nil {
		return b.done(op, start, err)
	}
	b.done(op, start, nil)
	if v {
		return 1
	}
	return 0
}

// mustFlags decodes a flags word. Unknown bits mean host and plugin disagree
// on the ABI, which is not recoverable.
func mustFlags(op string, raw uint32) Flags {
	f, err := DecodeFlags(raw)
	if err != nil {
		panic(fmt.Sprintf("nbdkit: %s: %v", op, err))
	}
	return f
}

// buffer returns a view of exactly count bytes at p.
func buffer(p unsafe.Pointer, count uint32) []byte {
	if count == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(p), count)
}

// cString decodes a NUL-terminated, UTF-8 string owned by the host.
func cString(p unsafe.Pointer) (string, error) {
	if p == nil {
		return "", NewError(unix.EINVAL, "unexpected NULL string")
	}
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	raw := unsafe.Slice((*byte)(p), n)
	if !utf8.Valid(raw) {
		return "", NewError(unix.EINVAL, "string is not valid UTF-8")
	}
	return string(raw), nil
}

func readonlyArg(v int32) bool {
	return v != 0
}

// ============================================================================
// Process-wide slots
// ============================================================================

func (b *binding) load() {
	b.plugin.Load()
}

func (b *binding) unload() {
	b.plugin.Unload()
}

func (b *binding) dumpPlugin() {
	b.plugin.DumpPlugin()
}

func (b *binding) config(keyPtr, valuePtr unsafe.Pointer) int32 {
	start := time.Now()

	key, err := cString(keyPtr)
	if err != nil {
		return b.done("config", start, err)
	}
	value, err := cString(valuePtr)
	if err != nil {
		return b.done("config", start, err)
	}
	return b.done("config", start, b.plugin.Config(key, value))
}

func (b *binding) configComplete() int32 {
	start := time.Now()
	return b.done("config_complete", start, b.plugin.ConfigComplete())
}

func (b *binding) getReady() int32 {
	start := time.Now()
	return b.done("get_ready", start, b.plugin.GetReady())
}

func (b *binding) preConnect(readonly int32) int32 {
	start := time.Now()
	return b.done("preconnect", start, b.plugin.PreConnect(readonlyArg(readonly)))
}

func (b *binding) threadModel() int32 {
	start := time.Now()

	model, err := b.plugin.ThreadModel()
	if err != nil {
		return b.done("thread_model", start, err)
	}
	if _, derr := DecodeThreadModel(int32(model)); derr != nil {
		panic(fmt.Sprintf("nbdkit: thread_model: %v", derr))
	}
	b.done("thread_model", start, nil)
	return int32(model)
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// open returns 0 (NULL) on failure.
func (b *binding) open(readonly int32) Handle {
	start := time.Now()

	srv, err := b.plugin.Open(readonlyArg(readonly))
	if err == nil && srv == nil {
		err = errors.New("open returned no connection")
	}
	if err != nil {
		b.done("open", start, err)
		return 0
	}

	h := b.handles.insert(srv)
	b.metrics.SetOpenConnections(b.handles.len())
	b.done("open", start, nil)
	logger.Debug("Opened connection handle=%d readonly=%v", h, readonlyArg(readonly))
	return h
}

func (b *binding) close(h Handle) {
	start := time.Now()

	srv := b.handles.remove(h)
	b.metrics.SetOpenConnections(b.handles.len())

	if c, ok := srv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Closing connection handle=%d: %v", h, err)
		}
	}
	b.metrics.ObserveCall("close", time.Since(start), 0)
	logger.Debug("Closed connection handle=%d", h)
}

// ============================================================================
// Data slots
// ============================================================================

func (b *binding) getSize(h Handle) int64 {
	start := time.Now()

	size, err := b.handles.lookup(h).GetSize()
	if err == nil && size < 0 {
		err = Errorf(unix.EINVAL, "get_size returned negative size %d", size)
	}
	if err != nil {
		b.done("get_size", start, err)
		return -1
	}
	b.done("get_size", start, nil)
	return size
}

func (b *binding) pread(h Handle, buf unsafe.Pointer, count uint32, offset uint64, flags uint32) int32 {
	start := time.Now()
	srv := b.handles.lookup(h)
	mustFlags("pread", flags)

	err := srv.ReadAt(buffer(buf, count), offset)
	if err == nil {
		b.metrics.RecordBytes("pread", uint64(count))
	}
	return b.done("pread", start, err)
}

func (b *binding) pwrite(h Handle, buf unsafe.Pointer, count uint32, offset uint64, flags uint32) int32 {
	start := time.Now()
	srv := b.handles.lookup(h)
	f := mustFlags("pwrite", flags)

	err := srv.WriteAt(buffer(buf, count), offset, f)
	if err == nil {
		b.metrics.RecordBytes("pwrite", uint64(count))
	}
	return b.done("pwrite", start, err)
}

func (b *binding) flush(h Handle, flags uint32) int32 {
	start := time.Now()
	srv := b.handles.lookup(h)
	mustFlags("flush", flags)
	return b.done("flush", start, srv.Flush())
}

func (b *binding) trim(h Handle, count uint32, offset uint64, flags uint32) int32 {
	start := time.Now()
	srv := b.handles.lookup(h)
	f := mustFlags("trim", flags)

	err := srv.Trim(count, offset, f)
	if err == nil {
		b.metrics.RecordBytes("trim", uint64(count))
	}
	return b.done("trim", start, err)
}

func (b *binding) zero(h Handle, count uint32, offset uint64, flags uint32) int32 {
	start := time.Now()
	srv := b.handles.lookup(h)
	f := mustFlags("zero", flags)

	err := srv.Zero(count, offset, f)
	if err == nil {
		b.metrics.RecordBytes("zero", uint64(count))
	}
	return b.done("zero", start, err)
}

func (b *binding) cache(h Handle, count uint32, offset uint64, flags uint32) int32 {
	start := time.Now()
	srv := b.handles.lookup(h)
	mustFlags("cache", flags)
	return b.done("cache", start, srv.Cache(count, offset))
}

// extents hands the plugin a handle over the host accumulator. If any Add
// failed, the call fails with that error even if the plugin ignored it.
func (b *binding) extents(h Handle, count uint32, offset uint64, flags uint32, acc unsafe.Pointer) int32 {
	start := time.Now()
	srv := b.handles.lookup(h)
	f := mustFlags("extents", flags)

	eh := newExtentHandle(acc)
	err := srv.Extents(count, offset, f, eh)
	if err == nil {
		err = eh.Err()
	}
	eh.release()
	return b.done("extents", start, err)
}

// ============================================================================
// Capability queries
// ============================================================================

func (b *binding) canWrite(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).CanWrite()
	return b.boolResult("can_write", start, v, err)
}

func (b *binding) canFlush(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).CanFlush()
	return b.boolResult("can_flush", start, v, err)
}

func (b *binding) canTrim(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).CanTrim()
	return b.boolResult("can_trim", start, v, err)
}

func (b *binding) canZero(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).CanZero()
	return b.boolResult("can_zero", start, v, err)
}

func (b *binding) canMultiConn(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).CanMultiConn()
	return b.boolResult("can_multi_conn", start, v, err)
}

func (b *binding) canExtents(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).CanExtents()
	return b.boolResult("can_extents", start, v, err)
}

func (b *binding) canFastZero(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).CanFastZero()
	return b.boolResult("can_fast_zero", start, v, err)
}

func (b *binding) isRotational(h Handle) int32 {
	start := time.Now()
	v, err := b.handles.lookup(h).IsRotational()
	return b.boolResult("is_rotational", start, v, err)
}

func (b *binding) canFua(h Handle) int32 {
	start := time.Now()

	level, err := b.handles.lookup(h).CanFua()
	if err != nil {
		return b.done("can_fua", start, err)
	}
	if _, derr := DecodeFuaFlags(int32(level)); derr != nil {
		panic(fmt.Sprintf("nbdkit: can_fua: %v", derr))
	}
	b.done("can_fua", start, nil)
	return int32(level)
}

func (b *binding) canCache(h Handle) int32 {
	start := time.Now()

	level, err := b.handles.lookup(h).CanCache()
	if err != nil {
		return b.done("can_cache", start, err)
	}
	if _, derr := DecodeCacheFlags(int32(level)); derr != nil {
		panic(fmt.Sprintf("nbdkit: can_cache: %v", derr))
	}
	b.done("can_cache", start, nil)
	return int32(level)
}
