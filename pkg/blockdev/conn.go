package blockdev

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/marmos91/dittobd/internal/ratelimiter"
	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/marmos91/dittobd/pkg/store/block"
	"golang.org/x/sys/unix"
)

// Conn serves one client connection from the shared block store.
//
// Thread Safety:
// The host calls Conn methods concurrently (ThreadModelParallel); Conn only
// holds immutable state and relies on the store for synchronization.
type Conn struct {
	id       uuid.UUID
	plugin   *Plugin
	ctx      context.Context
	store    block.Store
	size     uint64
	readonly bool
	limiter  *ratelimiter.RateLimiter
}

// ID returns the connection identifier used in log lines.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// checkRange fails requests that extend past the end of the export.
func (c *Conn) checkRange(op string, offset, length uint64) error {
	if offset > c.size || length > c.size-offset {
		return nbdkit.NewError(unix.EINVAL, fmt.Sprintf("%s: %d bytes at %d: %v (size %d)",
			op, length, offset, block.ErrOutOfRange, c.size))
	}
	return nil
}

func (c *Conn) checkWritable(op string) error {
	if c.readonly {
		return nbdkit.NewError(unix.EROFS, op+": "+block.ErrReadOnly.Error())
	}
	return nil
}

// throttle waits for the I/O limits to admit a request moving n bytes.
func (c *Conn) throttle(n int) error {
	return c.limiter.Wait(c.ctx, n)
}

// fua flushes when the request carries FUA.
func (c *Conn) fua(flags nbdkit.Flags) error {
	if flags.Has(nbdkit.FlagFUA) {
		return toNBD(c.store.Flush(c.ctx))
	}
	return nil
}

// ============================================================================
// Data Operations
// ============================================================================

// GetSize implements nbdkit.Server.
func (c *Conn) GetSize() (int64, error) {
	return int64(c.size), nil
}

// ReadAt implements nbdkit.Server.
func (c *Conn) ReadAt(buf []byte, offset uint64) error {
	if err := c.checkRange("pread", offset, uint64(len(buf))); err != nil {
		return err
	}
	if err := c.throttle(len(buf)); err != nil {
		return err
	}
	return toNBD(c.store.ReadAt(c.ctx, buf, offset))
}

// WriteAt implements nbdkit.Server.
func (c *Conn) WriteAt(buf []byte, offset uint64, flags nbdkit.Flags) error {
	if err := c.checkWritable("pwrite"); err != nil {
		return err
	}
	if err := c.checkRange("pwrite", offset, uint64(len(buf))); err != nil {
		return nbdkit.NewError(unix.ENOSPC, err.Error())
	}
	if err := c.throttle(len(buf)); err != nil {
		return err
	}
	if err := c.store.WriteAt(c.ctx, buf, offset); err != nil {
		return toNBD(err)
	}
	return c.fua(flags)
}

// Flush implements nbdkit.Server.
func (c *Conn) Flush() error {
	return toNBD(c.store.Flush(c.ctx))
}

// Trim implements nbdkit.Server.
func (c *Conn) Trim(count uint32, offset uint64, flags nbdkit.Flags) error {
	if err := c.checkWritable("trim"); err != nil {
		return err
	}
	if err := c.checkRange("trim", offset, uint64(count)); err != nil {
		return err
	}
	t, ok := c.store.(block.Trimmer)
	if !ok {
		return nbdkit.ErrNotSupported
	}
	if err := c.throttle(0); err != nil {
		return err
	}
	if err := t.Trim(c.ctx, offset, uint64(count)); err != nil {
		return toNBD(err)
	}
	return c.fua(flags)
}

// Zero implements nbdkit.Server.
//
// Without a Zeroer, or with a slow one when FAST_ZERO is requested, Zero
// fails with EOPNOTSUPP and the host falls back to writing zeros.
func (c *Conn) Zero(count uint32, offset uint64, flags nbdkit.Flags) error {
	if err := c.checkWritable("zero"); err != nil {
		return err
	}
	if err := c.checkRange("zero", offset, uint64(count)); err != nil {
		return nbdkit.NewError(unix.ENOSPC, err.Error())
	}
	z, ok := c.store.(block.Zeroer)
	if !ok {
		return nbdkit.ErrNotSupported
	}
	if flags.Has(nbdkit.FlagFastZero) && !z.FastZero() {
		return nbdkit.ErrNotSupported
	}
	if err := c.throttle(0); err != nil {
		return err
	}
	if err := z.Zero(c.ctx, offset, uint64(count)); err != nil {
		return toNBD(err)
	}
	return c.fua(flags)
}

// Cache implements nbdkit.Server.
func (c *Conn) Cache(count uint32, offset uint64) error {
	if err := c.checkRange("cache", offset, uint64(count)); err != nil {
		return err
	}
	if pf, ok := c.store.(block.Prefetcher); ok {
		if err := c.throttle(int(count)); err != nil {
			return err
		}
		return toNBD(pf.Prefetch(c.ctx, offset, uint64(count)))
	}
	return nil
}

// Extents implements nbdkit.Server. Stores without an ExtentMapper report
// the whole range as allocated data.
func (c *Conn) Extents(count uint32, offset uint64, flags nbdkit.Flags, h *nbdkit.ExtentHandle) error {
	if err := c.checkRange("extents", offset, uint64(count)); err != nil {
		return err
	}

	m, ok := c.store.(block.ExtentMapper)
	if !ok {
		return h.Add(offset, uint64(count), nbdkit.ExtentAllocated)
	}

	extents, err := m.Extents(c.ctx, offset, uint64(count))
	if err != nil {
		return toNBD(err)
	}
	for _, e := range extents {
		if err := h.Add(e.Offset, e.Length, ExtentTypeOf(e)); err != nil {
			return err
		}
		if flags.Has(nbdkit.FlagReqOne) {
			break
		}
	}
	return nil
}

// ExtentTypeOf maps the status of a store extent to the nbdkit extent type.
func ExtentTypeOf(e block.Extent) nbdkit.ExtentType {
	var t nbdkit.ExtentType
	if e.Hole {
		t |= nbdkit.ExtentHole
	}
	if e.Zero {
		t |= nbdkit.ExtentZero
	}
	return t
}

// Close implements io.Closer.
func (c *Conn) Close() error {
	c.plugin.release(c)
	return nil
}

// ============================================================================
// Capability Queries
// ============================================================================

func (c *Conn) CanWrite() (bool, error) { return !c.readonly, nil }
func (c *Conn) CanFlush() (bool, error) { return true, nil }

func (c *Conn) CanTrim() (bool, error) {
	_, ok := c.store.(block.Trimmer)
	return ok, nil
}

func (c *Conn) CanZero() (bool, error) {
	_, ok := c.store.(block.Zeroer)
	return ok, nil
}

// CanFastZero reports true: Zero honours FAST_ZERO by failing early when
// the store cannot zero quickly.
func (c *Conn) CanFastZero() (bool, error) { return true, nil }

func (c *Conn) CanFua() (nbdkit.FuaFlags, error) { return nbdkit.FuaNative, nil }

func (c *Conn) CanCache() (nbdkit.CacheFlags, error) {
	if _, ok := c.store.(block.Prefetcher); ok {
		return nbdkit.CacheNative, nil
	}
	return nbdkit.CacheNone, nil
}

// CanMultiConn reports true: every connection shares one store, so a flush
// on one connection covers writes made on all of them.
func (c *Conn) CanMultiConn() (bool, error) { return true, nil }

func (c *Conn) CanExtents() (bool, error) {
	_, ok := c.store.(block.ExtentMapper)
	return ok, nil
}

func (c *Conn) IsRotational() (bool, error) { return false, nil }
