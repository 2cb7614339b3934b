// Package block defines the storage backends behind a DittoBD export.
//
// A Store is a flat, sparse byte space addressed by offset. It has no notion
// of the export size: bounds are enforced by the caller. Ranges that were
// never written, or were trimmed or zeroed, read back as zeros.
//
// Optional behavior is exposed through capability interfaces (Trimmer,
// Zeroer, ExtentMapper, Prefetcher), checked with a type assertion:
//
//	if z, ok := store.(block.Zeroer); ok {
//	    err = z.Zero(ctx, offset, length)
//	}
package block

import (
	"context"
	"fmt"
)

// ============================================================================
// Store Interface
// ============================================================================

// Store is the minimal block backend.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines,
// including concurrent writes to overlapping ranges. Overlapping concurrent
// writes may land in any order, but each block ends up holding the bytes of
// one of them.
type Store interface {
	// ReadAt fills p with the bytes at offset. Unwritten ranges read as zeros.
	ReadAt(ctx context.Context, p []byte, offset uint64) error

	// WriteAt writes p at offset.
	WriteAt(ctx context.Context, p []byte, offset uint64) error

	// Flush makes every completed write durable.
	Flush(ctx context.Context) error

	// Close releases the store. Every call after Close fails with
	// ErrStoreClosed.
	Close() error
}

// ============================================================================
// Optional Capabilities
// ============================================================================

// Trimmer can discard a range. Discarded bytes read back as zeros.
type Trimmer interface {
	Trim(ctx context.Context, offset, length uint64) error
}

// Zeroer can zero a range without the caller writing zero bytes.
type Zeroer interface {
	Zero(ctx context.Context, offset, length uint64) error

	// FastZero reports whether Zero is substantially cheaper than writing
	// zeros.
	FastZero() bool
}

// ExtentMapper reports which parts of a range hold data.
type ExtentMapper interface {
	// Extents describes [offset, offset+length) as contiguous, ascending,
	// non-overlapping extents covering the whole range.
	Extents(ctx context.Context, offset, length uint64) ([]Extent, error)
}

// Prefetcher can warm a cache for a range ahead of reads.
type Prefetcher interface {
	Prefetch(ctx context.Context, offset, length uint64) error
}

// Collectable can enumerate and drop whole blocks. The garbage collector in
// pkg/gc uses it to reclaim blocks left past the end of a shrunk export.
type Collectable interface {
	// BlockSize returns the size of one block in bytes.
	BlockSize() int

	// ListBlocks returns the indexes of the allocated blocks at or after
	// first, in ascending order.
	ListBlocks(ctx context.Context, first uint64) ([]uint64, error)

	// DeleteBlocks drops whole blocks. Blocks already absent are not
	// failures. failures maps the indexes that could not be deleted to the
	// reason; err reports a failure of the whole call.
	DeleteBlocks(ctx context.Context, indexes []uint64) (failures map[uint64]error, err error)
}

// ============================================================================
// Extents
// ============================================================================

// Extent is a contiguous range with uniform allocation status.
type Extent struct {
	Offset uint64
	Length uint64

	// Hole is set when no storage backs the range. Holes always read as
	// zeros, so Zero is set too.
	Hole bool

	// Zero is set when the range is known to read as zeros.
	Zero bool
}

// End returns the first offset after the extent.
func (e Extent) End() uint64 {
	return e.Offset + e.Length
}

func (e Extent) String() string {
	kind := "data"
	switch {
	case e.Hole && e.Zero:
		kind = "hole"
	case e.Zero:
		kind = "zero"
	}
	return fmt.Sprintf("[%d+%d %s]", e.Offset, e.Length, kind)
}

// AppendExtent appends e to extents, merging it into the last element when
// both are adjacent and have the same status.
func AppendExtent(extents []Extent, e Extent) []Extent {
	if e.Length == 0 {
		return extents
	}
	if n := len(extents); n > 0 {
		last := &extents[n-1]
		if last.End() == e.Offset && last.Hole == e.Hole && last.Zero == e.Zero {
			last.Length += e.Length
			return extents
		}
	}
	return append(extents, e)
}
