package block

import "errors"

// ============================================================================
// Standard Block Store Errors
// ============================================================================

// Implementations wrap these with context:
//
//	return fmt.Errorf("block %d: %w", idx, block.ErrStoreClosed)
//
// The nbdkit bridge maps them to errno values in pkg/blockdev.

var (
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("block store is closed")

	// ErrOutOfRange indicates a request past the end of the export.
	ErrOutOfRange = errors.New("request out of range")

	// ErrNoSpace indicates the store reached its configured capacity.
	ErrNoSpace = errors.New("block store is full")

	// ErrReadOnly indicates a write to a store opened read-only.
	ErrReadOnly = errors.New("block store is read-only")

	// ErrInvalidBlockSize indicates a block size that is zero, not a power of
	// two, or outside the supported range.
	ErrInvalidBlockSize = errors.New("invalid block size")
)
