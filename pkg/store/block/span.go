package block

import "fmt"

const (
	// MinBlockSize and MaxBlockSize bound the block size of every store.
	MinBlockSize = 4 << 10
	MaxBlockSize = 4 << 20

	// DefaultBlockSize is used when no block size is configured.
	DefaultBlockSize = 64 << 10
)

// ValidateBlockSize checks that size is a power of two within
// [MinBlockSize, MaxBlockSize].
func ValidateBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize || size&(size-1) != 0 {
		return fmt.Errorf("%w: %d (must be a power of two between %d and %d)",
			ErrInvalidBlockSize, size, MinBlockSize, MaxBlockSize)
	}
	return nil
}

// Span is the part of one block touched by a byte range.
type Span struct {
	// Index is the block number.
	Index uint64

	// Start is the offset of the span inside the block.
	Start int

	// Len is the number of bytes of the span.
	Len int

	// Pos is the offset of the span inside the caller's range.
	Pos int
}

// Full reports whether the span covers its whole block.
func (s Span) Full(blockSize int) bool {
	return s.Start == 0 && s.Len == blockSize
}

// Spans splits [offset, offset+length) into per-block spans, in ascending
// block order.
func Spans(offset, length uint64, blockSize int) []Span {
	if length == 0 {
		return nil
	}
	bs := uint64(blockSize)
	first := offset / bs
	last := (offset + length - 1) / bs

	spans := make([]Span, 0, last-first+1)
	pos := uint64(0)
	for idx := first; idx <= last; idx++ {
		start := uint64(0)
		if idx == first {
			start = offset % bs
		}
		n := min(bs-start, length-pos)
		spans = append(spans, Span{
			Index: idx,
			Start: int(start),
			Len:   int(n),
			Pos:   int(pos),
		})
		pos += n
	}
	return spans
}

// IsZero reports whether every byte of p is zero.
func IsZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
