// Package memory implements an in-memory, page-based block store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/dittobd/pkg/store/block"
)

// Store keeps blocks in a map of fixed-size pages. Only pages that hold
// data are allocated: reads of missing pages return zeros and trims give
// pages back.
//
// Contents are lost when the store is closed.
type Store struct {
	mu        sync.RWMutex
	pages     map[uint64][]byte
	blockSize int
	maxSize   uint64
	closed    bool
}

// Config configures a memory Store.
type Config struct {
	// BlockSize is the page size. Default: block.DefaultBlockSize.
	BlockSize int

	// MaxSize caps the bytes of allocated pages. 0 means unlimited.
	MaxSize uint64
}

// New creates an empty memory store.
func New(cfg Config) (*Store, error) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = block.DefaultBlockSize
	}
	if err := block.ValidateBlockSize(cfg.BlockSize); err != nil {
		return nil, err
	}

	return &Store{
		pages:     make(map[uint64][]byte),
		blockSize: cfg.BlockSize,
		maxSize:   cfg.MaxSize,
	}, nil
}

// ReadAt implements block.Store.
func (s *Store) ReadAt(ctx context.Context, p []byte, offset uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return block.ErrStoreClosed
	}

	for _, sp := range block.Spans(offset, uint64(len(p)), s.blockSize) {
		dst := p[sp.Pos : sp.Pos+sp.Len]
		if page, ok := s.pages[sp.Index]; ok {
			copy(dst, page[sp.Start:sp.Start+sp.Len])
		} else {
			clear(dst)
		}
	}
	return nil
}

// WriteAt implements block.Store. Writing an all-zero full page does not
// allocate it.
func (s *Store) WriteAt(ctx context.Context, p []byte, offset uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}

	spans := block.Spans(offset, uint64(len(p)), s.blockSize)

	// Check capacity up front so a failed write leaves no partial update.
	// Zeros landing on missing pages allocate nothing.
	if s.maxSize > 0 {
		fresh := uint64(0)
		for _, sp := range spans {
			if _, ok := s.pages[sp.Index]; !ok && !block.IsZero(p[sp.Pos:sp.Pos+sp.Len]) {
				fresh++
			}
		}
		if uint64(len(s.pages))+fresh > s.maxSize/uint64(s.blockSize) {
			return fmt.Errorf("write of %d bytes at %d: %w", len(p), offset, block.ErrNoSpace)
		}
	}

	for _, sp := range spans {
		src := p[sp.Pos : sp.Pos+sp.Len]
		page, ok := s.pages[sp.Index]
		if !ok {
			if block.IsZero(src) {
				continue
			}
			page = make([]byte, s.blockSize)
			s.pages[sp.Index] = page
		}
		copy(page[sp.Start:], src)
	}
	return nil
}

// Flush implements block.Store. Memory is as durable as it gets.
func (s *Store) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return block.ErrStoreClosed
	}
	return nil
}

// Trim implements block.Trimmer.
func (s *Store) Trim(ctx context.Context, offset, length uint64) error {
	return s.discard(ctx, offset, length)
}

// Zero implements block.Zeroer.
func (s *Store) Zero(ctx context.Context, offset, length uint64) error {
	return s.discard(ctx, offset, length)
}

// FastZero implements block.Zeroer.
func (s *Store) FastZero() bool {
	return true
}

// discard drops fully covered pages and zeroes the covered part of the
// others, dropping them too when nothing but zeros remains.
func (s *Store) discard(ctx context.Context, offset, length uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}

	for _, sp := range block.Spans(offset, length, s.blockSize) {
		page, ok := s.pages[sp.Index]
		if !ok {
			continue
		}
		if sp.Full(s.blockSize) {
			delete(s.pages, sp.Index)
			continue
		}
		clear(page[sp.Start : sp.Start+sp.Len])
		if block.IsZero(page) {
			delete(s.pages, sp.Index)
		}
	}
	return nil
}

// Extents implements block.ExtentMapper.
func (s *Store) Extents(ctx context.Context, offset, length uint64) ([]block.Extent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}

	var extents []block.Extent
	for _, sp := range block.Spans(offset, length, s.blockSize) {
		_, allocated := s.pages[sp.Index]
		extents = block.AppendExtent(extents, block.Extent{
			Offset: offset + uint64(sp.Pos),
			Length: uint64(sp.Len),
			Hole:   !allocated,
			Zero:   !allocated,
		})
	}
	return extents, nil
}

// Allocated returns the number of bytes held by allocated pages.
func (s *Store) Allocated() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.pages)) * uint64(s.blockSize)
}

// Close implements block.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	s.closed = true
	s.pages = nil
	return nil
}

// BlockSize implements block.Collectable.
func (s *Store) BlockSize() int {
	return s.blockSize
}

// ListBlocks implements block.Collectable.
func (s *Store) ListBlocks(ctx context.Context, first uint64) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}

	var indexes []uint64
	for idx := range s.pages {
		if idx >= first {
			indexes = append(indexes, idx)
		}
	}
	slices.Sort(indexes)
	return indexes, nil
}

// DeleteBlocks implements block.Collectable. Deleting from a map cannot
// fail, so failures is always empty.
func (s *Store) DeleteBlocks(ctx context.Context, indexes []uint64) (map[uint64]error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}

	for _, idx := range indexes {
		delete(s.pages, idx)
	}
	return nil, nil
}
