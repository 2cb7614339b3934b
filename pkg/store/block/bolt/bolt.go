// Package bolt implements a persistent block store in a single bbolt file.
//
// Layout: bucket "blocks" maps the 8-byte big-endian block index to the
// block contents, exactly BlockSize bytes. A missing key is a hole. Bucket
// "meta" records the block size, checked on open.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/pkg/store/block"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlocks = []byte("blocks")
	bucketMeta   = []byte("meta")
	keyBlockSize = []byte("block_size")
)

// spansPerTxn bounds the blocks touched by one write transaction.
const spansPerTxn = 256

// Config contains the configuration of a bbolt block store.
type Config struct {
	// Path is the database file. It is created if missing.
	Path string `mapstructure:"path"`

	// SyncWrites fsyncs every commit. When false, durability comes from
	// Flush.
	SyncWrites bool `mapstructure:"sync_writes"`

	// OpenTimeout bounds the wait for the file lock held by another process
	// (default: 1s).
	OpenTimeout time.Duration `mapstructure:"open_timeout"`

	// BlockSize is the size of one stored block. It cannot change once the
	// file holds data.
	BlockSize int `mapstructure:"-"`
}

// Store is a block.Store backed by a bbolt file.
//
// Thread Safety:
// bbolt runs one write transaction at a time, so partial-block
// read-modify-write never interleaves. Reads run concurrently.
type Store struct {
	db        *bolt.DB
	path      string
	blockSize int

	mu     sync.RWMutex
	closed bool
}

// New opens (or creates) a bbolt block store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = block.DefaultBlockSize
	}
	if err := block.ValidateBlockSize(cfg.BlockSize); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errors.New("bolt block store: path is required")
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: cfg.OpenTimeout,
		NoSync:  !cfg.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database at %s: %w", cfg.Path, err)
	}

	s := &Store{db: db, path: cfg.Path, blockSize: cfg.BlockSize}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("bolt block store opened: path=%q block_size=%d sync_writes=%v",
		cfg.Path, cfg.BlockSize, cfg.SyncWrites)
	return s, nil
}

// init creates the buckets and records or verifies the block size.
func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlocks); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}

		v := meta.Get(keyBlockSize)
		if v == nil {
			return meta.Put(keyBlockSize, encodeIndex(uint64(s.blockSize)))
		}
		if len(v) != 8 {
			return fmt.Errorf("corrupt block size record (%d bytes)", len(v))
		}
		if stored := int(binary.BigEndian.Uint64(v)); stored != s.blockSize {
			return fmt.Errorf("%w: database uses %d, configured %d",
				block.ErrInvalidBlockSize, stored, s.blockSize)
		}
		return nil
	})
}

func encodeIndex(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func decodeIndex(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// acquire takes the shared lock, failing once the store is closed.
func (s *Store) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return block.ErrStoreClosed
	}
	return nil
}

func (s *Store) release() { s.mu.RUnlock() }

// ReadAt implements block.Store.
func (s *Store) ReadAt(ctx context.Context, p []byte, offset uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return s.db.View(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		for _, sp := range block.Spans(offset, uint64(len(p)), s.blockSize) {
			dst := p[sp.Pos : sp.Pos+sp.Len]
			v := blocks.Get(encodeIndex(sp.Index))
			if v == nil {
				clear(dst)
				continue
			}
			if len(v) != s.blockSize {
				return fmt.Errorf("read block %d: corrupt block of %d bytes", sp.Index, len(v))
			}
			copy(dst, v[sp.Start:sp.Start+sp.Len])
		}
		return nil
	})
}

// WriteAt implements block.Store.
func (s *Store) WriteAt(ctx context.Context, p []byte, offset uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return s.apply(ctx, block.Spans(offset, uint64(len(p)), s.blockSize), func(sp block.Span, page []byte) {
		copy(page[sp.Start:], p[sp.Pos:sp.Pos+sp.Len])
	})
}

// Trim implements block.Trimmer.
func (s *Store) Trim(ctx context.Context, offset, length uint64) error {
	return s.discard(ctx, offset, length)
}

// Zero implements block.Zeroer.
func (s *Store) Zero(ctx context.Context, offset, length uint64) error {
	return s.discard(ctx, offset, length)
}

// FastZero implements block.Zeroer. Whole blocks are zeroed by deleting
// their keys.
func (s *Store) FastZero() bool {
	return true
}

func (s *Store) discard(ctx context.Context, offset, length uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return s.apply(ctx, block.Spans(offset, length, s.blockSize), func(sp block.Span, page []byte) {
		clear(page[sp.Start : sp.Start+sp.Len])
	})
}

// apply updates every span with fn, spansPerTxn blocks per transaction.
// Pages left all-zero are deleted.
func (s *Store) apply(ctx context.Context, spans []block.Span, fn func(sp block.Span, page []byte)) error {
	for len(spans) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := spans[:min(len(spans), spansPerTxn)]
		spans = spans[len(batch):]

		err := s.db.Update(func(tx *bolt.Tx) error {
			blocks := tx.Bucket(bucketBlocks)
			for _, sp := range batch {
				key := encodeIndex(sp.Index)
				page := make([]byte, s.blockSize)
				if !sp.Full(s.blockSize) {
					copy(page, blocks.Get(key))
				}

				fn(sp, page)

				var err error
				if block.IsZero(page) {
					err = blocks.Delete(key)
				} else {
					err = blocks.Put(key, page)
				}
				if err != nil {
					return fmt.Errorf("store block %d: %w", sp.Index, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Extents implements block.ExtentMapper with a cursor over the range.
func (s *Store) Extents(ctx context.Context, offset, length uint64) ([]block.Extent, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	bs := uint64(s.blockSize)
	end := offset + length
	var extents []block.Extent

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		pos := offset
		for k, _ := c.Seek(encodeIndex(offset / bs)); k != nil; k, _ = c.Next() {
			start := decodeIndex(k) * bs
			if start >= end {
				break
			}
			from := max(start, offset)
			to := min(start+bs, end)
			if from > pos {
				extents = block.AppendExtent(extents, block.Extent{Offset: pos, Length: from - pos, Hole: true, Zero: true})
			}
			extents = block.AppendExtent(extents, block.Extent{Offset: from, Length: to - from})
			pos = to
		}
		if pos < end {
			extents = block.AppendExtent(extents, block.Extent{Offset: pos, Length: end - pos, Hole: true, Zero: true})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extents, nil
}

// Flush implements block.Store by fsyncing the database file.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("sync bolt: %w", err)
	}
	return nil
}

// BlockSize implements block.Collectable.
func (s *Store) BlockSize() int {
	return s.blockSize
}

// ListBlocks implements block.Collectable.
func (s *Store) ListBlocks(ctx context.Context, first uint64) ([]uint64, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var indexes []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		for k, _ := c.Seek(encodeIndex(first)); k != nil; k, _ = c.Next() {
			indexes = append(indexes, decodeIndex(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return indexes, nil
}

// DeleteBlocks implements block.Collectable. A failed transaction marks
// all of its keys as failed.
func (s *Store) DeleteBlocks(ctx context.Context, indexes []uint64) (map[uint64]error, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	failures := make(map[uint64]error)
	for i := 0; i < len(indexes); i += spansPerTxn {
		if err := ctx.Err(); err != nil {
			for _, idx := range indexes[i:] {
				failures[idx] = err
			}
			return failures, err
		}
		batch := indexes[i:min(i+spansPerTxn, len(indexes))]

		err := s.db.Update(func(tx *bolt.Tx) error {
			blocks := tx.Bucket(bucketBlocks)
			for _, idx := range batch {
				if err := blocks.Delete(encodeIndex(idx)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			for _, idx := range batch {
				failures[idx] = err
			}
		}
	}
	return failures, nil
}

// Stats returns the number of allocated blocks and the database file size.
func (s *Store) Stats() (blocks int, fileSize int64, err error) {
	if err := s.acquire(context.Background()); err != nil {
		return 0, 0, err
	}
	defer s.release()

	err = s.db.View(func(tx *bolt.Tx) error {
		blocks = tx.Bucket(bucketBlocks).Stats().KeyN
		fileSize = tx.Size()
		return nil
	})
	return blocks, fileSize, err
}

// Close implements block.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	s.closed = true
	return s.db.Close()
}
