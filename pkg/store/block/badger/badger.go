// Package badger implements a persistent block store on BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/pkg/store/block"
)

const (
	// maxTxnRetries bounds the retries of a transaction that hit a conflict
	// with a concurrent writer of the same block.
	maxTxnRetries = 10

	// spansPerTxn bounds the blocks touched by one transaction so that large
	// requests stay below Badger's transaction size limit.
	spansPerTxn = 64
)

// Config contains the configuration of a BadgerDB block store.
type Config struct {
	// Path is the directory holding the database files. Ignored when
	// InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the whole database in memory. Mostly useful in tests.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites makes every commit durable before it returns. When false,
	// durability comes from Flush.
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 256).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 128).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// BlockSize is the size of one stored block. It cannot change once the
	// database holds data.
	BlockSize int `mapstructure:"-"`
}

// Store is a block.Store backed by BadgerDB.
//
// Thread Safety:
// Badger transactions give each block update snapshot isolation. Two
// writers racing on the same block conflict and the loser retries, so
// partial-block read-modify-write never loses bytes.
type Store struct {
	db        *badger.DB
	blockSize int

	// mu guards closed. Operations hold it shared so Close waits for them.
	mu     sync.RWMutex
	closed bool
}

// New opens (or creates) a BadgerDB block store.
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
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger block store: path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 256
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 128
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	s := &Store{db: db, blockSize: cfg.BlockSize}
	if err := s.checkBlockSize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("badger block store opened: path=%q in_memory=%v block_size=%d",
		cfg.Path, cfg.InMemory, cfg.BlockSize)
	return s, nil
}

// checkBlockSize records the block size of a new database, or verifies the
// one recorded by an earlier run.
func (s *Store) checkBlockSize() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyBlockSize))
		if errors.Is(err, badger.ErrKeyNotFound) {
			v := make([]byte, 8)
			binary.BigEndian.PutUint64(v, uint64(s.blockSize))
			return txn.Set([]byte(keyBlockSize), v)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("corrupt block size record (%d bytes)", len(v))
			}
			if stored := int(binary.BigEndian.Uint64(v)); stored != s.blockSize {
				return fmt.Errorf("%w: database uses %d, configured %d",
					block.ErrInvalidBlockSize, stored, s.blockSize)
			}
			return nil
		})
	})
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

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction kept conflicting after %d attempts: %w", maxTxnRetries, err)
}

// ReadAt implements block.Store.
func (s *Store) ReadAt(ctx context.Context, p []byte, offset uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	spans := block.Spans(offset, uint64(len(p)), s.blockSize)
	return s.db.View(func(txn *badger.Txn) error {
		for _, sp := range spans {
			dst := p[sp.Pos : sp.Pos+sp.Len]
			item, err := txn.Get(blockKey(sp.Index))
			if errors.Is(err, badger.ErrKeyNotFound) {
				clear(dst)
				continue
			}
			if err != nil {
				return fmt.Errorf("read block %d: %w", sp.Index, err)
			}
			err = item.Value(func(v []byte) error {
				copy(dst, v[sp.Start:sp.Start+sp.Len])
				return nil
			})
			if err != nil {
				return fmt.Errorf("read block %d: %w", sp.Index, err)
			}
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

// FastZero implements block.Zeroer. Zeroing whole blocks only deletes keys.
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

// apply updates every span with fn, in batches of spansPerTxn blocks per
// transaction. Full spans start from a zero page, partial ones from the
// stored block. Pages left all-zero are deleted.
func (s *Store) apply(ctx context.Context, spans []block.Span, fn func(sp block.Span, page []byte)) error {
	for len(spans) > 0 {
		batch := spans[:min(len(spans), spansPerTxn)]
		spans = spans[len(batch):]

		err := s.update(ctx, func(txn *badger.Txn) error {
			for _, sp := range batch {
				key := blockKey(sp.Index)
				page := make([]byte, s.blockSize)

				if !sp.Full(s.blockSize) {
					item, err := txn.Get(key)
					switch {
					case errors.Is(err, badger.ErrKeyNotFound):
					case err != nil:
						return fmt.Errorf("load block %d: %w", sp.Index, err)
					default:
						if _, err := item.ValueCopy(page); err != nil {
							return fmt.Errorf("load block %d: %w", sp.Index, err)
						}
					}
				}

				fn(sp, page)

				var err error
				if block.IsZero(page) {
					err = txn.Delete(key)
				} else {
					err = txn.Set(key, page)
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

// Extents implements block.ExtentMapper by walking the block keys in the
// range. Only keys are read.
func (s *Store) Extents(ctx context.Context, offset, length uint64) ([]block.Extent, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	bs := uint64(s.blockSize)
	end := offset + length
	var extents []block.Extent

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixBlock)

		it := txn.NewIterator(opts)
		defer it.Close()

		pos := offset
		for it.Seek(blockKey(offset / bs)); it.Valid(); it.Next() {
			start := blockIndex(it.Item().Key()) * bs
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

// Flush implements block.Store by syncing the value log to disk.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("sync badger: %w", err)
	}
	return nil
}

// Size returns the on-disk size of the LSM tree and the value log.
func (s *Store) Size() (lsm, vlog int64) {
	return s.db.Size()
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
