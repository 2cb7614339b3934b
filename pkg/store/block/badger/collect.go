package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
)

// BlockSize implements block.Collectable.
func (s *Store) BlockSize() int {
	return s.blockSize
}

// ListBlocks implements block.Collectable with a key-only iteration from
// the first block.
func (s *Store) ListBlocks(ctx context.Context, first uint64) ([]uint64, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var indexes []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixBlock)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(blockKey(first)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			indexes = append(indexes, blockIndex(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return indexes, nil
}

// DeleteBlocks implements block.Collectable. Keys are deleted spansPerTxn
// at a time; a failed transaction marks all of its keys as failed and the
// next batch is still attempted.
func (s *Store) DeleteBlocks(ctx context.Context, indexes []uint64) (map[uint64]error, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	failures := make(map[uint64]error)
	for i := 0; i < len(indexes); i += spansPerTxn {
		batch := indexes[i:min(i+spansPerTxn, len(indexes))]

		err := s.update(ctx, func(txn *badger.Txn) error {
			for _, idx := range batch {
				if err := txn.Delete(blockKey(idx)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				for _, idx := range indexes[i:] {
					failures[idx] = err
				}
				return failures, err
			}
			for _, idx := range batch {
				failures[idx] = err
			}
		}
	}
	return failures, nil
}
