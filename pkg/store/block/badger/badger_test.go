package badger

import (
	"context"
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	storetest "github.com/marmos91/dittobd/pkg/store/block/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.BlockSize == 0 {
		cfg.BlockSize = testBlockSize
	}
	// Keep test memory usage low.
	cfg.BlockCacheSizeMB = 8
	cfg.IndexCacheSizeMB = 8

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		BlockSize: testBlockSize,
		NewStore: func(t *testing.T) block.Store {
			return newTestStore(t, Config{InMemory: true})
		},
	}
	suite.Run(t)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(ctx, Config{Path: dir, BlockSize: testBlockSize, BlockCacheSizeMB: 8, IndexCacheSizeMB: 8})
	require.NoError(t, err)
	require.NoError(t, s.WriteAt(ctx, []byte("persisted"), 12345))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	s = newTestStore(t, Config{Path: dir})
	got := make([]byte, 9)
	require.NoError(t, s.ReadAt(ctx, got, 12345))
	assert.Equal(t, []byte("persisted"), got)
}

func TestBlockSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(ctx, Config{Path: dir, BlockSize: testBlockSize, BlockCacheSizeMB: 8, IndexCacheSizeMB: 8})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(ctx, Config{Path: dir, BlockSize: 2 * testBlockSize, BlockCacheSizeMB: 8, IndexCacheSizeMB: 8})
	assert.ErrorIs(t, err, block.ErrInvalidBlockSize)
}

func TestPathRequired(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestLargeWriteSpansTransactions(t *testing.T) {
	s := newTestStore(t, Config{InMemory: true})
	ctx := context.Background()

	data := make([]byte, (spansPerTxn*2+3)*testBlockSize)
	for i := range data {
		data[i] = byte(i%253) + 1
	}
	require.NoError(t, s.WriteAt(ctx, data, 0))

	got := make([]byte, len(data))
	require.NoError(t, s.ReadAt(ctx, got, 0))
	assert.Equal(t, data, got)

	ext, err := s.Extents(ctx, 0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, []block.Extent{{Offset: 0, Length: uint64(len(data))}}, ext)
}

func TestKeysSortInBlockOrder(t *testing.T) {
	assert.Less(t, string(blockKey(1)), string(blockKey(256)))
	assert.Equal(t, uint64(1<<40), blockIndex(blockKey(1<<40)))
}
