package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "blocks.db")
	}

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		BlockSize: testBlockSize,
		NewStore: func(t *testing.T) block.Store {
			return newTestStore(t, Config{})
		},
	}
	suite.Run(t)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.db")
	ctx := context.Background()

	s, err := New(ctx, Config{Path: path, BlockSize: testBlockSize})
	require.NoError(t, err)
	require.NoError(t, s.WriteAt(ctx, []byte("persisted"), 12345))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	s = newTestStore(t, Config{Path: path})
	got := make([]byte, 9)
	require.NoError(t, s.ReadAt(ctx, got, 12345))
	assert.Equal(t, []byte("persisted"), got)

	blocks, size, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, blocks)
	assert.Positive(t, size)
}

func TestBlockSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.db")
	ctx := context.Background()

	s, err := New(ctx, Config{Path: path, BlockSize: testBlockSize})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(ctx, Config{Path: path, BlockSize: 2 * testBlockSize})
	assert.ErrorIs(t, err, block.ErrInvalidBlockSize)
}

func TestLockedFile(t *testing.T) {
	s := newTestStore(t, Config{})

	_, err := New(context.Background(), Config{Path: s.path, BlockSize: testBlockSize, OpenTimeout: 50 * time.Millisecond})
	assert.Error(t, err, "a second opener must time out on the file lock")
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{BlockSize: testBlockSize})
	assert.Error(t, err)
}

func TestLargeWriteSpansTransactions(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	data := make([]byte, (spansPerTxn+10)*testBlockSize)
	for i := range data {
		data[i] = byte(i%255 + 1)
	}
	require.NoError(t, s.WriteAt(ctx, data, 100))

	got := make([]byte, len(data))
	require.NoError(t, s.ReadAt(ctx, got, 100))
	assert.Equal(t, data, got)

	blocks, err := s.ListBlocks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, blocks, spansPerTxn+11)
}
