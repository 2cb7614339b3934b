package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	storetest "github.com/marmos91/dittobd/pkg/store/block/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func newTestStore(t *testing.T, maxSize uint64) *Store {
	t.Helper()
	s, err := New(Config{BlockSize: testBlockSize, MaxSize: maxSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		BlockSize: testBlockSize,
		NewStore: func(t *testing.T) block.Store {
			return newTestStore(t, 0)
		},
	}
	suite.Run(t)
}

func TestNew(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, block.DefaultBlockSize, s.blockSize)

	_, err = New(Config{BlockSize: 1000})
	assert.ErrorIs(t, err, block.ErrInvalidBlockSize)
}

func TestZeroWritesStaySparse(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.WriteAt(ctx, make([]byte, 4*testBlockSize), 0))
	assert.Zero(t, s.Allocated())

	require.NoError(t, s.WriteAt(ctx, []byte{1}, testBlockSize))
	assert.Equal(t, uint64(testBlockSize), s.Allocated())
}

func TestTrimReleasesPages(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	data := make([]byte, 2*testBlockSize)
	for i := range data {
		data[i] = 0xFF
	}
	require.NoError(t, s.WriteAt(ctx, data, 0))
	require.Equal(t, uint64(2*testBlockSize), s.Allocated())

	// Clearing the only non-zero bytes of a page releases it as well.
	require.NoError(t, s.Trim(ctx, 0, testBlockSize+10))
	assert.Equal(t, uint64(testBlockSize), s.Allocated())
	require.NoError(t, s.Trim(ctx, testBlockSize+10, testBlockSize-10))
	assert.Zero(t, s.Allocated())
}

func TestMaxSize(t *testing.T) {
	s := newTestStore(t, 2*testBlockSize)
	ctx := context.Background()

	require.NoError(t, s.WriteAt(ctx, []byte("a"), 0))
	require.NoError(t, s.WriteAt(ctx, []byte("b"), testBlockSize))

	err := s.WriteAt(ctx, []byte("c"), 2*testBlockSize)
	assert.ErrorIs(t, err, block.ErrNoSpace)

	// Rewriting an allocated page still works.
	assert.NoError(t, s.WriteAt(ctx, []byte("z"), 1))

	// A write that partly needs a new page fails as a whole.
	err = s.WriteAt(ctx, []byte("xy"), 2*testBlockSize-1)
	assert.ErrorIs(t, err, block.ErrNoSpace)
	got := make([]byte, 1)
	require.NoError(t, s.ReadAt(ctx, got, 2*testBlockSize-1))
	assert.Equal(t, []byte{0}, got)
}

func TestMaxSize_ZeroWrites(t *testing.T) {
	s := newTestStore(t, 2*testBlockSize)
	ctx := context.Background()

	require.NoError(t, s.WriteAt(ctx, []byte("a"), 0))
	require.NoError(t, s.WriteAt(ctx, []byte("b"), testBlockSize))

	// Zeros on missing pages fit even when the store is full.
	require.NoError(t, s.WriteAt(ctx, make([]byte, 16*testBlockSize), 2*testBlockSize))
	require.NoError(t, s.WriteAt(ctx, make([]byte, 10), 20*testBlockSize+5))
	assert.Equal(t, uint64(2*testBlockSize), s.Allocated())

	// Zeros that overwrite allocated pages need no new space either.
	require.NoError(t, s.WriteAt(ctx, make([]byte, 3*testBlockSize), 0))
	assert.Equal(t, uint64(2*testBlockSize), s.Allocated())

	// Mixed writes count only the pages that end up holding data.
	buf := make([]byte, 4*testBlockSize)
	buf[3*testBlockSize] = 1
	err := s.WriteAt(ctx, buf, 2*testBlockSize)
	assert.ErrorIs(t, err, block.ErrNoSpace)
}

func TestCanceledContext(t *testing.T) {
	s := newTestStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.WriteAt(ctx, []byte("x"), 0), context.Canceled)
	assert.ErrorIs(t, s.ReadAt(ctx, make([]byte, 1), 0), context.Canceled)
}
