package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/marmos91/dittobd/pkg/store/block/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

// newStore returns a memory store with one byte written in each of blocks.
func newStore(t *testing.T, blocks ...uint64) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.Config{BlockSize: testBlockSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, idx := range blocks {
		require.NoError(t, s.WriteAt(context.Background(), []byte{0xFF}, idx*testBlockSize))
	}
	return s
}

func listAll(t *testing.T, s block.Collectable) []uint64 {
	t.Helper()
	blocks, err := s.ListBlocks(context.Background(), 0)
	require.NoError(t, err)
	return blocks
}

// flakyStore fails DeleteBlocks for the listed blocks, or the whole call
// when batchErr is set.
type flakyStore struct {
	*memory.Store
	fail     map[uint64]bool
	batchErr error
	calls    int
}

func (s *flakyStore) DeleteBlocks(ctx context.Context, indexes []uint64) (map[uint64]error, error) {
	s.calls++
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	failures := make(map[uint64]error)
	var ok []uint64
	for _, idx := range indexes {
		if s.fail[idx] {
			failures[idx] = errors.New("denied")
			continue
		}
		ok = append(ok, idx)
	}
	if _, err := s.Store.DeleteBlocks(ctx, ok); err != nil {
		return nil, err
	}
	return failures, nil
}

func TestNewCollector(t *testing.T) {
	_, err := NewCollector(nil, 0, Config{})
	assert.Error(t, err)

	_, err = NewCollector(newStore(t), 0, Config{BatchSize: -1})
	assert.Error(t, err)

	c, err := NewCollector(newStore(t), 0, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, c.config.BatchSize)
}

func TestFirstBlock(t *testing.T) {
	tests := []struct {
		size uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{testBlockSize, 1},
		{testBlockSize + 1, 2},
		{10 * testBlockSize, 10},
	}
	for _, tt := range tests {
		c, err := NewCollector(newStore(t), tt.size, Config{})
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.FirstBlock(), "size %d", tt.size)
	}
}

func TestRunNow(t *testing.T) {
	s := newStore(t, 0, 3, 4, 7, 100)

	// The export ends inside block 3, which must survive.
	c, err := NewCollector(s, 3*testBlockSize+10, Config{BatchSize: 2})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.StaleCount)
	assert.Equal(t, uint64(3), stats.DeletedCount)
	assert.Zero(t, stats.FailedCount)
	assert.Equal(t, uint64(3*testBlockSize), stats.Reclaimed())
	assert.Contains(t, stats.Summary(), "deleted=3")
	assert.Contains(t, stats.Summary(), "reclaimed=12 KiB")

	assert.Equal(t, []uint64{0, 3}, listAll(t, s))

	// A second run finds nothing.
	stats, err = c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.StaleCount)
}

func TestRunNow_DryRun(t *testing.T) {
	s := newStore(t, 0, 5, 6)
	c, err := NewCollector(s, testBlockSize, Config{DryRun: true})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.StaleCount)
	assert.Zero(t, stats.DeletedCount)
	assert.Equal(t, []uint64{0, 5, 6}, listAll(t, s))
}

func TestRunNow_Failures(t *testing.T) {
	t.Run("PerBlock", func(t *testing.T) {
		s := &flakyStore{Store: newStore(t, 2, 3, 4), fail: map[uint64]bool{3: true}}
		c, err := NewCollector(s, 0, Config{})
		require.NoError(t, err)

		stats, err := c.RunNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(2), stats.DeletedCount)
		assert.Equal(t, uint64(1), stats.FailedCount)
		assert.Equal(t, []uint64{3}, listAll(t, s))
	})

	t.Run("WholeBatch", func(t *testing.T) {
		s := &flakyStore{Store: newStore(t, 1, 2, 3), batchErr: errors.New("unavailable")}
		c, err := NewCollector(s, 0, Config{BatchSize: 2})
		require.NoError(t, err)

		stats, err := c.RunNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, s.calls, "a failed batch does not stop the run")
		assert.Zero(t, stats.DeletedCount)
		assert.Equal(t, uint64(3), stats.FailedCount)
	})
}

func TestRunNow_Cancelled(t *testing.T) {
	c, err := NewCollector(newStore(t, 1), 0, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.RunNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartStop(t *testing.T) {
	t.Run("Enabled", func(t *testing.T) {
		s := newStore(t, 0, 9)
		c, err := NewCollector(s, testBlockSize, Config{Enabled: true})
		require.NoError(t, err)

		c.Start()
		c.Start()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, c.Stop(ctx))

		// Stop may interrupt the run, but a finished run leaves only block 0.
		blocks := listAll(t, s)
		assert.Contains(t, blocks, uint64(0))
	})

	t.Run("Disabled", func(t *testing.T) {
		s := newStore(t, 0, 9)
		c, err := NewCollector(s, testBlockSize, Config{})
		require.NoError(t, err)

		c.Start()
		require.NoError(t, c.Stop(context.Background()))
		assert.Equal(t, []uint64{0, 9}, listAll(t, s))
	})

	t.Run("NeverStarted", func(t *testing.T) {
		c, err := NewCollector(newStore(t), 0, Config{Enabled: true})
		require.NoError(t, err)
		require.NoError(t, c.Stop(context.Background()))
	})
}
