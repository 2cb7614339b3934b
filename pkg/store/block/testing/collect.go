package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCollectTests runs the block.Collectable tests. Stores that do not
// implement it skip them.
func (suite *StoreTestSuite) RunCollectTests(t *testing.T) {
	t.Run("ListBlocksFrom", suite.testListBlocksFrom)
	t.Run("DeleteBlocks", suite.testDeleteBlocks)
}

func (suite *StoreTestSuite) collectable(t *testing.T) (block.Store, block.Collectable) {
	t.Helper()
	store := suite.NewStore(t)
	c, ok := store.(block.Collectable)
	if !ok {
		t.Skip("store does not implement block.Collectable")
	}
	assert.Equal(t, suite.BlockSize, c.BlockSize())
	return store, c
}

func (suite *StoreTestSuite) testListBlocksFrom(t *testing.T) {
	store, c := suite.collectable(t)
	ctx := context.Background()
	bs := uint64(suite.BlockSize)

	for _, idx := range []uint64{9, 0, 5} {
		mustWrite(t, store, pattern(10, byte(idx+1)), idx*bs)
	}

	all, err := c.ListBlocks(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 5, 9}, all)

	tail, err := c.ListBlocks(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 9}, tail)

	none, err := c.ListBlocks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func (suite *StoreTestSuite) testDeleteBlocks(t *testing.T) {
	store, c := suite.collectable(t)
	ctx := context.Background()
	bs := uint64(suite.BlockSize)

	mustWrite(t, store, pattern(int(2*bs), 7), 0)

	failures, err := c.DeleteBlocks(ctx, []uint64{1, 42})
	require.NoError(t, err)
	assert.Empty(t, failures, "deleting an absent block is not a failure")

	assert.Equal(t, make([]byte, bs), mustRead(t, store, int(bs), bs))
	assert.Equal(t, pattern(int(2*bs), 7)[:bs], mustRead(t, store, int(bs), 0))

	left, err := c.ListBlocks(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, left)
}
