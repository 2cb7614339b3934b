package testing

import (
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunExtentTests executes the ExtentMapper tests.
func (suite *StoreTestSuite) RunExtentTests(t *testing.T) {
	t.Run("EmptyStoreIsOneHole", suite.testExtentsEmpty)
	t.Run("DataAndHoles", suite.testExtentsDataAndHoles)
	t.Run("CoversRequestedRange", suite.testExtentsCoverRange)
	t.Run("TrimmedBecomesHole", suite.testExtentsAfterTrim)
}

func (suite *StoreTestSuite) mapper(t *testing.T, s block.Store) block.ExtentMapper {
	m, ok := s.(block.ExtentMapper)
	if !ok {
		t.Skip("store does not implement block.ExtentMapper")
	}
	return m
}

func (suite *StoreTestSuite) testExtentsEmpty(t *testing.T) {
	s := suite.NewStore(t)
	m := suite.mapper(t, s)
	size := uint64(4 * suite.BlockSize)

	ext, err := m.Extents(testContext(), 0, size)
	require.NoError(t, err)
	assert.Equal(t, []block.Extent{{Offset: 0, Length: size, Hole: true, Zero: true}}, ext)
}

func (suite *StoreTestSuite) testExtentsDataAndHoles(t *testing.T) {
	s := suite.NewStore(t)
	m := suite.mapper(t, s)
	bs := uint64(suite.BlockSize)

	mustWrite(t, s, pattern(int(bs), 1), bs)
	mustWrite(t, s, pattern(int(bs), 2), 3*bs)

	ext, err := m.Extents(testContext(), 0, 4*bs)
	require.NoError(t, err)
	assert.Equal(t, []block.Extent{
		{Offset: 0, Length: bs, Hole: true, Zero: true},
		{Offset: bs, Length: bs},
		{Offset: 2 * bs, Length: bs, Hole: true, Zero: true},
		{Offset: 3 * bs, Length: bs},
	}, ext)
}

func (suite *StoreTestSuite) testExtentsCoverRange(t *testing.T) {
	s := suite.NewStore(t)
	m := suite.mapper(t, s)
	bs := uint64(suite.BlockSize)

	mustWrite(t, s, pattern(int(bs), 1), 0)

	// The range starts and ends in the middle of blocks.
	off, length := bs/2, 2*bs
	ext, err := m.Extents(testContext(), off, length)
	require.NoError(t, err)
	require.NotEmpty(t, ext)

	assert.Equal(t, off, ext[0].Offset)
	for i := 1; i < len(ext); i++ {
		assert.Equal(t, ext[i-1].End(), ext[i].Offset, "extents must be contiguous")
	}
	assert.Equal(t, off+length, ext[len(ext)-1].End())
	assert.False(t, ext[0].Hole)
}

func (suite *StoreTestSuite) testExtentsAfterTrim(t *testing.T) {
	s := suite.NewStore(t)
	m := suite.mapper(t, s)
	tr := suite.trimmer(t, s)
	bs := uint64(suite.BlockSize)

	mustWrite(t, s, pattern(int(2*bs), 1), 0)
	require.NoError(t, tr.Trim(testContext(), 0, bs))

	ext, err := m.Extents(testContext(), 0, 2*bs)
	require.NoError(t, err)
	assert.Equal(t, []block.Extent{
		{Offset: 0, Length: bs, Hole: true, Zero: true},
		{Offset: bs, Length: bs},
	}, ext)
}
