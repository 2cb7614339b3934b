package testing

import (
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDiscardTests executes the Trimmer and Zeroer tests. Stores without
// either capability skip them.
func (suite *StoreTestSuite) RunDiscardTests(t *testing.T) {
	t.Run("TrimReadsZero", suite.testTrimReadsZero)
	t.Run("TrimPartialBlock", suite.testTrimPartialBlock)
	t.Run("ZeroReadsZero", suite.testZeroReadsZero)
	t.Run("ZeroUnwritten", suite.testZeroUnwritten)
}

func (suite *StoreTestSuite) trimmer(t *testing.T, s block.Store) block.Trimmer {
	tr, ok := s.(block.Trimmer)
	if !ok {
		t.Skip("store does not implement block.Trimmer")
	}
	return tr
}

func (suite *StoreTestSuite) zeroer(t *testing.T, s block.Store) block.Zeroer {
	z, ok := s.(block.Zeroer)
	if !ok {
		t.Skip("store does not implement block.Zeroer")
	}
	return z
}

func (suite *StoreTestSuite) testTrimReadsZero(t *testing.T) {
	s := suite.NewStore(t)
	tr := suite.trimmer(t, s)
	bs := suite.BlockSize

	mustWrite(t, s, pattern(4*bs, 3), 0)
	require.NoError(t, tr.Trim(testContext(), uint64(bs), uint64(2*bs)))

	got := mustRead(t, s, 4*bs, 0)
	assert.Equal(t, pattern(4*bs, 3)[:bs], got[:bs])
	assert.Equal(t, make([]byte, 2*bs), got[bs:3*bs])
	assert.Equal(t, pattern(4*bs, 3)[3*bs:], got[3*bs:])
}

func (suite *StoreTestSuite) testTrimPartialBlock(t *testing.T) {
	s := suite.NewStore(t)
	tr := suite.trimmer(t, s)
	bs := suite.BlockSize

	data := pattern(bs, 5)
	mustWrite(t, s, data, 0)
	require.NoError(t, tr.Trim(testContext(), 10, 20))

	want := append([]byte(nil), data...)
	clear(want[10:30])
	assert.Equal(t, want, mustRead(t, s, bs, 0))
}

func (suite *StoreTestSuite) testZeroReadsZero(t *testing.T) {
	s := suite.NewStore(t)
	z := suite.zeroer(t, s)
	bs := suite.BlockSize

	mustWrite(t, s, pattern(2*bs, 9), 0)
	require.NoError(t, z.Zero(testContext(), uint64(bs/2), uint64(bs)))

	got := mustRead(t, s, 2*bs, 0)
	want := pattern(2*bs, 9)
	clear(want[bs/2 : bs/2+bs])
	assert.Equal(t, want, got)
}

func (suite *StoreTestSuite) testZeroUnwritten(t *testing.T) {
	s := suite.NewStore(t)
	z := suite.zeroer(t, s)

	require.NoError(t, z.Zero(testContext(), 0, uint64(8*suite.BlockSize)))
	assert.Equal(t, make([]byte, suite.BlockSize), mustRead(t, s, suite.BlockSize, 0))
}
