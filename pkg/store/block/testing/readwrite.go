package testing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// RunReadWriteTests executes the ReadAt/WriteAt tests.
func (suite *StoreTestSuite) RunReadWriteTests(t *testing.T) {
	t.Run("UnwrittenReadsZero", suite.testUnwrittenReadsZero)
	t.Run("RoundTrip", suite.testRoundTrip)
	t.Run("Unaligned", suite.testUnaligned)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("SparseFarOffset", suite.testSparseFarOffset)
	t.Run("EmptyBuffer", suite.testEmptyBuffer)
	t.Run("Concurrent", suite.testConcurrent)
}

func (suite *StoreTestSuite) testUnwrittenReadsZero(t *testing.T) {
	s := suite.NewStore(t)

	got := mustRead(t, s, 3*suite.BlockSize, 0)
	assert.Equal(t, make([]byte, 3*suite.BlockSize), got)
}

func (suite *StoreTestSuite) testRoundTrip(t *testing.T) {
	s := suite.NewStore(t)
	bs := suite.BlockSize

	data := pattern(2*bs, 1)
	mustWrite(t, s, data, uint64(bs))

	assert.Equal(t, data, mustRead(t, s, 2*bs, uint64(bs)))
	assert.Equal(t, make([]byte, bs), mustRead(t, s, bs, 0))
}

func (suite *StoreTestSuite) testUnaligned(t *testing.T) {
	s := suite.NewStore(t)
	bs := suite.BlockSize

	// Straddles the first block boundary.
	data := pattern(bs, 7)
	off := uint64(bs / 2)
	mustWrite(t, s, data, off)

	got := mustRead(t, s, 2*bs, 0)
	assert.Equal(t, make([]byte, bs/2), got[:bs/2])
	assert.Equal(t, data, got[bs/2:bs/2+bs])
	assert.Equal(t, make([]byte, bs/2), got[bs/2+bs:])
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	s := suite.NewStore(t)
	bs := suite.BlockSize

	mustWrite(t, s, pattern(bs, 1), 0)
	mustWrite(t, s, []byte("0123456789"), 100)

	got := mustRead(t, s, bs, 0)
	want := pattern(bs, 1)
	copy(want[100:], "0123456789")
	assert.Equal(t, want, got)
}

func (suite *StoreTestSuite) testSparseFarOffset(t *testing.T) {
	s := suite.NewStore(t)

	off := uint64(1) << 40
	mustWrite(t, s, []byte("far away"), off)

	assert.Equal(t, []byte("far away"), mustRead(t, s, 8, off))
	assert.Equal(t, make([]byte, 16), mustRead(t, s, 16, off-16))
}

func (suite *StoreTestSuite) testEmptyBuffer(t *testing.T) {
	s := suite.NewStore(t)

	assert.NoError(t, s.WriteAt(testContext(), nil, 0))
	assert.NoError(t, s.ReadAt(testContext(), nil, 0))
}

func (suite *StoreTestSuite) testConcurrent(t *testing.T) {
	s := suite.NewStore(t)
	bs := suite.BlockSize

	const workers = 8
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mustWrite(t, s, pattern(bs, byte(i)), uint64(i*bs))
		}(i)
	}
	wg.Wait()

	for i := range workers {
		assert.Equal(t, pattern(bs, byte(i)), mustRead(t, s, bs, uint64(i*bs)), "block %d", i)
	}
}
