package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite checks the block.Store contract and, when implemented, the
// Trimmer, Zeroer and ExtentMapper contracts. It tests behavior only, so every
// backend (memory, badger, bolt, S3) runs the same cases.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetest.StoreTestSuite{
//	        BlockSize: 4096,
//	        NewStore: func(t *testing.T) block.Store {
//	            return mystore.New(...)
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// BlockSize must match the block size of the stores built by NewStore.
	BlockSize int

	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) block.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ReadWrite", suite.RunReadWriteTests)
	t.Run("Discard", suite.RunDiscardTests)
	t.Run("Extents", suite.RunExtentTests)
	t.Run("Lifecycle", suite.RunLifecycleTests)
	t.Run("Collect", suite.RunCollectTests)
}

func testContext() context.Context {
	return context.Background()
}

// pattern returns n bytes of a repeating, offset-dependent pattern so that
// misplaced bytes are caught.
func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i%251)
	}
	return p
}

func mustWrite(t *testing.T, s block.Store, p []byte, off uint64) {
	t.Helper()
	require.NoError(t, s.WriteAt(testContext(), p, off))
}

func mustRead(t *testing.T, s block.Store, n int, off uint64) []byte {
	t.Helper()
	p := make([]byte, n)
	for i := range p {
		p[i] = 0xAA
	}
	require.NoError(t, s.ReadAt(testContext(), p, off))
	return p
}
