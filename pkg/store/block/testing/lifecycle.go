package testing

import (
	"testing"

	"github.com/marmos91/dittobd/pkg/store/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunLifecycleTests executes the Flush and Close tests.
func (suite *StoreTestSuite) RunLifecycleTests(t *testing.T) {
	t.Run("Flush", suite.testFlush)
	t.Run("ClosedStoreFails", suite.testClosedStoreFails)
}

func (suite *StoreTestSuite) testFlush(t *testing.T) {
	s := suite.NewStore(t)

	mustWrite(t, s, []byte("durable"), 0)
	require.NoError(t, s.Flush(testContext()))
	assert.Equal(t, []byte("durable"), mustRead(t, s, 7, 0))
}

func (suite *StoreTestSuite) testClosedStoreFails(t *testing.T) {
	s := suite.NewStore(t)
	require.NoError(t, s.Close())

	p := make([]byte, 10)
	assert.ErrorIs(t, s.ReadAt(testContext(), p, 0), block.ErrStoreClosed)
	assert.ErrorIs(t, s.WriteAt(testContext(), p, 0), block.ErrStoreClosed)
	assert.ErrorIs(t, s.Flush(testContext()), block.ErrStoreClosed)
	assert.ErrorIs(t, s.Close(), block.ErrStoreClosed)
}
