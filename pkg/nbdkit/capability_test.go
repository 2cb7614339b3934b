package nbdkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeclare(t *testing.T) {
	s := Declare(CapWriteAt, CapFlush, CapWriteAt)

	assert.True(t, s.Has(CapWriteAt))
	assert.True(t, s.Has(CapFlush))
	assert.False(t, s.Has(CapTrim))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []Capability{CapWriteAt, CapFlush}, s.Capabilities())
	assert.Equal(t, "{pwrite,flush}", s.String())
}

func TestCapabilitySetWithout(t *testing.T) {
	s := AllCapabilities().Without(CapCache)

	assert.False(t, s.Has(CapCache))
	assert.True(t, s.Has(CapCanCache))
	assert.Equal(t, int(capCount)-1, s.Len())
	assert.NoError(t, s.validate())
}

func TestCapabilitySetValidate(t *testing.T) {
	assert.NoError(t, CapabilitySet(0).validate())
	assert.NoError(t, AllCapabilities().validate())
	assert.Error(t, (AllCapabilities() + 1).validate())
	assert.False(t, CapabilitySet(0).Has(capCount))
}

func TestCapabilityNames(t *testing.T) {
	seen := make(map[string]bool)
	for c := Capability(0); c < capCount; c++ {
		name := c.String()
		assert.NotEmpty(t, name)
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
	assert.Equal(t, "Capability(200)", Capability(200).String())
}
