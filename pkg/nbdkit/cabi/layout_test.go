//go:build cgo

package cabi

import (
	"testing"
	"unsafe"

	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cInt     = 4
	cUint64  = 8
	cPointer = unsafe.Sizeof(uintptr(0))
)

// pluginFields is struct nbdkit_plugin for API version 2, member by member.
var pluginFields = []struct {
	name string
	size uintptr
}{
	{"_struct_size", cUint64},
	{"_api_version", cInt},
	{"_thread_model", cInt},
	{"name", cPointer},
	{"longname", cPointer},
	{"version", cPointer},
	{"description", cPointer},
	{"load", cPointer},
	{"unload", cPointer},
	{"config", cPointer},
	{"config_complete", cPointer},
	{"config_help", cPointer},
	{"open", cPointer},
	{"close", cPointer},
	{"get_size", cPointer},
	{"can_write", cPointer},
	{"can_flush", cPointer},
	{"is_rotational", cPointer},
	{"can_trim", cPointer},
	{"_pread_v1", cPointer},
	{"_pwrite_v1", cPointer},
	{"_flush_v1", cPointer},
	{"_trim_v1", cPointer},
	{"_zero_v1", cPointer},
	{"errno_is_preserved", cInt},
	{"dump_plugin", cPointer},
	{"can_zero", cPointer},
	{"can_fua", cPointer},
	{"pread", cPointer},
	{"pwrite", cPointer},
	{"flush", cPointer},
	{"trim", cPointer},
	{"zero", cPointer},
	{"magic_config_key", cPointer},
	{"can_multi_conn", cPointer},
	{"can_extents", cPointer},
	{"extents", cPointer},
	{"can_cache", cPointer},
	{"cache", cPointer},
	{"thread_model", cPointer},
	{"can_fast_zero", cPointer},
	{"preconnect", cPointer},
	{"get_ready", cPointer},
}

func align(off, to uintptr) uintptr {
	return (off + to - 1) / to * to
}

func offsetOf(t *testing.T, layout []Field, name string) uintptr {
	t.Helper()
	for _, f := range layout {
		if f.Name == name {
			return f.Offset
		}
	}
	require.Failf(t, "missing field", "%s", name)
	return 0
}

func TestLayout_Offsets(t *testing.T) {
	layout := Layout()
	require.Len(t, layout, len(pluginFields))

	var off uintptr
	for i, want := range pluginFields {
		off = align(off, want.size)
		assert.Equal(t, want.name, layout[i].Name)
		assert.Equal(t, off, layout[i].Offset, want.name)
		off += want.size
	}
	assert.Equal(t, align(off, 8), StructSize())
}

func TestLayout_HiddenFields(t *testing.T) {
	layout := Layout()

	assert.Equal(t, uintptr(0), offsetOf(t, layout, "_struct_size"))
	assert.Equal(t, uintptr(8), offsetOf(t, layout, "_api_version"))
	assert.Equal(t, uintptr(12), offsetOf(t, layout, "_thread_model"))
	assert.Equal(t, uintptr(16), offsetOf(t, layout, "name"))
}

func TestLayout_LegacySlots(t *testing.T) {
	layout := Layout()

	prev := offsetOf(t, layout, "can_trim")
	for _, name := range []string{"_pread_v1", "_pwrite_v1", "_flush_v1", "_trim_v1", "_zero_v1"} {
		off := offsetOf(t, layout, name)
		assert.Equal(t, prev+cPointer, off, name)
		prev = off
	}
	assert.Equal(t, prev+cPointer, offsetOf(t, layout, "errno_is_preserved"))
}

func TestLayout_GetReadyIsLast(t *testing.T) {
	layout := Layout()
	last := layout[len(layout)-1]

	assert.Equal(t, "get_ready", last.Name)
	assert.Equal(t, StructSize(), last.Offset+cPointer)
}

// The descriptor lists its slots in the same order the struct holds them.
func TestLayout_MatchesDescriptorSlots(t *testing.T) {
	var slots []string
	for _, s := range (&nbdkit.Descriptor{}).Slots() {
		slots = append(slots, s.Name)
	}

	var inStruct []string
	prev := uintptr(0)
	for _, f := range Layout() {
		require.GreaterOrEqual(t, f.Offset, prev, f.Name)
		prev = f.Offset
		switch f.Name {
		case "_struct_size", "_api_version", "_thread_model",
			"name", "longname", "version", "description",
			"config_help", "magic_config_key", "errno_is_preserved":
			continue
		}
		inStruct = append(inStruct, f.Name)
	}

	assert.Equal(t, slots, inStruct)
	assert.Len(t, slots, 33)
}
