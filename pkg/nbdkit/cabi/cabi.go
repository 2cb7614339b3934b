package cabi

/*
#cgo LDFLAGS: -Wl,--unresolved-symbols=ignore-in-object-files

#include "plugin.h"
*/
import "C"

import (
	"sync/atomic"
	"unsafe"

	"github.com/marmos91/dittobd/pkg/nbdkit"
)

var current atomic.Pointer[nbdkit.Descriptor]

func descriptor() *nbdkit.Descriptor {
	d := current.Load()
	if d == nil {
		panic("cabi: slot called before PluginInit")
	}
	return d
}

// PluginInit registers p and returns a pointer to a C struct nbdkit_plugin
// describing it. Call it from the plugin's exported plugin_init.
//
// The struct is malloc'd and never freed: the host keeps it for the life of
// the process. Registering a second, different plugin panics, which aborts
// the host.
func PluginInit(p nbdkit.Plugin, opts nbdkit.Options) unsafe.Pointer {
	d := nbdkit.MustRegister(p, opts)
	current.Store(d)

	plugin := C.struct_nbdkit_plugin{}
	size := StructSize()

	// ===== Hidden fields =====
	plugin._struct_size = C.uint64_t(size)
	plugin._api_version = C.int(d.APIVersion)
	plugin._thread_model = C.int(d.ThreadModel)

	// Go plugins cannot guarantee errno survives a return from Go.
	plugin.errno_is_preserved = 0

	// ===== Metadata =====
	plugin.name = cstring(d.Name)
	plugin.longname = cstring(d.LongName)
	plugin.version = cstring(d.Version)
	plugin.description = cstring(d.Description)
	plugin.config_help = cstring(d.ConfigHelp)
	plugin.magic_config_key = cstring(d.MagicConfigKey)

	// ===== Required slots =====
	plugin.open = (*[0]byte)(C.wrapper_open)
	plugin.close = (*[0]byte)(C.wrapper_close)
	plugin.get_size = (*[0]byte)(C.wrapper_get_size)
	plugin.pread = (*[0]byte)(C.wrapper_pread)

	// ===== Optional slots =====
	if d.Load != nil {
		plugin.load = (*[0]byte)(C.wrapper_load)
	}
	if d.Unload != nil {
		plugin.unload = (*[0]byte)(C.wrapper_unload)
	}
	if d.Config != nil {
		plugin.config = (*[0]byte)(C.wrapper_config)
	}
	if d.ConfigComplete != nil {
		plugin.config_complete = (*[0]byte)(C.wrapper_config_complete)
	}
	if d.DumpPlugin != nil {
		plugin.dump_plugin = (*[0]byte)(C.wrapper_dump_plugin)
	}
	if d.GetReady != nil {
		plugin.get_ready = (*[0]byte)(C.wrapper_get_ready)
	}
	if d.PreConnect != nil {
		plugin.preconnect = (*[0]byte)(C.wrapper_preconnect)
	}
	if d.ThreadModelFn != nil {
		plugin.thread_model = (*[0]byte)(C.wrapper_thread_model)
	}
	if d.PWrite != nil {
		plugin.pwrite = (*[0]byte)(C.wrapper_pwrite)
	}
	if d.Flush != nil {
		plugin.flush = (*[0]byte)(C.wrapper_flush)
	}
	if d.Trim != nil {
		plugin.trim = (*[0]byte)(C.wrapper_trim)
	}
	if d.Zero != nil {
		plugin.zero = (*[0]byte)(C.wrapper_zero)
	}
	if d.Cache != nil {
		plugin.cache = (*[0]byte)(C.wrapper_cache)
	}
	if d.Extents != nil {
		plugin.extents = (*[0]byte)(C.wrapper_extents)
	}
	if d.CanWrite != nil {
		plugin.can_write = (*[0]byte)(C.wrapper_can_write)
	}
	if d.CanFlush != nil {
		plugin.can_flush = (*[0]byte)(C.wrapper_can_flush)
	}
	if d.IsRotational != nil {
		plugin.is_rotational = (*[0]byte)(C.wrapper_is_rotational)
	}
	if d.CanTrim != nil {
		plugin.can_trim = (*[0]byte)(C.wrapper_can_trim)
	}
	if d.CanZero != nil {
		plugin.can_zero = (*[0]byte)(C.wrapper_can_zero)
	}
	if d.CanFua != nil {
		plugin.can_fua = (*[0]byte)(C.wrapper_can_fua)
	}
	if d.CanMultiConn != nil {
		plugin.can_multi_conn = (*[0]byte)(C.wrapper_can_multi_conn)
	}
	if d.CanExtents != nil {
		plugin.can_extents = (*[0]byte)(C.wrapper_can_extents)
	}
	if d.CanCache != nil {
		plugin.can_cache = (*[0]byte)(C.wrapper_can_cache)
	}
	if d.CanFastZero != nil {
		plugin.can_fast_zero = (*[0]byte)(C.wrapper_can_fast_zero)
	}

	out := (*C.struct_nbdkit_plugin)(C.malloc(C.size_t(size)))
	*out = plugin
	return unsafe.Pointer(out)
}

// cstring returns a process-lifetime C copy of s, or NULL for "".
func cstring(s string) *C.char {
	if s == "" {
		return nil
	}
	return C.CString(s)
}
