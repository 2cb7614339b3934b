package cabi

/*
#include "plugin.h"
*/
import "C"

import (
	"unsafe"

	"github.com/marmos91/dittobd/pkg/nbdkit"
)

// Entry points called by the C trampolines in wrappers.c. Each one forwards
// to the matching slot of the registered Descriptor. The trampoline for a
// slot is only installed when the slot is populated, so none of these can
// observe a nil func.

//export implLoad
func implLoad() {
	descriptor().Load()
}

//export implUnload
func implUnload() {
	descriptor().Unload()
}

//export implDumpPlugin
func implDumpPlugin() {
	descriptor().DumpPlugin()
}

//export implConfig
func implConfig(key, value *C.char) C.int {
	return C.int(descriptor().Config(unsafe.Pointer(key), unsafe.Pointer(value)))
}

//export implConfigComplete
func implConfigComplete() C.int {
	return C.int(descriptor().ConfigComplete())
}

//export implGetReady
func implGetReady() C.int {
	return C.int(descriptor().GetReady())
}

//export implPreConnect
func implPreConnect(readonly C.int) C.int {
	return C.int(descriptor().PreConnect(int32(readonly)))
}

//export implThreadModel
func implThreadModel() C.int {
	return C.int(descriptor().ThreadModelFn())
}

//export implOpen
func implOpen(readonly C.int) C.uintptr_t {
	return C.uintptr_t(descriptor().Open(int32(readonly)))
}

//export implClose
func implClose(h C.uintptr_t) {
	descriptor().Close(nbdkit.Handle(h))
}

//export implGetSize
func implGetSize(h C.uintptr_t) C.int64_t {
	return C.int64_t(descriptor().GetSize(nbdkit.Handle(h)))
}

//export implCanWrite
func implCanWrite(h C.uintptr_t) C.int {
	return C.int(descriptor().CanWrite(nbdkit.Handle(h)))
}

//export implCanFlush
func implCanFlush(h C.uintptr_t) C.int {
	return C.int(descriptor().CanFlush(nbdkit.Handle(h)))
}

//export implIsRotational
func implIsRotational(h C.uintptr_t) C.int {
	return C.int(descriptor().IsRotational(nbdkit.Handle(h)))
}

//export implCanTrim
func implCanTrim(h C.uintptr_t) C.int {
	return C.int(descriptor().CanTrim(nbdkit.Handle(h)))
}

//export implCanZero
func implCanZero(h C.uintptr_t) C.int {
	return C.int(descriptor().CanZero(nbdkit.Handle(h)))
}

//export implCanFua
func implCanFua(h C.uintptr_t) C.int {
	return C.int(descriptor().CanFua(nbdkit.Handle(h)))
}

//export implCanMultiConn
func implCanMultiConn(h C.uintptr_t) C.int {
	return C.int(descriptor().CanMultiConn(nbdkit.Handle(h)))
}

//export implCanExtents
func implCanExtents(h C.uintptr_t) C.int {
	return C.int(descriptor().CanExtents(nbdkit.Handle(h)))
}

//export implCanCache
func implCanCache(h C.uintptr_t) C.int {
	return C.int(descriptor().CanCache(nbdkit.Handle(h)))
}

//export implCanFastZero
func implCanFastZero(h C.uintptr_t) C.int {
	return C.int(descriptor().CanFastZero(nbdkit.Handle(h)))
}

//export implPRead
func implPRead(h C.uintptr_t, buf unsafe.Pointer, count C.uint32_t, offset C.uint64_t, flags C.uint32_t) C.int {
	return C.int(descriptor().PRead(nbdkit.Handle(h), buf, uint32(count), uint64(offset), uint32(flags)))
}

//export implPWrite
func implPWrite(h C.uintptr_t, buf unsafe.Pointer, count C.uint32_t, offset C.uint64_t, flags C.uint32_t) C.int {
	return C.int(descriptor().PWrite(nbdkit.Handle(h), buf, uint32(count), uint64(offset), uint32(flags)))
}

//export implFlush
func implFlush(h C.uintptr_t, flags C.uint32_t) C.int {
	return C.int(descriptor().Flush(nbdkit.Handle(h), uint32(flags)))
}

//export implTrim
func implTrim(h C.uintptr_t, count C.uint32_t, offset C.uint64_t, flags C.uint32_t) C.int {
	return C.int(descriptor().Trim(nbdkit.Handle(h), uint32(count), uint64(offset), uint32(flags)))
}

//export implZero
func implZero(h C.uintptr_t, count C.uint32_t, offset C.uint64_t, flags C.uint32_t) C.int {
	return C.int(descriptor().Zero(nbdkit.Handle(h), uint32(count), uint64(offset), uint32(flags)))
}

//export implCache
func implCache(h C.uintptr_t, count C.uint32_t, offset C.uint64_t, flags C.uint32_t) C.int {
	return C.int(descriptor().Cache(nbdkit.Handle(h), uint32(count), uint64(offset), uint32(flags)))
}

//export implExtents
func implExtents(h C.uintptr_t, count C.uint32_t, offset C.uint64_t, flags C.uint32_t, acc unsafe.Pointer) C.int {
	return C.int(descriptor().Extents(nbdkit.Handle(h), uint32(count), uint64(offset), uint32(flags), acc))
}
