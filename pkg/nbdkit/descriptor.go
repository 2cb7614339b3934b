package nbdkit

import "unsafe"

// APIVersion is the plugin ABI version this package implements.
const APIVersion = 2

// Descriptor is the Go view of the nbdkit_plugin struct handed to the host.
//
// Every func field corresponds to one C function pointer slot. A nil field
// means the slot is left NULL, which tells the host the operation is not
// implemented. Required slots (Open, Close, GetSize, PRead) are never nil.
//
// Arguments keep their raw ABI shape: strings arrive as pointers to
// NUL-terminated bytes, buffers as a pointer plus count, flags as the raw
// word. Decoding happens inside the slot.
type Descriptor struct {
	APIVersion  int
	ThreadModel ThreadModel

	Name           string
	LongName       string
	Version        string
	Description    string
	ConfigHelp     string
	MagicConfigKey string

	Load           func()
	Unload         func()
	Config         func(key, value unsafe.Pointer) int32
	ConfigComplete func() int32
	Open           func(readonly int32) Handle
	Close          func(h Handle)
	GetSize        func(h Handle) int64
	CanWrite       func(h Handle) int32
	CanFlush       func(h Handle) int32
	IsRotational   func(h Handle) int32
	CanTrim        func(h Handle) int32
	DumpPlugin     func()
	CanZero        func(h Handle) int32
	CanFua         func(h Handle) int32
	PRead          func(h Handle, buf unsafe.Pointer, count uint32, offset uint64, flags uint32) int32
	PWrite         func(h Handle, buf unsafe.Pointer, count uint32, offset uint64, flags uint32) int32
	Flush          func(h Handle, flags uint32) int32
	Trim           func(h Handle, count uint32, offset uint64, flags uint32) int32
	Zero           func(h Handle, count uint32, offset uint64, flags uint32) int32
	CanMultiConn   func(h Handle) int32
	CanExtents     func(h Handle) int32
	Extents        func(h Handle, count uint32, offset uint64, flags uint32, acc unsafe.Pointer) int32
	CanCache       func(h Handle) int32
	Cache          func(h Handle, count uint32, offset uint64, flags uint32) int32
	ThreadModelFn  func() int32
	CanFastZero    func(h Handle) int32
	PreConnect     func(readonly int32) int32
	GetReady       func() int32
}

// Slot describes one entry of the C struct.
type Slot struct {
	Name    string
	Present bool
}

// Slots lists every function pointer slot of the C struct in ABI order,
// including the five legacy v1 slots, which are always empty.
func (d *Descriptor) Slots() []Slot {
	return []Slot{
		{"load", d.Load != nil},
		{"unload", d.Unload != nil},
		{"config", d.Config != nil},
		{"config_complete", d.ConfigComplete != nil},
		{"open", d.Open != nil},
		{"close", d.Close != nil},
		{"get_size", d.GetSize != nil},
		{"can_write", d.CanWrite != nil},
		{"can_flush", d.CanFlush != nil},
		{"is_rotational", d.IsRotational != nil},
		{"can_trim", d.CanTrim != nil},
		{"_pread_v1", false},
		{"_pwrite_v1", false},
		{"_flush_v1", false},
		{"_trim_v1", false},
		{"_zero_v1", false},
		{"dump_plugin", d.DumpPlugin != nil},
		{"can_zero", d.CanZero != nil},
		{"can_fua", d.CanFua != nil},
		{"pread", d.PRead != nil},
		{"pwrite", d.PWrite != nil},
		{"flush", d.Flush != nil},
		{"trim", d.Trim != nil},
		{"zero", d.Zero != nil},
		{"can_multi_conn", d.CanMultiConn != nil},
		{"can_extents", d.CanExtents != nil},
		{"extents", d.Extents != nil},
		{"can_cache", d.CanCache != nil},
		{"cache", d.Cache != nil},
		{"thread_model", d.ThreadModelFn != nil},
		{"can_fast_zero", d.CanFastZero != nil},
		{"preconnect", d.PreConnect != nil},
		{"get_ready", d.GetReady != nil},
	}
}

// Has reports whether the named slot is populated.
func (d *Descriptor) Has(name string) bool {
	for _, s := range d.Slots() {
		if s.Name == name {
			return s.Present
		}
	}
	return false
}
