package nbdkit

import (
	"fmt"
	"math/bits"
	"strings"
)

// Capability identifies one optional descriptor slot.
type Capability uint8

// Optional operations. Required slots (open, close, get_size, pread) have no
// Capability: they are always present.
const (
	CapLoad Capability = iota
	CapUnload
	CapConfig
	CapConfigComplete
	CapDumpPlugin
	CapGetReady
	CapPreConnect
	CapThreadModel
	CapWriteAt
	CapFlush
	CapTrim
	CapZero
	CapCache
	CapExtents
	CapCanWrite
	CapCanFlush
	CapCanTrim
	CapCanZero
	CapCanFua
	CapCanCache
	CapCanMultiConn
	CapCanExtents
	CapCanFastZero
	CapIsRotational

	capCount
)

// capabilityNames holds the descriptor slot name for each Capability.
var capabilityNames = [capCount]string{
	CapLoad:           "load",
	CapUnload:         "unload",
	CapConfig:         "config",
	CapConfigComplete: "config_complete",
	CapDumpPlugin:     "dump_plugin",
	CapGetReady:       "get_ready",
	CapPreConnect:     "preconnect",
	CapThreadModel:    "thread_model",
	CapWriteAt:        "pwrite",
	CapFlush:          "flush",
	CapTrim:           "trim",
	CapZero:           "zero",
	CapCache:          "cache",
	CapExtents:        "extents",
	CapCanWrite:       "can_write",
	CapCanFlush:       "can_flush",
	CapCanTrim:        "can_trim",
	CapCanZero:        "can_zero",
	CapCanFua:         "can_fua",
	CapCanCache:       "can_cache",
	CapCanMultiConn:   "can_multi_conn",
	CapCanExtents:     "can_extents",
	CapCanFastZero:    "can_fast_zero",
	CapIsRotational:   "is_rotational",
}

func (c Capability) String() string {
	if c < capCount {
		return capabilityNames[c]
	}
	return fmt.Sprintf("Capability(%d)", uint8(c))
}

// CapabilitySet is the set of optional operations a plugin implements.
// The zero value declares nothing: only the required slots are populated.
type CapabilitySet uint32

const capAll = CapabilitySet(1)<<capCount - 1

// Declare builds a CapabilitySet from a list of capabilities.
func Declare(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s = s.With(c)
	}
	return s
}

// AllCapabilities declares every optional operation.
func AllCapabilities() CapabilitySet {
	return capAll
}

// With returns s plus c.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(1)<<c
}

// Without returns s minus c.
func (s CapabilitySet) Without(c Capability) CapabilitySet {
	return s &^ (CapabilitySet(1) << c)
}

// Has reports whether c is declared.
func (s CapabilitySet) Has(c Capability) bool {
	return c < capCount && s&(CapabilitySet(1)<<c) != 0
}

// Len returns the number of declared capabilities.
func (s CapabilitySet) Len() int {
	return bits.OnesCount32(uint32(s))
}

// Capabilities lists the declared capabilities in slot order.
func (s CapabilitySet) Capabilities() []Capability {
	out := make([]Capability, 0, s.Len())
	for c := Capability(0); c < capCount; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// validate rejects bits that do not name a Capability.
func (s CapabilitySet) validate() error {
	if extra := s &^ capAll; extra != 0 {
		return fmt.Errorf("capability set has unknown bits %#x", uint32(extra))
	}
	return nil
}

func (s CapabilitySet) String() string {
	caps := s.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
