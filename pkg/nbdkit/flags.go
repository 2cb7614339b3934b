package nbdkit

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Per-call Flags
// ============================================================================

// Flags is the bitmask nbdkit passes to data operations.
//
// The bit values are part of the plugin ABI and must not change.
type Flags uint32

const (
	// FlagMayTrim allows Zero to punch a hole instead of writing zeroes.
	FlagMayTrim Flags = 1 << 0

	// FlagFUA requests Forced Unit Access: the effect must be durable
	// before the call returns.
	FlagFUA Flags = 1 << 1

	// FlagReqOne asks Extents to report a single extent. Advisory only;
	// plugins may report more.
	FlagReqOne Flags = 1 << 2

	// FlagFastZero asks Zero to fail with EOPNOTSUPP instead of falling
	// back to a slow write of zeroes.
	FlagFastZero Flags = 1 << 3

	flagsKnown = FlagMayTrim | FlagFUA | FlagReqOne | FlagFastZero
)

// ErrUnknownFlags is returned when a flags word carries bits this package
// does not know. It means the host and the plugin disagree on the ABI.
var ErrUnknownFlags = errors.New("unknown flag bits")

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagMayTrim, "MAY_TRIM"},
	{FlagFUA, "FUA"},
	{FlagReqOne, "REQ_ONE"},
	{FlagFastZero, "FAST_ZERO"},
}

// DecodeFlags converts a raw flags word into Flags.
//
// Any bit outside the known set is rejected with ErrUnknownFlags rather than
// silently dropped.
func DecodeFlags(raw uint32) (Flags, error) {
	if unknown := raw &^ uint32(flagsKnown); unknown != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrUnknownFlags, unknown)
	}
	return Flags(raw), nil
}

// Bits returns the raw flags word.
func (f Flags) Bits() uint32 {
	return uint32(f)
}

// Has reports whether every bit in other is set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

// IsEmpty reports whether no flag is set.
func (f Flags) IsEmpty() bool {
	return f == 0
}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}

	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ============================================================================
// Tri-state support levels
// ============================================================================

// CacheFlags tells the host how the cache operation is supported.
type CacheFlags int32

const (
	// CacheNone: cache requests are not advertised to clients.
	CacheNone CacheFlags = 0
	// CacheEmulate: the host emulates cache with reads.
	CacheEmulate CacheFlags = 1
	// CacheNative: the host calls the plugin's Cache.
	CacheNative CacheFlags = 2
)

// DecodeCacheFlags converts an ordinal into CacheFlags.
func DecodeCacheFlags(v int32) (CacheFlags, error) {
	if v < int32(CacheNone) || v > int32(CacheNative) {
		return 0, fmt.Errorf("invalid cache level %d", v)
	}
	return CacheFlags(v), nil
}

func (c CacheFlags) String() string {
	switch c {
	case CacheNone:
		return "none"
	case CacheEmulate:
		return "emulate"
	case CacheNative:
		return "native"
	default:
		return fmt.Sprintf("CacheFlags(%d)", int32(c))
	}
}

// FuaFlags tells the host how Forced Unit Access is supported.
type FuaFlags int32

const (
	// FuaNone: FUA is not advertised to clients.
	FuaNone FuaFlags = 0
	// FuaEmulate: the host emulates FUA by calling Flush after the write.
	FuaEmulate FuaFlags = 1
	// FuaNative: the plugin handles FlagFUA itself.
	FuaNative FuaFlags = 2
)

// DecodeFuaFlags converts an ordinal into FuaFlags.
func DecodeFuaFlags(v int32) (FuaFlags, error) {
	if v < int32(FuaNone) || v > int32(FuaNative) {
		return 0, fmt.Errorf("invalid FUA level %d", v)
	}
	return FuaFlags(v), nil
}

func (f FuaFlags) String() string {
	switch f {
	case FuaNone:
		return "none"
	case FuaEmulate:
		return "emulate"
	case FuaNative:
		return "native"
	default:
		return fmt.Sprintf("FuaFlags(%d)", int32(f))
	}
}

// ============================================================================
// Extent types
// ============================================================================

// ExtentType describes the allocation status of an extent. Hole and Zero are
// independent bits in the nbdkit ABI; HoleZero is both.
type ExtentType uint32

const (
	ExtentAllocated ExtentType = 0
	ExtentHole      ExtentType = 1
	ExtentZero      ExtentType = 2
	ExtentHoleZero  ExtentType = ExtentHole | ExtentZero
)

// DecodeExtentType converts a raw extent type into ExtentType.
func DecodeExtentType(v uint32) (ExtentType, error) {
	if v > uint32(ExtentHoleZero) {
		return 0, fmt.Errorf("invalid extent type %d", v)
	}
	return ExtentType(v), nil
}

func (t ExtentType) String() string {
	switch t {
	case ExtentAllocated:
		return "allocated"
	case ExtentHole:
		return "hole"
	case ExtentZero:
		return "zero"
	case ExtentHoleZero:
		return "hole,zero"
	default:
		return fmt.Sprintf("ExtentType(%d)", uint32(t))
	}
}

// ============================================================================
// Thread model
// ============================================================================

// ThreadModel is the concurrency envelope the host enforces for the plugin,
// from strictest to loosest.
type ThreadModel int32

const (
	// ThreadModelSerializeConnections: one connection at a time.
	ThreadModelSerializeConnections ThreadModel = 0
	// ThreadModelSerializeAllRequests: many connections, one request at a
	// time across all of them.
	ThreadModelSerializeAllRequests ThreadModel = 1
	// ThreadModelSerializeRequests: one in-flight request per connection.
	ThreadModelSerializeRequests ThreadModel = 2
	// ThreadModelParallel: no serialization at all, even within a connection.
	ThreadModelParallel ThreadModel = 3
)

// DecodeThreadModel converts an ordinal into ThreadModel.
func DecodeThreadModel(v int32) (ThreadModel, error) {
	if v < int32(ThreadModelSerializeConnections) || v > int32(ThreadModelParallel) {
		return 0, fmt.Errorf("invalid thread model %d", v)
	}
	return ThreadModel(v), nil
}

func (m ThreadModel) String() string {
	switch m {
	case ThreadModelSerializeConnections:
		return "serialize_connections"
	case ThreadModelSerializeAllRequests:
		return "serialize_all_requests"
	case ThreadModelSerializeRequests:
		return "serialize_requests"
	case ThreadModelParallel:
		return "parallel"
	default:
		return fmt.Sprintf("ThreadModel(%d)", int32(m))
	}
}
