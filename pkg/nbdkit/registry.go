package nbdkit

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Options configures Register.
type Options struct {
	// Capabilities declares which optional operations the plugin implements.
	// Only declared operations get a slot in the Descriptor.
	Capabilities CapabilitySet

	// Metrics receives per-call observations. Nil disables metrics.
	Metrics Metrics
}

// metadata is the plugin's static strings, copied once at registration.
type metadata struct {
	name           string
	longName       string
	version        string
	description    string
	configHelp     string
	magicConfigKey string
}

// binding is the process-wide registration state. It is written once by
// Register and never modified afterwards, so adapters read it without locks.
type binding struct {
	plugin  Plugin
	typ     reflect.Type
	caps    CapabilitySet
	meta    metadata
	metrics Metrics
	handles *handleTable
}

var (
	registryMu sync.Mutex
	bound      *binding
)

// Register binds p as the plugin of this process and returns its Descriptor.
//
// A process hosts exactly one plugin for its lifetime. Calling Register again
// with a plugin of the same dynamic type and the same capability set returns a
// fresh Descriptor over the original binding. Any other second call fails with
// ErrAlreadyRegistered and leaves the first binding untouched.
func Register(p Plugin, opts Options) (*Descriptor, error) {
	// ===== Validate =====
	if p == nil {
		return nil, errors.New("nbdkit: nil plugin")
	}
	if err := opts.Capabilities.validate(); err != nil {
		return nil, fmt.Errorf("nbdkit: %w", err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	// ===== Re-registration =====
	typ := reflect.TypeOf(p)
	if bound != nil {
		if bound.typ != typ {
			return nil, fmt.Errorf("%w: %s is bound, cannot register %s",
				ErrAlreadyRegistered, bound.typ, typ)
		}
		if bound.caps != opts.Capabilities {
			return nil, fmt.Errorf("%w: %s is bound with capabilities %s, not %s",
				ErrAlreadyRegistered, typ, bound.caps, opts.Capabilities)
		}
		return bound.descriptor(), nil
	}

	// ===== First binding =====
	meta := metadata{
		name:           p.Name(),
		longName:       p.LongName(),
		version:        p.Version(),
		description:    p.Description(),
		configHelp:     p.ConfigHelp(),
		magicConfigKey: p.MagicConfigKey(),
	}
	if meta.name == "" {
		return nil, errors.New("nbdkit: plugin name is required")
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	bound = &binding{
		plugin:  p,
		typ:     typ,
		caps:    opts.Capabilities,
		meta:    meta,
		metrics: metrics,
		handles: newHandleTable(),
	}
	return bound.descriptor(), nil
}

// MustRegister is Register that panics on error. It is meant for the
// plugin_init entry point, where a second distinct plugin must abort loudly.
func MustRegister(p Plugin, opts Options) *Descriptor {
	d, err := Register(p, opts)
	if err != nil {
		panic(err)
	}
	return d
}

// resetRegistration drops the process binding. Tests only.
func resetRegistration() {
	registryMu.Lock()
	bound = nil
	registryMu.Unlock()
}

// descriptor builds a Descriptor: required slots always, optional slots only
// when declared.
func (b *binding) descriptor() *Descriptor {
	d := &Descriptor{
		APIVersion:     APIVersion,
		ThreadModel:    ThreadModelParallel,
		Name:           b.meta.name,
		LongName:       b.meta.longName,
		Version:        b.meta.version,
		Description:    b.meta.description,
		ConfigHelp:     b.meta.configHelp,
		MagicConfigKey: b.meta.magicConfigKey,

		Open:    b.open,
		Close:   b.close,
		GetSize: b.getSize,
		PRead:   b.pread,
	}

	has := b.caps.Has
	if has(CapLoad) {
		d.Load = b.load
	}
	if has(CapUnload) {
		d.Unload = b.unload
	}
	if has(CapConfig) {
		d.Config = b.config
	}
	if has(CapConfigComplete) {
		d.ConfigComplete = b.configComplete
	}
	if has(CapDumpPlugin) {
		d.DumpPlugin = b.dumpPlugin
	}
	if has(CapGetReady) {
		d.GetReady = b.getReady
	}
	if has(CapPreConnect) {
		d.PreConnect = b.preConnect
	}
	if has(CapThreadModel) {
		d.ThreadModelFn = b.threadModel
	}
	if has(CapWriteAt) {
		d.PWrite = b.pwrite
	}
	if has(CapFlush) {
		d.Flush = b.flush
	}
	if has(CapTrim) {
		d.Trim = b.trim
	}
	if has(CapZero) {
		d.Zero = b.zero
	}
	if has(CapCache) {
		d.Cache = b.cache
	}
	if has(CapExtents) {
		d.Extents = b.extents
	}
	if has(CapCanWrite) {
		d.CanWrite = b.canWrite
	}
	if has(CapCanFlush) {
		d.CanFlush = b.canFlush
	}
	if has(CapCanTrim) {
		d.CanTrim = b.canTrim
	}
	if has(CapCanZero) {
		d.CanZero = b.canZero
	}
	if has(CapCanFua) {
		d.CanFua = b.canFua
	}
	if has(CapCanCache) {
		d.CanCache = b.canCache
	}
	if has(CapCanMultiConn) {
		d.CanMultiConn = b.canMultiConn
	}
	if has(CapCanExtents) {
		d.CanExtents = b.canExtents
	}
	if has(CapCanFastZero) {
		d.CanFastZero = b.canFastZero
	}
	if has(CapIsRotational) {
		d.IsRotational = b.isRotational
	}
	return d
}
