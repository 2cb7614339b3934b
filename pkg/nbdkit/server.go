package nbdkit

// ============================================================================
// Plugin Interface (process-wide operations)
// ============================================================================

// Plugin is the process-wide side of an nbdkit plugin.
//
// Name and Open are required. Every other method is optional and is only
// called by the host if the matching Capability was declared at registration;
// embed UnimplementedPlugin to satisfy the ones you leave out.
//
// The metadata getters (LongName, Version, Description, ConfigHelp,
// MagicConfigKey) are read once at registration. An empty string leaves the
// corresponding descriptor field NULL.
type Plugin interface {
	// Name is the short plugin name, e.g. "memory". Required.
	Name() string

	LongName() string
	Version() string
	Description() string
	ConfigHelp() string

	// MagicConfigKey names the key the host uses for bare parameters
	// (a command line argument without '=').
	MagicConfigKey() string

	// Load runs once after the shared object is loaded. (CapLoad)
	Load()

	// Unload runs once before the shared object is unloaded. (CapUnload)
	Unload()

	// DumpPlugin prints extra key=value lines for `nbdkit --dump-plugin`.
	// (CapDumpPlugin)
	DumpPlugin()

	// Config is called once per key=value parameter, in command line order.
	// (CapConfig)
	Config(key, value string) error

	// ConfigComplete is called once after the last Config. (CapConfigComplete)
	ConfigComplete() error

	// GetReady is called once after configuration, before serving.
	// (CapGetReady)
	GetReady() error

	// PreConnect is called for every accepted connection before protocol
	// negotiation. (CapPreConnect)
	PreConnect(readonly bool) error

	// ThreadModel lets the plugin pick a stricter concurrency envelope
	// than the default Parallel. (CapThreadModel)
	ThreadModel() (ThreadModel, error)

	// Open creates the per-connection Server. Required.
	Open(readonly bool) (Server, error)
}

// ============================================================================
// Server Interface (per-connection operations)
// ============================================================================

// Server is the per-connection side of an nbdkit plugin.
//
// GetSize and ReadAt are required. The rest are optional and gated by their
// Capability; embed UnimplementedServer for the ones you leave out.
//
// If a Server also implements io.Closer, Close is called when the host
// closes the connection. The error, if any, is logged.
//
// Under ThreadModelParallel the host may call any method concurrently, even
// on the same Server. Synchronizing shared state is the implementation's job.
type Server interface {
	// GetSize returns the size of the export in bytes. Required.
	GetSize() (int64, error)

	// ReadAt fills buf with len(buf) bytes starting at offset. Required.
	ReadAt(buf []byte, offset uint64) error

	// WriteAt writes buf at offset. (CapWriteAt)
	WriteAt(buf []byte, offset uint64, flags Flags) error

	// Flush makes all previous writes durable. (CapFlush)
	Flush() error

	// Trim discards count bytes at offset. (CapTrim)
	Trim(count uint32, offset uint64, flags Flags) error

	// Zero writes count zero bytes at offset. (CapZero)
	Zero(count uint32, offset uint64, flags Flags) error

	// Cache prefetches count bytes at offset. (CapCache)
	Cache(count uint32, offset uint64) error

	// Extents reports the allocation status of [offset, offset+count)
	// through h. (CapExtents)
	Extents(count uint32, offset uint64, flags Flags, h *ExtentHandle) error

	CanWrite() (bool, error)       // CapCanWrite
	CanFlush() (bool, error)       // CapCanFlush
	CanTrim() (bool, error)        // CapCanTrim
	CanZero() (bool, error)        // CapCanZero
	CanFua() (FuaFlags, error)     // CapCanFua
	CanCache() (CacheFlags, error) // CapCanCache
	CanMultiConn() (bool, error)   // CapCanMultiConn
	CanExtents() (bool, error)     // CapCanExtents
	CanFastZero() (bool, error)    // CapCanFastZero
	IsRotational() (bool, error)   // CapIsRotational
}

// ============================================================================
// Defaults
// ============================================================================

// unreachable is what every undeclared operation does. The registrar leaves
// the slot NULL for undeclared operations, so reaching this means the
// descriptor and the declaration disagree.
func unreachable(op string) {
	panic("nbdkit: " + op + " called but not declared")
}

// UnimplementedPlugin provides every optional Plugin method. Name and Open
// must still be implemented.
type UnimplementedPlugin struct{}

func (UnimplementedPlugin) LongName() string       { return "" }
func (UnimplementedPlugin) Version() string        { return "" }
func (UnimplementedPlugin) Description() string    { return "" }
func (UnimplementedPlugin) ConfigHelp() string     { return "" }
func (UnimplementedPlugin) MagicConfigKey() string { return "" }

func (UnimplementedPlugin) Load()       { unreachable("load") }
func (UnimplementedPlugin) Unload()     { unreachable("unload") }
func (UnimplementedPlugin) DumpPlugin() { unreachable("dump_plugin") }

func (UnimplementedPlugin) Config(string, string) error {
	unreachable("config")
	return nil
}

func (UnimplementedPlugin) ConfigComplete() error {
	unreachable("config_complete")
	return nil
}

func (UnimplementedPlugin) GetReady() error {
	unreachable("get_ready")
	return nil
}

func (UnimplementedPlugin) PreConnect(bool) error {
	unreachable("preconnect")
	return nil
}

func (UnimplementedPlugin) ThreadModel() (ThreadModel, error) {
	unreachable("thread_model")
	return 0, nil
}

// UnimplementedServer provides every optional Server method. GetSize and
// ReadAt must still be implemented.
type UnimplementedServer struct{}

func (UnimplementedServer) WriteAt([]byte, uint64, Flags) error {
	unreachable("pwrite")
	return nil
}

func (UnimplementedServer) Flush() error {
	unreachable("flush")
	return nil
}

func (UnimplementedServer) Trim(uint32, uint64, Flags) error {
	unreachable("trim")
	return nil
}

func (UnimplementedServer) Zero(uint32, uint64, Flags) error {
	unreachable("zero")
	return nil
}

func (UnimplementedServer) Cache(uint32, uint64) error {
	unreachable("cache")
	return nil
}

func (UnimplementedServer) Extents(uint32, uint64, Flags, *ExtentHandle) error {
	unreachable("extents")
	return nil
}

func (UnimplementedServer) CanWrite() (bool, error) {
	unreachable("can_write")
	return false, nil
}

func (UnimplementedServer) CanFlush() (bool, error) {
	unreachable("can_flush")
	return false, nil
}

func (UnimplementedServer) CanTrim() (bool, error) {
	unreachable("can_trim")
	return false, nil
}

func (UnimplementedServer) CanZero() (bool, error) {
	unreachable("can_zero")
	return false, nil
}

func (UnimplementedServer) CanFua() (FuaFlags, error) {
	unreachable("can_fua")
	return FuaNone, nil
}

func (UnimplementedServer) CanCache() (CacheFlags, error) {
	unreachable("can_cache")
	return CacheNone, nil
}

func (UnimplementedServer) CanMultiConn() (bool, error) {
	unreachable("can_multi_conn")
	return false, nil
}

func (UnimplementedServer) CanExtents() (bool, error) {
	unreachable("can_extents")
	return false, nil
}

func (UnimplementedServer) CanFastZero() (bool, error) {
	unreachable("can_fast_zero")
	return false, nil
}

func (UnimplementedServer) IsRotational() (bool, error) {
	unreachable("is_rotational")
	return false, nil
}
