// Package nbdkit lets a Go type act as an nbdkit plugin.
//
// nbdkit loads a plugin as a shared object and talks to it only through a
// fixed-layout table of C function pointers (struct nbdkit_plugin). This
// package owns everything between that table and the author's code:
//
//   - Plugin and Server describe the operations a plugin may implement. Plugin
//     holds the process-wide operations (config, open, lifecycle hooks), Server
//     the per-connection ones (read, write, flush, extents, ...).
//   - CapabilitySet declares which optional operations the plugin implements.
//     Only declared operations get a non-NULL slot in the table, so nbdkit never
//     calls an operation the plugin does not provide.
//   - Register binds the plugin to the process exactly once and builds the
//     Descriptor, the Go mirror of the C table.
//   - The adapters behind each Descriptor slot decode raw host arguments (opaque
//     handles, pointer/count pairs, flag words, C strings), call the plugin and
//     encode the result as nbdkit expects: 0 or a value on success, -1 with the
//     error message and errno reported to the host on failure.
//
// The package itself is pure Go; the host is reached through the Host
// interface. Package cabi provides the cgo half: the C struct, the trampolines
// and the Host implementation that calls into the nbdkit server.
//
// A minimal plugin:
//
//	type diskPlugin struct{ nbdkit.UnimplementedPlugin }
//
//	func (p *diskPlugin) Name() string { return "disk" }
//	func (p *diskPlugin) Open(readonly bool) (nbdkit.Server, error) {
//	    return &diskConn{}, nil
//	}
//
//	type diskConn struct{ nbdkit.UnimplementedServer }
//
//	func (c *diskConn) GetSize() (int64, error)                 { return 1 << 20, nil }
//	func (c *diskConn) ReadAt(buf []byte, offset uint64) error { clear(buf); return nil }
//
//	//export plugin_init
//	func plugin_init() unsafe.Pointer {
//	    return cabi.PluginInit(&diskPlugin{}, nbdkit.Options{})
//	}
package nbdkit
