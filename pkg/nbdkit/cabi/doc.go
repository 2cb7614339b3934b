// Package cabi connects a registered nbdkit.Descriptor to the C plugin ABI.
//
// It defines struct nbdkit_plugin in ABI order, one C trampoline per slot
// and one exported Go function per trampoline. Handles cross the boundary as
// integers, so the host never stores a Go pointer. Importing the package
// installs a Host backed by the real nbdkit_* server functions.
//
// A plugin's main package exports plugin_init and calls PluginInit:
//
//	//export plugin_init
//	func plugin_init() unsafe.Pointer {
//		return cabi.PluginInit(&myPlugin{}, nbdkit.Options{...})
//	}
//
// and is built with -buildmode=c-shared. The package needs cgo; without it
// only this documentation is compiled.
package cabi
