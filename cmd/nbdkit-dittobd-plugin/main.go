// Command nbdkit-dittobd-plugin is the dittobd nbdkit plugin.
//
// Build it as a shared object and load it into nbdkit:
//
//	go build -buildmode=c-shared -o nbdkit-dittobd-plugin.so ./cmd/nbdkit-dittobd-plugin
//	nbdkit ./nbdkit-dittobd-plugin.so size=10G store=badger store.badger.path=/var/lib/dittobd
package main

import "C"

import (
	"unsafe"

	"github.com/marmos91/dittobd/pkg/blockdev"
	"github.com/marmos91/dittobd/pkg/metrics"
	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/marmos91/dittobd/pkg/nbdkit/cabi"
)

//export plugin_init
func plugin_init() unsafe.Pointer {
	// Bridge metrics are collected from the first call; metrics.listen only
	// decides whether they are served.
	metrics.InitRegistry()

	return cabi.PluginInit(blockdev.New(), nbdkit.Options{
		Capabilities: blockdev.Capabilities(),
		Metrics:      metrics.NewBridgeMetrics(),
	})
}

// main is required by -buildmode=c-shared and never runs.
func main() {}
