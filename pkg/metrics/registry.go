// Package metrics provides Prometheus metrics collection for DittoBD.
//
// All metrics are optional: until InitRegistry is called every constructor
// returns nil and the consumer falls back to its no-op implementation.
//
// Usage:
//
//	// Initialize the global registry (typically in plugin_init)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	bridge := metrics.NewBridgeMetrics()
//	s3Metrics := metrics.NewS3Metrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry for all DittoBD metrics.
	// Written once under registryOnce.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// It must be called before creating any metrics instances. Subsequent calls
// are ignored. The registry also carries the Go runtime and process
// collectors.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
