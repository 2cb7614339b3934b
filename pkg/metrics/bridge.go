package metrics

import (
	"time"

	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"
)

// bridgeMetrics is the Prometheus implementation of nbdkit.Metrics.
type bridgeMetrics struct {
	callsTotal      *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	bytesTotal      *prometheus.CounterVec
	openConnections prometheus.Gauge
}

// NewBridgeMetrics creates a Prometheus-backed nbdkit.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes nbdkit.Register use its no-op implementation.
func NewBridgeMetrics() nbdkit.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newBridgeMetrics(GetRegistry())
}

func newBridgeMetrics(reg prometheus.Registerer) *bridgeMetrics {
	return &bridgeMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittobd_nbdkit_calls_total",
				Help: "Total number of plugin callbacks by slot and outcome",
			},
			// status is "ok" or the errno name reported to the host
			[]string{"op", "status"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittobd_nbdkit_call_duration_seconds",
				Help: "Duration of plugin callbacks in seconds",
				Buckets: []float64{
					0.0001, // 100us
					0.0005, // 500us
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"op"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittobd_nbdkit_bytes_total",
				Help: "Total payload bytes handled by pread, pwrite, trim and zero",
			},
			[]string{"op"},
		),
		openConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittobd_nbdkit_open_connections",
				Help: "Current number of open plugin connections",
			},
		),
	}
}

// ObserveCall implements nbdkit.Metrics.
func (m *bridgeMetrics) ObserveCall(op string, duration time.Duration, errno int) {
	status := "ok"
	if errno != 0 {
		status = unix.ErrnoName(unix.Errno(errno))
		if status == "" {
			status = "unknown"
		}
	}
	m.callsTotal.WithLabelValues(op, status).Inc()
	m.callDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordBytes implements nbdkit.Metrics.
func (m *bridgeMetrics) RecordBytes(op string, n uint64) {
	m.bytesTotal.WithLabelValues(op).Add(float64(n))
}

// SetOpenConnections implements nbdkit.Metrics.
func (m *bridgeMetrics) SetOpenConnections(n int) {
	m.openConnections.Set(float64(n))
}
