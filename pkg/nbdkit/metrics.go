package nbdkit

import "time"

// Metrics receives one observation per adapted call. Implementations must be
// safe for concurrent use.
//
// pkg/metrics provides a Prometheus implementation; nil means no metrics.
type Metrics interface {
	// ObserveCall records the outcome of one slot invocation. errno is 0 on
	// success.
	ObserveCall(op string, duration time.Duration, errno int)

	// RecordBytes records payload bytes moved by pread, pwrite, zero or trim.
	RecordBytes(op string, n uint64)

	// SetOpenConnections reports the number of live handles.
	SetOpenConnections(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCall(string, time.Duration, int) {}
func (noopMetrics) RecordBytes(string, uint64)             {}
func (noopMetrics) SetOpenConnections(int)                 {}
