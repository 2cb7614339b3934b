package s3

import "time"

// Metrics provides observability for S3 block operations.
//
// Implementations live in pkg/metrics. When none is configured, metrics
// collection is skipped.
type Metrics interface {
	// ObserveOperation records one S3 API call with its duration and outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred by get/put operations.
	RecordBytes(operation string, bytes int64)

	// RecordCacheResult records a block cache lookup.
	RecordCacheResult(hit bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
func (noopMetrics) RecordCacheResult(bool)                        {}
