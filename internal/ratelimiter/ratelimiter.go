// Package ratelimiter throttles block I/O with token buckets.
package ratelimiter

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// MinByteBurst is the smallest byte bucket, so that one request of the
// largest block size always fits.
const MinByteBurst = 4 << 20

// RateLimiter bounds the request rate and the data rate of a device.
//
// Requests wait for tokens instead of being rejected: the NBD client sees
// higher latency, never an error, unless the context ends first.
//
// A nil *RateLimiter is valid and never waits.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	ops   *rate.Limiter
	bytes *rate.Limiter
}

// New creates a RateLimiter allowing opsPerSecond requests and bytesPerSecond
// bytes per second. Zero disables the corresponding limit; New returns nil
// when both are zero.
//
// The request bucket holds one second of requests. The byte bucket holds one
// second of data, but at least MinByteBurst.
func New(opsPerSecond uint, bytesPerSecond uint64) *RateLimiter {
	if opsPerSecond == 0 && bytesPerSecond == 0 {
		return nil
	}

	r := &RateLimiter{}
	if opsPerSecond > 0 {
		r.ops = rate.NewLimiter(rate.Limit(opsPerSecond), int(min(opsPerSecond, math.MaxInt32)))
	}
	if bytesPerSecond > 0 {
		burst := max(bytesPerSecond, MinByteBurst)
		r.bytes = rate.NewLimiter(rate.Limit(bytesPerSecond), int(min(burst, math.MaxInt32)))
	}
	return r
}

// Wait blocks until one request moving n bytes may proceed, or ctx ends.
// Requests that move no data (flush, trim, zero) pass n = 0.
func (r *RateLimiter) Wait(ctx context.Context, n int) error {
	if r == nil {
		return nil
	}

	if r.ops != nil {
		if err := r.ops.Wait(ctx); err != nil {
			return err
		}
	}

	if r.bytes == nil {
		return nil
	}

	// WaitN fails outright for n above the burst, so large requests take
	// their tokens in bucket-sized pieces.
	burst := r.bytes.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := r.bytes.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
