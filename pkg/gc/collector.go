// Package gc reclaims blocks stored past the end of an export.
//
// A store outlives the size it was served with: a badger directory or an S3
// prefix served once at 10GiB and later at 1GiB still holds the blocks of the
// last 9GiB. Those blocks can never be read again through the export, but
// they cost space (and, on S3, money) until removed.
//
// The collector is generic and works with any block.Collectable store.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/pkg/store/block"
)

// Collector removes the blocks of a store that lie past the export size.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	store  block.Collectable
	size   uint64
	config Config

	once   sync.Once
	cancel context.CancelFunc
	doneCh chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether Start launches a collection. Collection
	// deletes data, so it is off unless asked for.
	Enabled bool

	// BatchSize is how many blocks to delete per DeleteBlocks call
	// (default: 1000, the S3 DeleteObjects limit).
	BatchSize int

	// DryRun logs what would be deleted without deleting anything.
	DryRun bool
}

// DefaultBatchSize is used when Config.BatchSize is zero.
const DefaultBatchSize = 1000

// NewCollector creates a collector for an export of size bytes backed by
// store. The collector is not started.
func NewCollector(store block.Collectable, size uint64, config Config) (*Collector, error) {
	if store == nil {
		return nil, fmt.Errorf("gc: nil store")
	}
	if config.BatchSize < 0 {
		return nil, fmt.Errorf("gc: batch size must not be negative, got %d", config.BatchSize)
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}

	return &Collector{
		store:  store,
		size:   size,
		config: config,
		doneCh: make(chan struct{}),
	}, nil
}

// FirstBlock returns the index of the first block lying wholly past the
// export end. The block holding the last byte is kept even when it extends
// beyond the export.
func (c *Collector) FirstBlock() uint64 {
	bs := uint64(c.store.BlockSize())
	return (c.size + bs - 1) / bs
}

// Start launches one background collection. Serving does not wait for it.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	c.once.Do(func() {
		if !c.config.Enabled {
			logger.Debug("Garbage collection disabled")
			close(c.doneCh)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel

		logger.Info("Starting garbage collector: first_block=%d batch_size=%d dry_run=%v",
			c.FirstBlock(), c.config.BatchSize, c.config.DryRun)

		go func() {
			defer close(c.doneCh)
			stats, err := c.collect(ctx)
			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
				return
			}
			logger.Info("Garbage collection completed: %s", stats.Summary())
		}()
	})
}

// Stop interrupts a running collection and waits for it to finish, or for
// ctx to expire.
func (c *Collector) Stop(ctx context.Context) error {
	// Never started: nothing to wait for.
	c.once.Do(func() { close(c.doneCh) })

	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs a collection in the caller's goroutine, regardless of
// Config.Enabled.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

// collect performs a single garbage collection run:
//  1. List the blocks at or after FirstBlock
//  2. Delete them in batches of BatchSize
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		StartTime: time.Now(),
		BlockSize: c.store.BlockSize(),
	}

	first := c.FirstBlock()
	stale, err := c.store.ListBlocks(ctx, first)
	if err != nil {
		stats.EndTime = time.Now()
		return stats, fmt.Errorf("failed to list blocks: %w", err)
	}
	stats.StaleCount = uint64(len(stale))

	if len(stale) == 0 {
		logger.Debug("GC: No blocks past block %d", first)
		stats.EndTime = time.Now()
		return stats, nil
	}

	logger.Info("GC: Found %d blocks past the export end (%s)",
		stats.StaleCount, humanize.IBytes(stats.StaleCount*uint64(stats.BlockSize)))

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - Would delete blocks %d..%d", stale[0], stale[len(stale)-1])
		stats.EndTime = time.Now()
		return stats, nil
	}

	for i := 0; i < len(stale); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(stale))
		batch := stale[i:end]

		failures, err := c.store.DeleteBlocks(ctx, batch)
		if err != nil {
			logger.Warn("GC: Batch delete failed: %v", err)
			stats.FailedCount += uint64(len(batch))
			continue
		}

		stats.DeletedCount += uint64(len(batch) - len(failures))
		stats.FailedCount += uint64(len(failures))

		for idx, ferr := range failures {
			logger.Debug("GC: Failed to delete block %d: %v", idx, ferr)
		}
	}

	stats.EndTime = time.Now()
	return stats, nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime    time.Time
	EndTime      time.Time
	BlockSize    int
	StaleCount   uint64 // blocks found past the export end
	DeletedCount uint64
	FailedCount  uint64
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Reclaimed returns the number of bytes freed.
func (s *Stats) Reclaimed() uint64 {
	return s.DeletedCount * uint64(s.BlockSize)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("stale=%d deleted=%d failed=%d reclaimed=%s duration=%s",
		s.StaleCount, s.DeletedCount, s.FailedCount,
		humanize.IBytes(s.Reclaimed()), s.Duration())
}
