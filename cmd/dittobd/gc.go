package main

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittobd/pkg/config"
	"github.com/marmos91/dittobd/pkg/gc"
	"github.com/marmos91/dittobd/pkg/store/block"
)

// gcOptions are the gc command line flags. They override the gc.*
// parameters.
type gcOptions struct {
	dryRun bool
	batch  int
}

// runGC deletes the blocks of the configured store that lie past the
// configured size.
func runGC(ctx context.Context, out io.Writer, args []string, opts gcOptions) error {
	cfg, err := loadParams(args)
	if err != nil {
		return err
	}
	if cfg.ReadOnly && !opts.dryRun {
		return fmt.Errorf("export is read-only: use -dry-run")
	}

	store, err := config.CreateStore(ctx, &cfg.Store, int(cfg.BlockSize))
	if err != nil {
		return fmt.Errorf("failed to open block store: %w", err)
	}
	defer store.Close()

	collectable, ok := store.(block.Collectable)
	if !ok {
		return fmt.Errorf("%s store does not support garbage collection", cfg.Store.Type)
	}

	gcCfg := gc.Config{
		BatchSize: cfg.GC.BatchSize,
		DryRun:    cfg.GC.DryRun || opts.dryRun,
	}
	if opts.batch > 0 {
		gcCfg.BatchSize = opts.batch
	}

	collector, err := gc.NewCollector(collectable, uint64(cfg.Size), gcCfg)
	if err != nil {
		return err
	}
	stats, err := collector.RunNow(ctx)
	if err != nil {
		return err
	}

	if gcCfg.DryRun {
		fmt.Fprintf(out, "would delete %d blocks past block %d\n", stats.StaleCount, collector.FirstBlock())
		return nil
	}
	fmt.Fprintln(out, stats.Summary())
	if stats.FailedCount > 0 {
		return fmt.Errorf("%d blocks could not be deleted", stats.FailedCount)
	}
	return nil
}
