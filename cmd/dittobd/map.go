package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittobd/pkg/blockdev"
	"github.com/marmos91/dittobd/pkg/config"
	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/marmos91/dittobd/pkg/store/block"
)

// runMap prints the allocation map of the configured store in the format of
// nbdinfo --map: offset, length, type number and type name.
// With summary set, only the allocated and total byte counts are printed.
func runMap(ctx context.Context, out io.Writer, args []string, summary bool) error {
	cfg, err := loadParams(args)
	if err != nil {
		return err
	}

	store, err := config.CreateStore(ctx, &cfg.Store, int(cfg.BlockSize))
	if err != nil {
		return fmt.Errorf("failed to open block store: %w", err)
	}
	defer store.Close()

	size := uint64(cfg.Size)
	var extents []block.Extent
	if m, ok := store.(block.ExtentMapper); ok {
		if extents, err = m.Extents(ctx, 0, size); err != nil {
			return err
		}
	} else {
		extents = []block.Extent{{Offset: 0, Length: size}}
	}

	var allocated uint64
	for _, e := range extents {
		t := blockdev.ExtentTypeOf(e)
		if t&nbdkit.ExtentHole == 0 {
			allocated += e.Length
		}
		if !summary {
			fmt.Fprintf(out, "%12d %12d %4d  %s\n", e.Offset, e.Length, uint32(t), t)
		}
	}

	if summary {
		fmt.Fprintf(out, "allocated %s of %s (%.1f%%)\n",
			humanize.IBytes(allocated), humanize.IBytes(size), percent(allocated, size))
	}
	return nil
}

func percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}
