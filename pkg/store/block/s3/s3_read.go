package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittobd/pkg/store/block"
	"golang.org/x/sync/errgroup"
)

// readBlock loads a block under its lock. Cache fills and updates of the
// same block never interleave.
func (s *Store) readBlock(ctx context.Context, index uint64) ([]byte, error) {
	mu := s.lockBlock(index)
	mu.Lock()
	defer mu.Unlock()
	return s.getBlock(ctx, index)
}

// getBlock returns the contents of a block, or nil for a hole. The returned
// slice is shared with the cache and must not be modified. The caller holds
// the block lock.
func (s *Store) getBlock(ctx context.Context, index uint64) ([]byte, error) {
	if s.cache != nil {
		page, hit := s.cache.Get(index)
		s.metrics.RecordCacheResult(hit)
		if hit {
			return page, nil
		}
	}

	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(index)),
	})
	if isNotFound(err) {
		s.metrics.ObserveOperation("GetObject", time.Since(start), nil)
		return nil, nil
	}
	if err != nil {
		s.metrics.ObserveOperation("GetObject", time.Since(start), err)
		return nil, fmt.Errorf("get block %d: %w", index, err)
	}
	defer func() { _ = out.Body.Close() }()

	page := make([]byte, s.blockSize)
	n, err := io.ReadFull(out.Body, page)
	if err == io.ErrUnexpectedEOF {
		// Short objects are zero-padded.
		err = nil
	}
	s.metrics.ObserveOperation("GetObject", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", index, err)
	}
	s.metrics.RecordBytes("read", int64(n))

	s.cachePut(index, page)
	return page, nil
}

func (s *Store) cachePut(index uint64, page []byte) {
	if s.cache != nil {
		s.cache.Set(index, page, int64(len(page)))
	}
}

func (s *Store) cacheDel(index uint64) {
	if s.cache != nil {
		s.cache.Del(index)
	}
}

// ReadAt implements block.Store. Blocks are fetched in parallel.
func (s *Store) ReadAt(ctx context.Context, p []byte, offset uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, sp := range block.Spans(offset, uint64(len(p)), s.blockSize) {
		g.Go(func() error {
			page, err := s.readBlock(gctx, sp.Index)
			if err != nil {
				return err
			}
			dst := p[sp.Pos : sp.Pos+sp.Len]
			if page == nil {
				clear(dst)
			} else {
				copy(dst, page[sp.Start:sp.Start+sp.Len])
			}
			return nil
		})
	}
	return g.Wait()
}

// Prefetch implements block.Prefetcher by loading the blocks of the range
// into the cache. Without a cache it does nothing.
func (s *Store) Prefetch(ctx context.Context, offset, length uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.cache == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sp := range block.Spans(offset, length, s.blockSize) {
		g.Go(func() error {
			_, err := s.readBlock(gctx, sp.Index)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.cache.Wait()
	return nil
}
