package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittobd/pkg/store/block"
	"golang.org/x/sync/errgroup"
)

// WriteAt implements block.Store.
func (s *Store) WriteAt(ctx context.Context, p []byte, offset uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return s.apply(ctx, block.Spans(offset, uint64(len(p)), s.blockSize), func(sp block.Span, page []byte) {
		copy(page[sp.Start:], p[sp.Pos:sp.Pos+sp.Len])
	})
}

// Trim implements block.Trimmer.
func (s *Store) Trim(ctx context.Context, offset, length uint64) error {
	return s.discard(ctx, offset, length)
}

// Zero implements block.Zeroer.
func (s *Store) Zero(ctx context.Context, offset, length uint64) error {
	return s.discard(ctx, offset, length)
}

// FastZero implements block.Zeroer. Each zeroed block still costs a
// request, so zeroing is not fast.
func (s *Store) FastZero() bool {
	return false
}

func (s *Store) discard(ctx context.Context, offset, length uint64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	// Holes are already zero, so only blocks that exist are touched.
	extents, err := s.extents(ctx, offset, length)
	if err != nil {
		return err
	}
	for _, e := range extents {
		if e.Hole {
			continue
		}
		err := s.apply(ctx, block.Spans(e.Offset, e.Length, s.blockSize), func(sp block.Span, page []byte) {
			clear(page[sp.Start : sp.Start+sp.Len])
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// apply updates every span with fn in parallel. Partial spans are loaded
// first under the block lock. All-zero results delete the object.
func (s *Store) apply(ctx context.Context, spans []block.Span, fn func(sp block.Span, page []byte)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, sp := range spans {
		g.Go(func() error {
			mu := s.lockBlock(sp.Index)
			mu.Lock()
			defer mu.Unlock()

			page := make([]byte, s.blockSize)
			if !sp.Full(s.blockSize) {
				old, err := s.getBlock(gctx, sp.Index)
				if err != nil {
					return err
				}
				copy(page, old)
			}

			fn(sp, page)

			if block.IsZero(page) {
				return s.deleteBlock(gctx, sp.Index)
			}
			return s.putBlock(gctx, sp.Index, page)
		})
	}
	return g.Wait()
}

func (s *Store) putBlock(ctx context.Context, index uint64, page []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(index)),
		Body:          bytes.NewReader(page),
		ContentLength: aws.Int64(int64(len(page))),
	})
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		s.cacheDel(index)
		return fmt.Errorf("put block %d: %w", index, err)
	}
	s.metrics.RecordBytes("write", int64(len(page)))
	s.cachePut(index, page)
	return nil
}

func (s *Store) deleteBlock(ctx context.Context, index uint64) error {
	s.cacheDel(index)

	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(index)),
	})
	if isNotFound(err) {
		err = nil
	}
	s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete block %d: %w", index, err)
	}
	return nil
}
