package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittobd/pkg/store/block"
)

// Extents implements block.ExtentMapper by listing the block objects of the
// range. Listing reports which objects exist, not their content, so every
// existing object is reported as data.
func (s *Store) Extents(ctx context.Context, offset, length uint64) ([]block.Extent, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	return s.extents(ctx, offset, length)
}

func (s *Store) extents(ctx context.Context, offset, length uint64) ([]block.Extent, error) {
	bs := uint64(s.blockSize)
	end := offset + length
	first := offset / bs

	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	}
	if first > 0 {
		in.StartAfter = aws.String(s.objectKey(first - 1))
	}

	var extents []block.Extent
	pos := offset

	paginator := s3.NewListObjectsV2Paginator(s.client, in)
pages:
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("list blocks: %w", err)
		}

		for _, obj := range page.Contents {
			index, ok := s.parseKey(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			blockStart := index * bs
			if blockStart >= end {
				break pages
			}
			from := max(blockStart, offset)
			to := min(blockStart+bs, end)
			if from > pos {
				extents = block.AppendExtent(extents, block.Extent{Offset: pos, Length: from - pos, Hole: true, Zero: true})
			}
			extents = block.AppendExtent(extents, block.Extent{Offset: from, Length: to - from})
			pos = to
		}
	}
	if pos < end {
		extents = block.AppendExtent(extents, block.Extent{Offset: pos, Length: end - pos, Hole: true, Zero: true})
	}
	return extents, nil
}
