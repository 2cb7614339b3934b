package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxDeleteBatch is the most keys S3 accepts in one DeleteObjects request.
const maxDeleteBatch = 1000

// BlockSize implements block.Collectable.
func (s *Store) BlockSize() int {
	return s.blockSize
}

// ListBlocks implements block.Collectable by listing the block objects
// after first.
func (s *Store) ListBlocks(ctx context.Context, first uint64) ([]uint64, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	}
	if first > 0 {
		in.StartAfter = aws.String(s.objectKey(first - 1))
	}

	var indexes []uint64
	paginator := s3.NewListObjectsV2Paginator(s.client, in)
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("list blocks: %w", err)
		}
		for _, obj := range page.Contents {
			if index, ok := s.parseKey(aws.ToString(obj.Key)); ok {
				indexes = append(indexes, index)
			}
		}
	}
	return indexes, nil
}

// DeleteBlocks implements block.Collectable with DeleteObjects requests of
// up to maxDeleteBatch keys.
func (s *Store) DeleteBlocks(ctx context.Context, indexes []uint64) (map[uint64]error, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	failures := make(map[uint64]error)

	for i := 0; i < len(indexes); i += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			for _, idx := range indexes[i:] {
				failures[idx] = err
			}
			return failures, err
		}

		batch := indexes[i:min(i+maxDeleteBatch, len(indexes))]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, idx := range batch {
			s.cacheDel(idx)
			objects[j] = types.ObjectIdentifier{Key: aws.String(s.objectKey(idx))}
		}

		start := time.Now()
		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		s.metrics.ObserveOperation("DeleteObjects", time.Since(start), err)
		if err != nil {
			for _, idx := range batch {
				failures[idx] = err
			}
			continue
		}

		// Quiet mode only reports the keys that failed.
		for _, derr := range result.Errors {
			idx, ok := s.parseKey(aws.ToString(derr.Key))
			if !ok {
				continue
			}
			failures[idx] = fmt.Errorf("%s: %s", aws.ToString(derr.Code), aws.ToString(derr.Message))
		}
	}
	return failures, nil
}
