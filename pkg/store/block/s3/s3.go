// Package s3 implements a block store on Amazon S3 or any S3-compatible
// object storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/pkg/store/block"
)

// Client is the subset of the S3 API used by the store. *s3.Client
// satisfies it.
type Client interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// lockStripes is the number of mutexes serializing read-modify-write
// cycles on the same block.
const lockStripes = 64

// Store keeps each allocated block in its own object:
//
//	<key_prefix><block index as 16 hex digits>
//
// A missing object is a hole and reads as zeros. Partial-block writes
// download the object, patch it and upload it again. Two writers in the same
// process never interleave on one block, but nothing coordinates separate
// processes sharing a bucket.
//
// An optional in-memory block cache (ristretto) serves repeated reads and is
// filled by Prefetch.
type Store struct {
	client      Client
	bucket      string
	keyPrefix   string
	blockSize   int
	concurrency int
	metrics     Metrics
	cache       *ristretto.Cache[uint64, []byte]

	locks [lockStripes]sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// Config contains the configuration of an S3 block store.
type Config struct {
	// Client is the configured S3 client.
	Client Client

	// Bucket must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "exports/disk0/".
	KeyPrefix string

	// BlockSize is the size of one object. Default: block.DefaultBlockSize.
	BlockSize int

	// Concurrency bounds the parallel requests of a single operation.
	// Default: 8.
	Concurrency int

	// CacheSize is the byte budget of the block cache. 0 disables caching.
	CacheSize int64

	// Metrics is optional.
	Metrics Metrics
}

// New creates an S3 block store and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = block.DefaultBlockSize
	}
	if err := block.ValidateBlockSize(cfg.BlockSize); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	s := &Store{
		client:      cfg.Client,
		bucket:      cfg.Bucket,
		keyPrefix:   cfg.KeyPrefix,
		blockSize:   cfg.BlockSize,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
	}

	start := time.Now()
	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)})
	s.metrics.ObserveOperation("HeadBucket", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	if cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
			// Ten counters per cached block is what ristretto recommends.
			NumCounters: max(10*cfg.CacheSize/int64(cfg.BlockSize), 100),
			MaxCost:     cfg.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create block cache: %w", err)
		}
		s.cache = cache
	}

	logger.Debug("s3 block store opened: bucket=%s prefix=%q block_size=%d cache=%d",
		cfg.Bucket, cfg.KeyPrefix, cfg.BlockSize, cfg.CacheSize)
	return s, nil
}

// objectKey returns the key of a block. Fixed-width hex keeps listing order
// equal to block order.
func (s *Store) objectKey(index uint64) string {
	return fmt.Sprintf("%s%016x", s.keyPrefix, index)
}

// parseKey is the inverse of objectKey.
func (s *Store) parseKey(key string) (uint64, bool) {
	if len(key) != len(s.keyPrefix)+16 || key[:len(s.keyPrefix)] != s.keyPrefix {
		return 0, false
	}
	var index uint64
	if _, err := fmt.Sscanf(key[len(s.keyPrefix):], "%016x", &index); err != nil {
		return 0, false
	}
	return index, true
}

func (s *Store) lockBlock(index uint64) *sync.Mutex {
	return &s.locks[index%lockStripes]
}

// acquire takes the shared lock, failing once the store is closed.
func (s *Store) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return block.ErrStoreClosed
	}
	return nil
}

func (s *Store) release() { s.mu.RUnlock() }

// isNotFound reports whether err is S3's answer for a missing object.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// Flush implements block.Store. Every completed PutObject is already
// durable.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	s.release()
	return nil
}

// Close implements block.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	s.closed = true
	if s.cache != nil {
		s.cache.Close()
	}
	return nil
}
