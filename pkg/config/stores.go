package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/pkg/metrics"
	"github.com/marmos91/dittobd/pkg/store/block"
	blockbadger "github.com/marmos91/dittobd/pkg/store/block/badger"
	blockbolt "github.com/marmos91/dittobd/pkg/store/block/bolt"
	blockmemory "github.com/marmos91/dittobd/pkg/store/block/memory"
	blocks3 "github.com/marmos91/dittobd/pkg/store/block/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateStore creates a block store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific section and
// passes it to the store's constructor.
//
// Supported types:
//   - "memory": pkg/store/block/memory (contents lost on unload)
//   - "badger": pkg/store/block/badger (local persistent storage)
//   - "bolt": pkg/store/block/bolt (single-file persistent storage)
//   - "s3": pkg/store/block/s3 (Amazon S3 or compatible storage)
func CreateStore(ctx context.Context, cfg *StoreConfig, blockSize int) (block.Store, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryStore(cfg.Memory, blockSize)
	case "badger":
		return createBadgerStore(ctx, cfg.Badger, blockSize)
	case "bolt":
		return createBoltStore(ctx, cfg.Bolt, blockSize)
	case "s3":
		return createS3Store(ctx, cfg.S3, blockSize)
	default:
		return nil, fmt.Errorf("unknown block store type: %q", cfg.Type)
	}
}

// decodeOptions decodes a store section into out. Values given as nbdkit
// parameters are strings, so decoding is weakly typed.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// MemoryStoreOptions are the options of the memory store section.
type MemoryStoreOptions struct {
	// MaxSize caps the bytes of allocated pages. 0 means unlimited.
	MaxSize Size `mapstructure:"max_size"`
}

func createMemoryStore(options map[string]any, blockSize int) (block.Store, error) {
	var opts MemoryStoreOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode memory store options: %w", err)
	}

	store, err := blockmemory.New(blockmemory.Config{
		BlockSize: blockSize,
		MaxSize:   uint64(opts.MaxSize),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}

	logger.Info("Memory block store initialized: block_size=%d, max_size=%s", blockSize, opts.MaxSize)
	return store, nil
}

func createBadgerStore(ctx context.Context, options map[string]any, blockSize int) (block.Store, error) {
	var storeCfg blockbadger.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger store options: %w", err)
	}
	storeCfg.BlockSize = blockSize

	if storeCfg.Path == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger block store: path is required")
	}

	store, err := blockbadger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger store: %w", err)
	}

	logger.Info("BadgerDB block store initialized: path=%s, block_size=%d", storeCfg.Path, blockSize)
	return store, nil
}

func createBoltStore(ctx context.Context, options map[string]any, blockSize int) (block.Store, error) {
	var storeCfg blockbolt.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode bolt store options: %w", err)
	}
	storeCfg.BlockSize = blockSize

	store, err := blockbolt.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt store: %w", err)
	}

	logger.Info("Bolt block store initialized: path=%s, block_size=%d", storeCfg.Path, blockSize)
	return store, nil
}

// S3StoreOptions are the options of the S3 store section.
type S3StoreOptions struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
	Concurrency     int    `mapstructure:"concurrency"`
	CacheSize       Size   `mapstructure:"cache_size"`
}

func createS3Store(ctx context.Context, options map[string]any, blockSize int) (block.Store, error) {
	var storeCfg S3StoreOptions
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 store options: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 block store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 block store: region is required")
	}

	client, err := newS3Client(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	store, err := blocks3.New(ctx, blocks3.Config{
		Client:      client,
		Bucket:      storeCfg.Bucket,
		KeyPrefix:   storeCfg.KeyPrefix,
		BlockSize:   blockSize,
		Concurrency: storeCfg.Concurrency,
		CacheSize:   int64(storeCfg.CacheSize),
		Metrics:     metrics.NewS3Metrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 block store: %w", err)
	}

	logger.Info("S3 block store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}

// newS3Client builds an S3 client from the store options. Credentials fall
// back to the default AWS chain when no static keys are given.
func newS3Client(ctx context.Context, storeCfg S3StoreOptions) (*awss3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Retry transient errors (502, 503, timeouts, ...) harder than the AWS
	// default of 3 attempts.
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if storeCfg.Endpoint != "" {
			// MinIO, Localstack and friends
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
		if storeCfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}
