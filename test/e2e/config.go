//go:build e2e

package e2e

import (
	"fmt"
	"os"
	"path/filepath"
)

// StoreType is the block store behind the export under test.
type StoreType string

const (
	StoreMemory StoreType = "memory"
	StoreBadger StoreType = "badger"
	StoreBolt   StoreType = "bolt"
	StoreS3     StoreType = "s3"
)

// TestConfig holds the configuration for a test run.
type TestConfig struct {
	Name      string
	Store     StoreType
	Size      string
	BlockSize string

	// s3Bucket is set by the localstack setup.
	s3Bucket string
}

// String returns a string representation of the configuration.
func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.Store, tc.Size)
}

// Params returns the plugin parameters for this configuration.
func (tc *TestConfig) Params(ctx *TestContext) []string {
	params := []string{
		"size=" + tc.Size,
		"block_size=" + tc.BlockSize,
		"store=" + string(tc.Store),
		"logging.level=ERROR",
	}

	switch tc.Store {
	case StoreBadger:
		params = append(params, "store.badger.path="+ctx.CreateTempDir("dittobd-badger-*"))
	case StoreBolt:
		params = append(params, "store.bolt.path="+filepath.Join(ctx.CreateTempDir("dittobd-bolt-*"), "disk.db"))
	case StoreS3:
		params = append(params,
			"store.s3.bucket="+tc.s3Bucket,
			"store.s3.region=us-east-1",
			"store.s3.endpoint="+ctx.Localstack.Endpoint,
			"store.s3.access_key_id=test",
			"store.s3.secret_access_key=test",
			"store.s3.force_path_style=true",
		)
	}
	return params
}

// AllConfigurations returns every store configuration to test. S3 is only
// included when LOCALSTACK_ENDPOINT is set.
func AllConfigurations() []*TestConfig {
	configs := []*TestConfig{
		{Name: "Memory", Store: StoreMemory, Size: "64MiB", BlockSize: "64KiB"},
		{Name: "Badger", Store: StoreBadger, Size: "64MiB", BlockSize: "64KiB"},
		{Name: "Bolt", Store: StoreBolt, Size: "64MiB", BlockSize: "64KiB"},
	}
	if os.Getenv("LOCALSTACK_ENDPOINT") != "" {
		configs = append(configs, &TestConfig{Name: "S3", Store: StoreS3, Size: "64MiB", BlockSize: "1MiB"})
	}
	return configs
}
