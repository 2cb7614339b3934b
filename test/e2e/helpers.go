//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"testing"
)

// runOnAllConfigs runs testFunc against every store configuration.
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	for _, config := range AllConfigurations() {
		t.Run(config.Name, func(t *testing.T) {
			tc := NewTestContext(t, config)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// writeImage writes a sparse image of the given size with data placed at
// the given offsets, and returns its path and full content.
func writeImage(t *testing.T, tc *TestContext, size int64, chunks map[int64][]byte) (string, []byte) {
	t.Helper()

	content := make([]byte, size)
	for off, data := range chunks {
		copy(content[off:], data)
	}

	path := filepath.Join(tc.CreateTempDir("dittobd-image-*"), "image.img")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path, content
}
