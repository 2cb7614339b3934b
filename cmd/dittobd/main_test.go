package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittobd/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// run executes the dittobd command line with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.RunContext(context.Background(), append([]string{"dittobd"}, args...))
	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	out, err := run(t, "config", "2GiB", "store=memory", "logging.level=error")
	require.NoError(t, err)

	assert.Contains(t, out, "size: 2.0 GiB")
	assert.Contains(t, out, "type: memory")
	assert.Contains(t, out, "level: ERROR")
}

func TestConfigCommand_Invalid(t *testing.T) {
	_, err := run(t, "config", "colour=blue")
	assert.Error(t, err)

	_, err = run(t, "config", "store=memory")
	assert.Error(t, err, "size is required")
}

func TestMapCommand(t *testing.T) {
	out, err := run(t, "map", "size=1MiB", "logging.level=error")
	require.NoError(t, err)
	assert.Equal(t, "           0      1048576    3  hole,zero\n", out)

	out, err = run(t, "map", "--summary", "size=1MiB", "logging.level=error")
	require.NoError(t, err)
	assert.Equal(t, "allocated 0 B of 1.0 MiB (0.0%)\n", out)
}

func TestMapCommand_Badger(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "map", "size=1MiB", "store=badger", "store.badger.path="+dir, "logging.level=error")
	require.NoError(t, err)
	assert.Contains(t, out, "hole,zero")
}

func TestGCCommand(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Leave data in the first block and at 1 MiB and 2 MiB, as an earlier
	// 4 MiB export would have.
	store, err := config.CreateStore(ctx, &config.StoreConfig{
		Type:   "badger",
		Badger: map[string]any{"path": dir},
	}, 64<<10)
	require.NoError(t, err)
	for _, off := range []uint64{0, 1 << 20, 2 << 20} {
		require.NoError(t, store.WriteAt(ctx, []byte("data"), off))
	}
	require.NoError(t, store.Close())

	params := []string{"size=1MiB", "store=badger", "store.badger.path=" + dir, "logging.level=error"}

	out, err := run(t, append([]string{"gc", "--dry-run"}, params...)...)
	require.NoError(t, err)
	assert.Equal(t, "would delete 2 blocks past block 16\n", out)

	out, err = run(t, append([]string{"gc", "--batch", "1"}, params...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "stale=2 deleted=2 failed=0 reclaimed=128 KiB")

	out, err = run(t, "map", "--summary", "size=4MiB", "store=badger", "store.badger.path="+dir, "logging.level=error")
	require.NoError(t, err)
	assert.Equal(t, "allocated 64 KiB of 4.0 MiB (1.6%)\n", out)
}

func TestGCCommand_ReadOnly(t *testing.T) {
	_, err := run(t, "gc", "size=1MiB", "readonly=true", "logging.level=error")
	assert.ErrorContains(t, err, "read-only")

	out, err := run(t, "gc", "--dry-run", "size=1MiB", "readonly=true", "logging.level=error")
	require.NoError(t, err)
	assert.Equal(t, "would delete 0 blocks past block 16\n", out)
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "DittoBD Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"size", "block_size", "store", "logging", "metrics", "limits", "gc", "allowed_clients"} {
		assert.Contains(t, props, key)
	}
	assert.Contains(t, props["size"], "oneOf")
}

func TestSchemaCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.schema.json")
	out, err := run(t, "schema", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Contains(t, out, path)
}

func TestUnknownCommand(t *testing.T) {
	_, err := run(t, "format", "size=1MiB")
	assert.Error(t, err)
}
