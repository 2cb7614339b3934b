//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

var (
	buildOnce  sync.Once
	pluginPath string
	buildErr   error
)

// buildPlugin compiles the plugin shared object once per test binary.
func buildPlugin(t *testing.T) string {
	t.Helper()

	buildOnce.Do(func() {
		_, file, _, _ := runtime.Caller(0)
		root := filepath.Join(filepath.Dir(file), "..", "..")

		dir, err := os.MkdirTemp("", "dittobd-plugin-*")
		if err != nil {
			buildErr = err
			return
		}
		pluginPath = filepath.Join(dir, "nbdkit-dittobd-plugin.so")

		cmd := exec.Command("go", "build", "-buildmode=c-shared", "-o", pluginPath, "./cmd/nbdkit-dittobd-plugin")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("go build: %v\n%s", err, out)
		}
	})

	if buildErr != nil {
		t.Fatalf("Failed to build plugin: %v", buildErr)
	}
	return pluginPath
}

// requireTools skips the test unless the nbdkit server and the libnbd
// tools are installed.
func requireTools(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"nbdkit", "nbdcopy", "nbdinfo"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not found in PATH", tool)
		}
	}
}

// TestContext provides a complete testing environment:
// an nbdkit server running the plugin on a Unix socket, and cleanup.
type TestContext struct {
	T          *testing.T
	Config     *TestConfig
	Localstack *LocalstackHelper
	Socket     string
	URI        string

	params   []string
	server   *exec.Cmd
	stderr   bytes.Buffer
	tempDirs []string
}

// NewTestContext starts nbdkit with the plugin configured by config.
func NewTestContext(t *testing.T, config *TestConfig) *TestContext {
	t.Helper()
	requireTools(t)

	tc := &TestContext{T: t, Config: config}

	if config.Store == StoreS3 {
		tc.Localstack = NewLocalstackHelper(t)
		config.s3Bucket = fmt.Sprintf("dittobd-e2e-%d", time.Now().UnixNano())
		if err := tc.Localstack.CreateBucket(t.Context(), config.s3Bucket); err != nil {
			t.Fatalf("Failed to create bucket: %v", err)
		}
	}

	tc.Socket = filepath.Join(tc.CreateTempDir("dittobd-sock-*"), "nbd.sock")
	tc.URI = "nbd+unix:///?socket=" + tc.Socket
	tc.params = config.Params(tc)

	tc.StartServer()
	return tc
}

// CreateTempDir creates a temporary directory removed by Cleanup.
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp dir: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// StartServer runs nbdkit in the foreground and waits for its socket.
// Extra arguments go before the plugin (e.g. "-r").
func (tc *TestContext) StartServer(extra ...string) {
	tc.T.Helper()

	args := append([]string{"--foreground", "--exit-with-parent", "--unix", tc.Socket}, extra...)
	args = append(args, buildPlugin(tc.T))
	args = append(args, tc.params...)

	_ = os.Remove(tc.Socket)
	tc.stderr.Reset()
	tc.server = exec.Command("nbdkit", args...)
	tc.server.Stderr = &tc.stderr
	if err := tc.server.Start(); err != nil {
		tc.T.Fatalf("Failed to start nbdkit: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(tc.Socket); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	tc.StopServer()
	tc.T.Fatalf("nbdkit did not create its socket:\n%s", tc.stderr.String())
}

// StopServer stops nbdkit and waits for it to exit.
func (tc *TestContext) StopServer() {
	if tc.server == nil || tc.server.Process == nil {
		return
	}
	_ = tc.server.Process.Signal(syscall.SIGTERM)
	_ = tc.server.Wait()
	tc.server = nil
}

// Cleanup stops the server and removes temporary state.
func (tc *TestContext) Cleanup() {
	tc.StopServer()
	if tc.Localstack != nil {
		tc.Localstack.Cleanup()
	}
	for _, dir := range tc.tempDirs {
		_ = os.RemoveAll(dir)
	}
}

// ============================================================================
// Client tools
// ============================================================================

// run executes a libnbd tool and returns its stdout.
func (tc *TestContext) run(name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s %s: %v\n%s", name, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// Size returns the export size reported by nbdinfo.
func (tc *TestContext) Size() int64 {
	tc.T.Helper()
	out, err := tc.run("nbdinfo", "--size", tc.URI)
	if err != nil {
		tc.T.Fatalf("%v", err)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		tc.T.Fatalf("Failed to parse size %q: %v", out, err)
	}
	return size
}

// Upload copies a local image onto the export.
func (tc *TestContext) Upload(image string) error {
	_, err := tc.run("nbdcopy", image, tc.URI)
	return err
}

// Download copies the whole export into a local file and returns its
// content.
func (tc *TestContext) Download() []byte {
	tc.T.Helper()
	path := filepath.Join(tc.CreateTempDir("dittobd-download-*"), "disk.img")
	if _, err := tc.run("nbdcopy", tc.URI, path); err != nil {
		tc.T.Fatalf("%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		tc.T.Fatalf("Failed to read download: %v", err)
	}
	return data
}

// MapEntry is one line of nbdinfo --map.
type MapEntry struct {
	Offset int64
	Length int64
	Type   int
}

// Map returns the allocation map of the export.
func (tc *TestContext) Map() []MapEntry {
	tc.T.Helper()
	out, err := tc.run("nbdinfo", "--map", tc.URI)
	if err != nil {
		tc.T.Fatalf("%v", err)
	}

	var entries []MapEntry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		var e MapEntry
		e.Offset, _ = strconv.ParseInt(fields[0], 10, 64)
		e.Length, _ = strconv.ParseInt(fields[1], 10, 64)
		e.Type, _ = strconv.Atoi(fields[2])
		entries = append(entries, e)
	}
	return entries
}
