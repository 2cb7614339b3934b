package nbdkit

import (
	"net"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/mock"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Recording host
// ============================================================================

type extentCall struct {
	offset, length uint64
	typ            ExtentType
}

type recordingHost struct {
	mu       sync.Mutex
	errors   []string
	errnos   []unix.Errno
	debug    []string
	extents  []extentCall
	shutdown int

	// rejectExtentAt makes the n-th AddExtent (0-based) fail with ERANGE.
	rejectExtentAt int
	exportName     string
	peer           net.Addr
}

func newRecordingHost() *recordingHost {
	return &recordingHost{rejectExtentAt: -1}
}

// withHost installs a fresh recording host for the duration of the test.
func withHost(t *testing.T) *recordingHost {
	t.Helper()
	h := newRecordingHost()
	SetHost(h)
	t.Cleanup(func() { SetHost(nil) })
	return h
}

func (h *recordingHost) Error(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

func (h *recordingHost) SetError(errno unix.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errnos = append(h.errnos, errno)
}

func (h *recordingHost) Debug(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = append(h.debug, msg)
}

func (h *recordingHost) AddExtent(_ unsafe.Pointer, offset, length uint64, typ ExtentType) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rejectExtentAt == len(h.extents) {
		h.rejectExtentAt = -1
		return Errorf(unix.ERANGE, "extent %d out of range", offset)
	}
	h.extents = append(h.extents, extentCall{offset, length, typ})
	return nil
}

func (h *recordingHost) ExportName() (string, bool) {
	return h.exportName, h.exportName != ""
}

func (h *recordingHost) PeerName() (net.Addr, error) {
	if h.peer == nil {
		return nil, NewError(unix.ENOTCONN, "no peer")
	}
	return h.peer, nil
}

func (h *recordingHost) StdioSafe() bool { return true }

func (h *recordingHost) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown++
}

// ============================================================================
// Mock plugin and server
// ============================================================================

type mockPlugin struct {
	mock.Mock
}

func (p *mockPlugin) Name() string           { return "mock" }
func (p *mockPlugin) LongName() string       { return "Mock plugin" }
func (p *mockPlugin) Version() string        { return "1.0" }
func (p *mockPlugin) Description() string    { return "" }
func (p *mockPlugin) ConfigHelp() string     { return "foo=<value>" }
func (p *mockPlugin) MagicConfigKey() string { return "" }

func (p *mockPlugin) Load()       { p.Called() }
func (p *mockPlugin) Unload()     { p.Called() }
func (p *mockPlugin) DumpPlugin() { p.Called() }

func (p *mockPlugin) Config(key, value string) error {
	return p.Called(key, value).Error(0)
}

func (p *mockPlugin) ConfigComplete() error {
	return p.Called().Error(0)
}

func (p *mockPlugin) GetReady() error {
	return p.Called().Error(0)
}

func (p *mockPlugin) PreConnect(readonly bool) error {
	return p.Called(readonly).Error(0)
}

func (p *mockPlugin) ThreadModel() (ThreadModel, error) {
	args := p.Called()
	return args.Get(0).(ThreadModel), args.Error(1)
}

func (p *mockPlugin) Open(readonly bool) (Server, error) {
	args := p.Called(readonly)
	srv, _ := args.Get(0).(Server)
	return srv, args.Error(1)
}

type mockServer struct {
	mock.Mock
}

func (s *mockServer) GetSize() (int64, error) {
	args := s.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (s *mockServer) ReadAt(buf []byte, offset uint64) error {
	return s.Called(buf, offset).Error(0)
}

func (s *mockServer) WriteAt(buf []byte, offset uint64, flags Flags) error {
	return s.Called(buf, offset, flags).Error(0)
}

func (s *mockServer) Flush() error {
	return s.Called().Error(0)
}

func (s *mockServer) Trim(count uint32, offset uint64, flags Flags) error {
	return s.Called(count, offset, flags).Error(0)
}

func (s *mockServer) Zero(count uint32, offset uint64, flags Flags) error {
	return s.Called(count, offset, flags).Error(0)
}

func (s *mockServer) Cache(count uint32, offset uint64) error {
	return s.Called(count, offset).Error(0)
}

// Extents accepts either an error or a func(*ExtentHandle) error as its
// return value, so tests can drive the handle.
func (s *mockServer) Extents(count uint32, offset uint64, flags Flags, h *ExtentHandle) error {
	args := s.Called(count, offset, flags, h)
	if fn, ok := args.Get(0).(func(*ExtentHandle) error); ok {
		return fn(h)
	}
	return args.Error(0)
}

func (s *mockServer) boolCall(name string) (bool, error) {
	args := s.MethodCalled(name)
	return args.Bool(0), args.Error(1)
}

func (s *mockServer) CanWrite() (bool, error)     { return s.boolCall("CanWrite") }
func (s *mockServer) CanFlush() (bool, error)     { return s.boolCall("CanFlush") }
func (s *mockServer) CanTrim() (bool, error)      { return s.boolCall("CanTrim") }
func (s *mockServer) CanZero() (bool, error)      { return s.boolCall("CanZero") }
func (s *mockServer) CanMultiConn() (bool, error) { return s.boolCall("CanMultiConn") }
func (s *mockServer) CanExtents() (bool, error)   { return s.boolCall("CanExtents") }
func (s *mockServer) CanFastZero() (bool, error)  { return s.boolCall("CanFastZero") }
func (s *mockServer) IsRotational() (bool, error) { return s.boolCall("IsRotational") }

func (s *mockServer) CanFua() (FuaFlags, error) {
	args := s.Called()
	return args.Get(0).(FuaFlags), args.Error(1)
}

func (s *mockServer) CanCache() (CacheFlags, error) {
	args := s.Called()
	return args.Get(0).(CacheFlags), args.Error(1)
}

// closingServer records Close.
type closingServer struct {
	mockServer
	closed int
	err    error
}

func (s *closingServer) Close() error {
	s.closed++
	return s.err
}

// ============================================================================
// Recording metrics
// ============================================================================

type callRecord struct {
	op    string
	errno int
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []callRecord
	bytes map[string]uint64
	open  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{bytes: make(map[string]uint64)}
}

func (m *recordingMetrics) ObserveCall(op string, _ time.Duration, errno int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, callRecord{op, errno})
}

func (m *recordingMetrics) RecordBytes(op string, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[op] += n
}

func (m *recordingMetrics) SetOpenConnections(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = n
}

// ============================================================================
// Helpers
// ============================================================================

// register binds p for one test and releases the binding afterwards.
func register(t *testing.T, p Plugin, opts Options) *Descriptor {
	t.Helper()
	resetRegistration()
	t.Cleanup(resetRegistration)

	d, err := Register(p, opts)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return d
}

// cstr returns a pointer to a NUL-terminated copy of s.
func cstr(s string) unsafe.Pointer {
	b := append([]byte(s), 0)
	return unsafe.Pointer(&b[0])
}
