// Package blockdev implements dittobd, an nbdkit plugin serving a sparse
// virtual disk from a pluggable block store (memory, BadgerDB, bbolt or S3).
//
// Lifecycle, as driven by the host:
//
//	Load -> Config* -> ConfigComplete -> GetReady -> (PreConnect -> Open -> ... -> Close)* -> Unload
//
// The store is created in GetReady and shared by every connection.
package blockdev

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittobd/internal/logger"
	"github.com/marmos91/dittobd/internal/ratelimiter"
	"github.com/marmos91/dittobd/pkg/config"
	"github.com/marmos91/dittobd/pkg/gc"
	"github.com/marmos91/dittobd/pkg/nbdkit"
	"github.com/marmos91/dittobd/pkg/store/block"
	"golang.org/x/sys/unix"
)

// Version is the plugin version, overridden at link time with
// -ldflags "-X github.com/marmos91/dittobd/pkg/blockdev.Version=...".
var Version = "dev"

// Capabilities is the set of optional operations dittobd provides.
func Capabilities() nbdkit.CapabilitySet {
	return nbdkit.AllCapabilities()
}

// Plugin is the process-wide state of dittobd.
type Plugin struct {
	params  *config.Params
	cfg     *config.Config
	access  *accessList
	limiter *ratelimiter.RateLimiter

	// storeFactory creates the block store in GetReady. Tests replace it.
	storeFactory func(ctx context.Context, cfg *config.StoreConfig, blockSize int) (block.Store, error)

	// dumpOut receives the dump_plugin lines.
	dumpOut io.Writer

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	store  block.Store
	gc     *gc.Collector
	conns  int
}

// gcStopTimeout bounds how long Unload waits for a collection to stop.
const gcStopTimeout = 30 * time.Second

// New returns an unconfigured plugin.
func New() *Plugin {
	return &Plugin{
		params:       config.NewParams(),
		storeFactory: config.CreateStore,
		dumpOut:      os.Stdout,
	}
}

// ============================================================================
// Metadata
// ============================================================================

func (p *Plugin) Name() string     { return "dittobd" }
func (p *Plugin) LongName() string { return "DittoBD sparse block device" }
func (p *Plugin) Version() string  { return Version }

func (p *Plugin) Description() string {
	return "Serves a sparse virtual disk stored in memory, BadgerDB, bbolt or S3."
}

func (p *Plugin) ConfigHelp() string     { return config.Help }
func (p *Plugin) MagicConfigKey() string { return config.MagicKey }

// ============================================================================
// Lifecycle
// ============================================================================

// Load implements nbdkit.Plugin.
func (p *Plugin) Load() {
	logger.Debug("dittobd %s loaded", Version)
}

// DumpPlugin implements nbdkit.Plugin. The lines extend the output of
// nbdkit --dump-plugin.
func (p *Plugin) DumpPlugin() {
	_, _ = fmt.Fprintf(p.dumpOut, "dittobd_stores=memory,badger,bolt,s3\n")
	_, _ = fmt.Fprintf(p.dumpOut, "dittobd_default_block_size=%d\n", block.DefaultBlockSize)
	_, _ = fmt.Fprintf(p.dumpOut, "dittobd_capabilities=%s\n",
		strings.Trim(Capabilities().String(), "{}"))
}

// Config implements nbdkit.Plugin.
func (p *Plugin) Config(key, value string) error {
	if err := p.params.Set(key, value); err != nil {
		return nbdkit.NewError(unix.EINVAL, err.Error())
	}
	return nil
}

// ConfigComplete implements nbdkit.Plugin. It loads and validates the
// configuration and applies the logging settings.
func (p *Plugin) ConfigComplete() error {
	cfg, err := p.params.Load()
	if err != nil {
		return nbdkit.NewError(unix.EINVAL, err.Error())
	}

	access, err := newAccessList(cfg.AllowedClients, cfg.DeniedClients)
	if err != nil {
		return nbdkit.NewError(unix.EINVAL, err.Error())
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nbdkit.NewError(unix.EINVAL, err.Error())
	}

	if rendered, err := cfg.YAML(); err == nil {
		logger.Debug("effective configuration:\n%s", rendered)
	}

	p.cfg = cfg
	p.access = access
	p.limiter = ratelimiter.New(cfg.Limits.IOPS, uint64(cfg.Limits.Bandwidth))
	return nil
}

// GetReady implements nbdkit.Plugin. It opens the block store, starts the
// metrics endpoint and, when enabled, the garbage collector.
func (p *Plugin) GetReady() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg == nil {
		return nbdkit.NewError(unix.EINVAL, "configuration is incomplete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	store, err := p.storeFactory(ctx, &p.cfg.Store, int(p.cfg.BlockSize))
	if err != nil {
		cancel()
		return err
	}

	p.ctx = ctx
	p.cancel = cancel
	p.store = store

	config.StartMetrics(ctx, p.cfg, func(error) {
		nbdkit.Shutdown()
	})
	p.startGC()

	logger.Info("dittobd ready: size=%s store=%s block_size=%s readonly=%v",
		p.cfg.Size, p.cfg.Store.Type, p.cfg.BlockSize, p.cfg.ReadOnly)
	return nil
}

// Unload implements nbdkit.Plugin. It stops the metrics endpoint and
// closes the store.
func (p *Plugin) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gcStopTimeout)
		_ = p.gc.Stop(ctx)
		cancel()
		p.gc = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			logger.Warn("closing block store: %v", err)
		}
		p.store = nil
	}
	logger.Debug("dittobd unloaded")
}

// startGC launches a collection of the blocks past the export end. It must
// be called with p.mu held.
func (p *Plugin) startGC() {
	if !p.cfg.GC.Enabled {
		return
	}

	collectable, ok := p.store.(block.Collectable)
	switch {
	case !ok:
		logger.Warn("gc.enabled ignored: %s store cannot list its blocks", p.cfg.Store.Type)
		return
	case p.cfg.ReadOnly && !p.cfg.GC.DryRun:
		logger.Warn("gc.enabled ignored: export is read-only")
		return
	}

	collector, err := gc.NewCollector(collectable, uint64(p.cfg.Size), gc.Config{
		Enabled:   true,
		BatchSize: p.cfg.GC.BatchSize,
		DryRun:    p.cfg.GC.DryRun,
	})
	if err != nil {
		logger.Warn("gc.enabled ignored: %v", err)
		return
	}
	p.gc = collector
	p.gc.Start()
}

// ThreadModel implements nbdkit.Plugin. Every store is safe for concurrent
// use.
func (p *Plugin) ThreadModel() (nbdkit.ThreadModel, error) {
	return nbdkit.ThreadModelParallel, nil
}

// ============================================================================
// Connections
// ============================================================================

// PreConnect implements nbdkit.Plugin by enforcing allowed_clients and
// denied_clients.
func (p *Plugin) PreConnect(readonly bool) error {
	if p.access == nil || p.access.empty() {
		return nil
	}

	peer, err := nbdkit.PeerName()
	if err != nil {
		return nbdkit.Errorf(unix.EPERM, "cannot determine client address: %v", err)
	}
	if err := p.access.check(peer); err != nil {
		logger.Info("connection refused: %v", err)
		return nbdkit.NewError(unix.EPERM, err.Error())
	}
	return nil
}

// Open implements nbdkit.Plugin.
func (p *Plugin) Open(readonly bool) (nbdkit.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		return nil, nbdkit.NewError(unix.ESHUTDOWN, "block store is not open")
	}

	c := &Conn{
		id:       uuid.New(),
		plugin:   p,
		ctx:      p.ctx,
		store:    p.store,
		size:     uint64(p.cfg.Size),
		readonly: readonly || p.cfg.ReadOnly,
		limiter:  p.limiter,
	}
	p.conns++

	export, _ := nbdkit.ExportName()
	logger.Info("connection %s opened: export=%q readonly=%v", c.id, export, c.readonly)
	return c, nil
}

// release is called by Conn.Close.
func (p *Plugin) release(c *Conn) {
	p.mu.Lock()
	p.conns--
	p.mu.Unlock()
	logger.Info("connection %s closed", c.id)
}
