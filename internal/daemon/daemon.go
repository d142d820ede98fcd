package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"permavid/internal/api"
	"permavid/internal/config"
	"permavid/internal/download"
	"permavid/internal/logging"
	"permavid/internal/processor"
	"permavid/internal/queue"
	"permavid/internal/reconcile"
	"permavid/internal/services/filemoon"
	"permavid/internal/services/filesvc"
	"permavid/internal/services/ytdlp"
	"permavid/internal/settings"
	"permavid/internal/upload"
)

// Daemon owns the pipeline components and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store

	registry   *download.Registry
	processor  *processor.Processor
	reconciler *reconcile.Reconciler
	service    *api.Service
	apiServer  *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	QueueCounts  map[queue.Status]int
}

// New constructs a daemon and wires every pipeline component from validated
// configuration. Hosting clients are built only when their credential is
// present; an unconfigured target stays nil and surfaces as a configuration
// failure if selected.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	downloader, err := ytdlp.New(cfg.YtDlp.Binary, cfg.YtDlp.DownloadTimeout, cfg.YtDlp.TitleTimeout)
	if err != nil {
		return nil, fmt.Errorf("build fetch client: %w", err)
	}

	var fm filemoon.Service
	if cfg.Filemoon.APIKey != "" {
		client, err := filemoon.New(cfg.Filemoon.BaseURL, cfg.Filemoon.APIKey)
		if err != nil {
			return nil, fmt.Errorf("build filemoon client: %w", err)
		}
		fm = client
	}
	var vc filesvc.Service
	if cfg.FilesVC.APIKey != "" {
		client, err := filesvc.New(cfg.FilesVC.UploadURL, cfg.FilesVC.APIKey)
		if err != nil {
			return nil, fmt.Errorf("build files.vc client: %w", err)
		}
		vc = client
	}

	view := settings.NewView(settings.FromConfig(cfg))
	registry := download.NewRegistry()
	orchestrator := download.NewOrchestrator(store, downloader, view, registry, cfg.Paths.DownloadDir, logger)
	uploader := upload.New(store, fm, vc, view, logger)
	proc := processor.New(cfg, store, orchestrator, uploader, view, logger)
	reconciler := reconcile.New(cfg, store, fm, logger)
	service := api.NewService(store, proc, registry, uploader, fm, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "permavid.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.WithComponent(logger, "daemon"),
		store:      store,
		registry:   registry,
		processor:  proc,
		reconciler: reconciler,
		service:    service,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.apiServer = newAPIServer(cfg.Paths.APIBind, d, service, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the queue loop, the encoding
// reconciler, and the HTTP API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another permavid daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.processor.Start(runCtx); err != nil {
		d.abortStart()
		return fmt.Errorf("start processor: %w", err)
	}
	if err := d.reconciler.Start(runCtx); err != nil {
		d.processor.Stop()
		d.abortStart()
		return fmt.Errorf("start reconciler: %w", err)
	}
	if err := d.apiServer.start(runCtx); err != nil {
		d.reconciler.Stop()
		d.processor.Stop()
		d.abortStart()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	// Re-arm against any backlog that survived a restart.
	d.processor.Kick()
	d.logger.Info("permavid daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()))
	return nil
}

func (d *Daemon) abortStart() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop shuts down background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.apiServer.stop()
	d.reconciler.Stop()
	d.processor.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("permavid daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Service exposes the queue operations for in-process callers.
func (d *Daemon) Service() *api.Service {
	return d.service
}

// Addr returns the API server's listen address, or "" before Start.
func (d *Daemon) Addr() string {
	return d.apiServer.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	counts, err := d.store.CountByStatus(ctx)
	if err != nil {
		d.logger.Warn("queue counts unavailable", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		QueueCounts:  counts,
	}
}
