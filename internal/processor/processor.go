// Package processor schedules queued items through the download stage and
// hands completed downloads to the uploader.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"permavid/internal/config"
	"permavid/internal/download"
	"permavid/internal/logging"
	"permavid/internal/queue"
	"permavid/internal/settings"
	"permavid/internal/upload"
)

// Processor runs the queue loop. Downloads are strictly serialized: one
// external fetch process system-wide. Uploads detach so the next download can
// start while an upload is still streaming.
type Processor struct {
	store        *queue.Store
	orchestrator *download.Orchestrator
	uploader     *upload.Uploader
	settings     settings.View
	logger       *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration

	kick chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	uploadWG sync.WaitGroup
}

// New constructs a processor.
func New(cfg *config.Config, store *queue.Store, orchestrator *download.Orchestrator, uploader *upload.Uploader, view settings.View, logger *slog.Logger) *Processor {
	return &Processor{
		store:              store,
		orchestrator:       orchestrator,
		uploader:           uploader,
		settings:           view,
		logger:             logging.WithComponent(logger, "processor"),
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		kick:               make(chan struct{}, 1),
	}
}

// Kick nudges the loop to look for work immediately instead of waiting for
// the next poll tick. Safe to call from any goroutine; a pending kick
// coalesces with new ones.
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start begins background processing.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("processor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight work,
// including detached uploads, to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.uploadWG.Wait()
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := p.store.NextQueued(ctx)
		if err != nil {
			p.logger.Error("failed to fetch next queued item", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.errorRetryInterval):
			}
			continue
		}
		if item == nil {
			p.waitForWorkOrShutdown(ctx)
			continue
		}

		if err := p.processItem(ctx, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("item processing failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err))
		}
	}
}

func (p *Processor) waitForWorkOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-p.kick:
	case <-time.After(p.pollInterval):
	}
}

// processItem claims one queued item, runs the download, and, when policy
// says so, detaches an upload.
func (p *Processor) processItem(ctx context.Context, item *queue.Item) error {
	claimed, err := p.store.TransitionStatus(ctx, item.ID, queue.StatusDownloading, "Starting download...", queue.StatusQueued)
	if err != nil {
		return err
	}
	if !claimed {
		// Cancelled or deleted between the fetch and the claim.
		return nil
	}
	item.Status = queue.StatusDownloading

	if err := p.orchestrator.Run(ctx, item); err != nil {
		return err
	}

	current, err := p.store.GetByID(ctx, item.ID)
	if err != nil {
		return err
	}
	if current == nil || current.Status != queue.StatusCompleted {
		return nil
	}

	if p.settings.AutoUpload() && current.LocalPath != "" && p.settings.UploadTarget() != "none" {
		p.startUpload(ctx, current.ID)
	}
	return nil
}

// startUpload runs the uploader on its own goroutine so the queue loop can
// move on to the next download immediately.
func (p *Processor) startUpload(ctx context.Context, itemID string) {
	p.uploadWG.Add(1)
	go func() {
		defer p.uploadWG.Done()
		if err := p.uploader.Run(ctx, itemID); err != nil {
			p.logger.Error("detached upload failed",
				logging.String(logging.FieldItemID, itemID),
				logging.Error(err))
		}
	}()
}
