// Package reconcile keeps local item state converged with remote encoding
// telemetry via a periodic poll of the hosting API.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"permavid/internal/config"
	"permavid/internal/logging"
	"permavid/internal/queue"
	"permavid/internal/services/filemoon"
)

// Reconciler polls the in-flight encode list and converges item statuses.
type Reconciler struct {
	store    *queue.Store
	filemoon filemoon.Service
	logger   *slog.Logger

	interval            time.Duration
	transferringTimeout time.Duration
	encodingTimeout     time.Duration

	now func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a reconciler. The filemoon service may be nil when no API
// key is configured; in that case ticks are no-ops except for timeouts.
func New(cfg *config.Config, store *queue.Store, fm filemoon.Service, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:               store,
		filemoon:            fm,
		logger:              logging.WithComponent(logger, "reconcile"),
		interval:            time.Duration(cfg.Workflow.ReconcileInterval) * time.Second,
		transferringTimeout: time.Duration(cfg.Workflow.TransferringTimeout) * time.Second,
		encodingTimeout:     time.Duration(cfg.Workflow.EncodingTimeout) * time.Second,
		now:                 time.Now,
	}
}

// Start begins the periodic reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("reconciler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.run(runCtx)
	return nil
}

// Stop terminates the loop and waits for the current tick to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Warn("reconcile tick failed", logging.Error(err))
			}
		}
	}
}

// Tick runs one reconciliation pass. Items in transferring, uploaded, or
// encoding are loaded; the remote list is fetched once and every item is
// converged against it. Store writes happen only when status, progress, or
// message actually changed.
func (r *Reconciler) Tick(ctx context.Context) error {
	items, err := r.store.List(ctx, queue.StatusTransferring, queue.StatusUploaded, queue.StatusEncoding)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	pollable := false
	for _, item := range items {
		if item.FilemoonCode != "" {
			pollable = true
			break
		}
	}

	var remote map[string]filemoon.EncodeStatus
	if pollable && r.filemoon != nil {
		list, err := r.filemoon.EncodingList(ctx)
		if err != nil {
			// Telemetry is best effort; a failed poll never fails items.
			r.logger.Warn("encoding list fetch failed", logging.Error(err))
		} else {
			remote = make(map[string]filemoon.EncodeStatus, len(list))
			for _, entry := range list {
				remote[entry.FileCode] = entry
			}
		}
	}

	now := r.now()
	for _, item := range items {
		r.reconcileItem(ctx, item, remote, now)
	}
	return nil
}

func (r *Reconciler) reconcileItem(ctx context.Context, item *queue.Item, remote map[string]filemoon.EncodeStatus, now time.Time) {
	age := now.Sub(item.UpdatedAt)

	// A stuck encode fails on the long timeout whether or not the remote
	// list still mentions it.
	if item.Status == queue.StatusEncoding && age > r.encodingTimeout {
		r.apply(ctx, item, queue.StatusFailed, nil,
			fmt.Sprintf("Encoding timed out after %s without progress", r.encodingTimeout))
		return
	}

	if item.FilemoonCode == "" {
		// Nothing to reconcile: a Files.vc-only upload has no encode stage.
		return
	}

	if remote == nil {
		// No telemetry this tick (list fetch failed or no API key). The
		// transferring timeout still applies so a stalled upload does not
		// wait forever for a poll that never succeeds.
		if item.Status == queue.StatusTransferring || item.Status == queue.StatusUploaded {
			r.timeoutStalled(ctx, item, age)
		}
		return
	}

	entry, present := remote[item.FilemoonCode]
	if !present {
		r.reconcileAbsent(ctx, item, age)
		return
	}

	switch entry.State {
	case filemoon.EncodeStateEncoding:
		message := "Encoding..."
		if entry.Progress != nil {
			message = fmt.Sprintf("Encoding... %d%%", *entry.Progress)
		}
		r.apply(ctx, item, queue.StatusEncoding, entry.Progress, message)
	case filemoon.EncodeStateFinished:
		progress := 100
		r.apply(ctx, item, queue.StatusEncoded, &progress, "Encoding finished")
	case filemoon.EncodeStateErrored:
		message := "Encoding failed"
		if entry.Error != "" {
			message = "Encoding failed: " + entry.Error
		}
		r.apply(ctx, item, queue.StatusFailed, nil, message)
	default:
		// Unrecognized remote state: keep the local status, surface the raw
		// state so the operator can see what the API said.
		r.apply(ctx, item, item.Status, item.EncodingProgress, "Filemoon status: "+entry.RawState)
	}
}

// reconcileAbsent handles items whose file code is not in the remote list.
// An encode that disappears is presumed finished; an upload that never shows
// up times out on the transferring timeout.
func (r *Reconciler) reconcileAbsent(ctx context.Context, item *queue.Item, age time.Duration) {
	switch item.Status {
	case queue.StatusEncoding:
		progress := 100
		r.apply(ctx, item, queue.StatusEncoded, &progress, "Encoding finished")
	case queue.StatusTransferring, queue.StatusUploaded:
		r.timeoutStalled(ctx, item, age)
	}
}

// timeoutStalled fails a transferring or uploaded item that has gone too long
// without any remote sighting or local write.
func (r *Reconciler) timeoutStalled(ctx context.Context, item *queue.Item, age time.Duration) {
	if age > r.transferringTimeout {
		r.apply(ctx, item, queue.StatusFailed, nil,
			fmt.Sprintf("Timed out after %s waiting for remote processing", r.transferringTimeout))
	}
}

func (r *Reconciler) apply(ctx context.Context, item *queue.Item, status queue.Status, progress *int, message string) {
	if item.Status == status && equalProgress(item.EncodingProgress, progress) && item.Message == message {
		return
	}
	if err := r.store.UpdateEncodingState(ctx, item.ID, status, progress, message); err != nil {
		r.logger.Warn("encoding state write failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err))
		return
	}
	if status != item.Status {
		r.logger.Info("item status reconciled",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStatus, string(status)),
			logging.String(logging.FieldFileCode, item.FilemoonCode))
	}
}

func equalProgress(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
