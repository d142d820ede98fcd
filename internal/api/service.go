// Package api exposes the queue operations consumed by the CLI and any
// future UI layer: enqueue, listing, cancel, retry, upload triggering,
// encoding restart, and bulk clearing. Every operation resolves to a
// uniform success/message envelope over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"permavid/internal/logging"
	"permavid/internal/queue"
	"permavid/internal/services"
	"permavid/internal/services/filemoon"
)

// Scheduler nudges the queue loop after admissions and retries.
type Scheduler interface {
	Kick()
}

// ProcessCanceller terminates a registered download process. Termination is
// advisory; the stored status stays authoritative.
type ProcessCanceller interface {
	Cancel(itemID string) bool
}

// UploadRunner pushes one completed item through the upload stage.
type UploadRunner interface {
	Run(ctx context.Context, itemID string) error
}

// Service implements the queue operations over the store and the running
// pipeline components.
type Service struct {
	store     *queue.Store
	scheduler Scheduler
	processes ProcessCanceller
	uploader  UploadRunner
	filemoon  filemoon.Service
	logger    *slog.Logger
}

// NewService constructs the API service. The filemoon service may be nil
// when no API key is configured; restart-encoding then fails with a
// configuration error.
func NewService(store *queue.Store, scheduler Scheduler, processes ProcessCanceller, uploader UploadRunner, fm filemoon.Service, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		scheduler: scheduler,
		processes: processes,
		uploader:  uploader,
		filemoon:  fm,
		logger:    logging.WithComponent(logger, "api"),
	}
}

// Enqueue admits a URL into the queue. Re-submitting a known URL never
// creates a second row; the returned message reflects the existing row's
// status instead.
func (s *Service) Enqueue(ctx context.Context, url string) (EnqueueResult, string, error) {
	if url == "" {
		return EnqueueResult{}, "", services.Wrap(services.ErrValidation, "api", "enqueue", "url must not be empty", nil)
	}

	item, created, err := s.store.Enqueue(ctx, url)
	if err != nil {
		return EnqueueResult{}, "", err
	}

	result := EnqueueResult{Item: FromQueueItem(item), Created: created}
	if created {
		s.scheduler.Kick()
		s.logger.Info("item enqueued",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldURL, url))
		return result, "Added to queue", nil
	}
	return result, conflictMessage(item.Status), nil
}

// ListActive returns every item that is not yet archived, newest first.
func (s *Service) ListActive(ctx context.Context) ([]QueueItem, error) {
	items, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return FromQueueItems(items), nil
}

// ListEncoded returns the archive gallery: terminal encoded items, newest
// first.
func (s *Service) ListEncoded(ctx context.Context) ([]QueueItem, error) {
	items, err := s.store.ListEncoded(ctx)
	if err != nil {
		return nil, err
	}
	return FromQueueItems(items), nil
}

// Get fetches one item by identifier.
func (s *Service) Get(ctx context.Context, id string) (QueueItem, error) {
	item, err := s.requireItem(ctx, id, "get")
	if err != nil {
		return QueueItem{}, err
	}
	return FromQueueItem(item), nil
}

// Cancel aborts a queued or downloading item. A queued item is removed
// outright since no artifact exists yet; a downloading item has its process
// terminated best effort and is marked cancelled regardless.
func (s *Service) Cancel(ctx context.Context, id string) (string, error) {
	item, err := s.requireItem(ctx, id, "cancel")
	if err != nil {
		return "", err
	}

	switch item.Status {
	case queue.StatusQueued:
		if _, err := s.store.Remove(ctx, id); err != nil {
			return "", err
		}
		s.logger.Info("queued item removed", logging.String(logging.FieldItemID, id))
		return "Removed from queue", nil
	case queue.StatusDownloading:
		terminated := s.processes.Cancel(id)
		if err := s.store.SetStatus(ctx, id, queue.StatusCancelled, "Cancelled by user"); err != nil {
			return "", err
		}
		s.logger.Info("download cancelled",
			logging.String(logging.FieldItemID, id),
			slog.Bool("process_terminated", terminated))
		return "Download cancelled", nil
	default:
		return "", services.Wrap(services.ErrValidation, "api", "cancel",
			fmt.Sprintf("item is %s and cannot be cancelled", item.Status), nil)
	}
}

// Retry re-queues a failed item. Items that already hold a remote reference
// are rejected: the upload must not be silently re-issued.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	item, err := s.requireItem(ctx, id, "retry")
	if err != nil {
		return "", err
	}
	if item.Status != queue.StatusFailed {
		return "", services.Wrap(services.ErrValidation, "api", "retry",
			fmt.Sprintf("item is %s, only failed items can be retried", item.Status), nil)
	}
	if item.FilemoonCode != "" || item.FilesVCCode != "" {
		return "", services.Wrap(services.ErrValidation, "api", "retry",
			"item already has a remote reference and cannot be re-queued", nil)
	}

	if err := s.store.SetStatus(ctx, id, queue.StatusQueued, ""); err != nil {
		return "", err
	}
	s.scheduler.Kick()
	s.logger.Info("item re-queued", logging.String(logging.FieldItemID, id))
	return "Re-queued for download", nil
}

// TriggerUpload runs the upload stage for one completed item. The uploader
// writes the resulting status itself; errors here are precondition failures.
func (s *Service) TriggerUpload(ctx context.Context, id string) (string, error) {
	if err := s.uploader.Run(ctx, id); err != nil {
		return "", err
	}
	return "Upload finished", nil
}

// RestartEncoding asks the host to re-run the encode for an item's stored
// filecode. The item returns to encoding on success and fails with the API
// message otherwise.
func (s *Service) RestartEncoding(ctx context.Context, id string) (string, error) {
	item, err := s.requireItem(ctx, id, "restart_encoding")
	if err != nil {
		return "", err
	}
	if item.FilemoonCode == "" {
		return "", services.Wrap(services.ErrValidation, "api", "restart_encoding",
			"item has no Filemoon reference", nil)
	}
	if s.filemoon == nil {
		return "", services.Wrap(services.ErrConfiguration, "api", "restart_encoding",
			"Filemoon API key not configured", nil)
	}

	if err := s.filemoon.RestartEncoding(ctx, item.FilemoonCode); err != nil {
		if setErr := s.store.SetStatus(ctx, id, queue.StatusFailed, "Restart encoding failed: "+err.Error()); setErr != nil {
			return "", setErr
		}
		return "", err
	}
	if err := s.store.UpdateEncodingState(ctx, id, queue.StatusEncoding, nil, "Restarted encoding"); err != nil {
		return "", err
	}
	s.logger.Info("encoding restarted",
		logging.String(logging.FieldItemID, id),
		logging.String(logging.FieldFileCode, item.FilemoonCode))
	return "Encoding restarted", nil
}

// ClearByStatus deletes every row in one terminal status. The word
// "finished" clears the completed and failed sets together.
func (s *Service) ClearByStatus(ctx context.Context, status string) (ClearResult, error) {
	var statuses []queue.Status
	switch status {
	case "completed":
		statuses = []queue.Status{queue.StatusCompleted}
	case "failed":
		statuses = []queue.Status{queue.StatusFailed}
	case "cancelled":
		statuses = []queue.Status{queue.StatusCancelled}
	case "finished":
		statuses = []queue.Status{queue.StatusCompleted, queue.StatusFailed}
	default:
		return ClearResult{}, services.Wrap(services.ErrValidation, "api", "clear",
			fmt.Sprintf("unknown clear target %q", status), nil)
	}

	removed, err := s.store.ClearByStatus(ctx, statuses...)
	if err != nil {
		return ClearResult{}, err
	}
	s.logger.Info("queue cleared",
		logging.String(logging.FieldStatus, status),
		slog.Int64("removed", removed))
	return ClearResult{Removed: removed}, nil
}

func (s *Service) requireItem(ctx context.Context, id, operation string) (*queue.Item, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", operation,
			fmt.Sprintf("item %s not found", id), nil)
	}
	return item, nil
}

func conflictMessage(status queue.Status) string {
	switch status {
	case queue.StatusEncoded:
		return "Already archived"
	case queue.StatusQueued:
		return "Already queued"
	case queue.StatusFailed:
		return "Previously failed; retry available"
	case queue.StatusCancelled:
		return "Previously cancelled"
	default:
		return fmt.Sprintf("Currently processing (%s)", status)
	}
}
