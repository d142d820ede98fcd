// Package download runs the fetch stage: title probe, yt-dlp execution with
// progress updates, artifact verification, and terminal status writes.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"permavid/internal/logging"
	"permavid/internal/queue"
	"permavid/internal/services"
	"permavid/internal/services/ytdlp"
	"permavid/internal/settings"
)

const progressWriteInterval = time.Second

// Orchestrator drives a single item through the download stage.
type Orchestrator struct {
	store      *queue.Store
	downloader ytdlp.Downloader
	settings   settings.View
	registry   *Registry
	defaultDir string
	logger     *slog.Logger
}

// NewOrchestrator constructs a download orchestrator.
func NewOrchestrator(store *queue.Store, downloader ytdlp.Downloader, view settings.View, registry *Registry, defaultDir string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		downloader: downloader,
		settings:   view,
		registry:   registry,
		defaultDir: defaultDir,
		logger:     logging.WithComponent(logger, "download"),
	}
}

// Registry exposes the cancel registry for API wiring.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Run downloads one item. The item must already be in the downloading status;
// Run writes the terminal status (completed, failed, or cancelled) before
// returning. The error return reports infrastructure failures only, not item
// failures.
func (o *Orchestrator) Run(ctx context.Context, item *queue.Item) error {
	dlCtx, cancel := context.WithCancel(ctx)
	release := o.registry.Track(item.ID, cancel)
	defer release()
	defer cancel()

	title := o.probeTitle(dlCtx, item)
	stem := ytdlp.SanitizeStem(title)
	if stem == "" {
		stem = "video-" + item.ID
	}

	destDir := o.settings.DownloadDirectory(o.defaultDir)
	o.logger.Info("download started",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldURL, item.URL),
		logging.String("dest_dir", destDir))

	// Progress writes are throttled so a chatty yt-dlp does not hammer the
	// store; the final 100% always lands.
	lastPercent := -1.0
	var lastWrite time.Time
	result, err := o.downloader.Download(dlCtx, item.URL, destDir, stem, func(update ytdlp.ProgressUpdate) {
		now := time.Now()
		if update.Percent == lastPercent {
			return
		}
		if update.Percent < 100 && now.Sub(lastWrite) < progressWriteInterval {
			return
		}
		lastPercent = update.Percent
		lastWrite = now
		message := fmt.Sprintf("Downloading... %.1f%%", update.Percent)
		if _, err := o.store.TransitionStatus(ctx, item.ID, queue.StatusDownloading, message, queue.StatusDownloading); err != nil {
			o.logger.Warn("progress write failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err))
		}
	})
	if err != nil {
		return o.finishFailure(ctx, item, err)
	}

	return o.finishSuccess(ctx, item, result)
}

// probeTitle asks yt-dlp for the video title. Probe failures are not fatal;
// the item keeps a URL-derived placeholder until the sidecar supplies one.
func (o *Orchestrator) probeTitle(ctx context.Context, item *queue.Item) string {
	title, err := o.downloader.ProbeTitle(ctx, item.URL)
	if err != nil {
		o.logger.Warn("title probe failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err))
		return "video-" + item.ID
	}
	return title
}

func (o *Orchestrator) finishFailure(ctx context.Context, item *queue.Item, err error) error {
	if errors.Is(err, services.ErrCancelled) || errors.Is(err, context.Canceled) {
		// The cancel path already wrote the cancelled status; the guard
		// below only fires if the process died before that write landed.
		applied, terr := o.store.TransitionStatus(ctx, item.ID, queue.StatusCancelled, "Download cancelled", queue.StatusDownloading)
		if terr != nil {
			return terr
		}
		if applied {
			o.logger.Info("download cancelled", logging.String(logging.FieldItemID, item.ID))
		}
		return nil
	}

	applied, terr := o.store.TransitionStatus(ctx, item.ID, queue.StatusFailed, err.Error(), queue.StatusDownloading)
	if terr != nil {
		return terr
	}
	if applied {
		o.logger.Error("download failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err))
	}
	return nil
}

func (o *Orchestrator) finishSuccess(ctx context.Context, item *queue.Item, result *ytdlp.Result) error {
	if result.VideoPath == "" && result.InfoPath == "" {
		return o.finishFailure(ctx, item,
			services.Wrap(services.ErrExternalTool, "download", "verify", "no output files produced", nil))
	}

	// Re-read before the terminal write: a cancel may have landed while the
	// final bytes were flushing, and a late completion must not undo it.
	current, err := o.store.GetByID(ctx, item.ID)
	if err != nil {
		return err
	}
	if current == nil || current.Status != queue.StatusDownloading {
		o.logger.Info("skipping completion write, item moved",
			logging.String(logging.FieldItemID, item.ID))
		return nil
	}

	current.Title = result.Title
	current.LocalPath = result.VideoPath
	current.InfoPath = result.InfoPath
	current.Status = queue.StatusCompleted
	switch {
	case result.VideoPath == "":
		// Sidecar only: partial success, nothing to upload later.
		current.Message = "Download complete (metadata only, no video file)"
	case result.InfoPath == "":
		current.Message = "Download complete (metadata sidecar missing)"
	default:
		current.Message = "Download complete"
	}
	if result.InfoPath != "" {
		if meta, ok := readSidecar(result.InfoPath); ok {
			if meta.Title != "" {
				current.Title = meta.Title
			}
			if meta.Thumbnail != "" {
				current.ThumbnailURL = meta.Thumbnail
			}
		}
	}

	// Conditional on the status still being downloading: the re-read above
	// narrows the race with a concurrent cancel, this write closes it.
	applied, err := o.store.UpdateIfStatus(ctx, current, queue.StatusDownloading)
	if err != nil {
		return err
	}
	if !applied {
		o.logger.Info("skipping completion write, item moved",
			logging.String(logging.FieldItemID, item.ID))
		return nil
	}
	o.logger.Info("download complete",
		logging.String(logging.FieldItemID, item.ID),
		logging.String("video_path", current.LocalPath))
	return nil
}

type sidecarMetadata struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

// readSidecar recovers display metadata from the yt-dlp info.json file.
func readSidecar(path string) (sidecarMetadata, bool) {
	var meta sidecarMetadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, false
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, false
	}
	return meta, true
}
