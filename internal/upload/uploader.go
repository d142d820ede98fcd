// Package upload pushes completed downloads to the configured hosting
// targets and records the remote references they return.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"permavid/internal/logging"
	"permavid/internal/queue"
	"permavid/internal/services"
	"permavid/internal/services/filemoon"
	"permavid/internal/services/filesvc"
	"permavid/internal/settings"
)

// Uploader drives a single item through the upload stage.
type Uploader struct {
	store    *queue.Store
	filemoon filemoon.Service
	filesvc  filesvc.Service
	settings settings.View
	logger   *slog.Logger
}

// New constructs an uploader. Either target service may be nil when its
// credential is not configured; selecting an unconfigured target is a
// user-actionable configuration failure, not a generic error.
func New(store *queue.Store, fm filemoon.Service, vc filesvc.Service, view settings.View, logger *slog.Logger) *Uploader {
	return &Uploader{
		store:    store,
		filemoon: fm,
		filesvc:  vc,
		settings: view,
		logger:   logging.WithComponent(logger, "upload"),
	}
}

// Run uploads one item. The item must be in the completed status with a local
// video file. Run writes the resulting status (transferring, uploaded, or
// failed) before returning; the error return reports infrastructure failures
// only.
func (u *Uploader) Run(ctx context.Context, itemID string) error {
	item, err := u.store.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "upload", "", fmt.Sprintf("item %s not found", itemID), nil)
	}
	if item.Status != queue.StatusCompleted {
		return services.Wrap(services.ErrValidation, "upload", "",
			fmt.Sprintf("item %s is %s, not completed", itemID, item.Status), nil)
	}
	if item.LocalPath == "" {
		if _, err := u.store.TransitionStatus(ctx, item.ID, queue.StatusFailed,
			"Upload failed: no local video file", queue.StatusCompleted); err != nil {
			return err
		}
		return nil
	}

	target := u.settings.UploadTarget()
	if target == "none" {
		u.logger.Info("uploads disabled", logging.String(logging.FieldItemID, item.ID))
		return nil
	}

	if _, err := u.store.TransitionStatus(ctx, item.ID, queue.StatusUploading, "Uploading...", queue.StatusCompleted); err != nil {
		return err
	}

	fileName := filepath.Base(item.LocalPath)

	var (
		filemoonCode string
		filesvcURL   string
		lastErr      error
	)

	if target == "filemoon" || target == "both" {
		filemoonCode, lastErr = u.runFilemoon(ctx, item, fileName)
	}
	if target == "filesvc" || target == "both" {
		var vcErr error
		filesvcURL, vcErr = u.runFilesVC(ctx, item, fileName)
		if vcErr != nil {
			lastErr = vcErr
		}
	}

	switch {
	case filemoonCode != "":
		message := fmt.Sprintf("Filemoon: %s. Awaiting encoding...", filemoonCode)
		if err := u.store.SetStatus(ctx, item.ID, queue.StatusTransferring, message); err != nil {
			return err
		}
	case filesvcURL != "":
		if err := u.store.SetStatus(ctx, item.ID, queue.StatusUploaded, "Files.vc: "+filesvcURL); err != nil {
			return err
		}
	default:
		message := "Upload failed"
		if lastErr != nil {
			message = lastErr.Error()
		}
		if err := u.store.SetStatus(ctx, item.ID, queue.StatusFailed, message); err != nil {
			return err
		}
		u.logger.Error("upload failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(lastErr))
		return nil
	}

	u.logger.Info("upload complete",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTarget, target))
	u.maybeDeleteLocal(item)
	return nil
}

func (u *Uploader) runFilemoon(ctx context.Context, item *queue.Item, fileName string) (string, error) {
	if u.filemoon == nil {
		return "", services.Wrap(services.ErrConfiguration, "upload", "filemoon", "Filemoon API key not configured", nil)
	}

	code, err := u.filemoon.Upload(ctx, item.LocalPath, fileName)
	if err != nil {
		u.logger.Warn("filemoon upload failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err))
		return "", err
	}
	if err := u.store.SetRemoteReference(ctx, item.ID, queue.TargetFilemoon, code); err != nil {
		return "", err
	}
	u.logger.Info("filemoon upload succeeded",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldFileCode, code))
	return code, nil
}

func (u *Uploader) runFilesVC(ctx context.Context, item *queue.Item, fileName string) (string, error) {
	if u.filesvc == nil {
		return "", services.Wrap(services.ErrConfiguration, "upload", "filesvc", "Files.vc API key not configured", nil)
	}

	result, err := u.filesvc.Upload(ctx, item.LocalPath, fileName)
	if err != nil {
		u.logger.Warn("files.vc upload failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err))
		return "", err
	}
	if err := u.store.SetRemoteReference(ctx, item.ID, queue.TargetFilesVC, result.URL); err != nil {
		return "", err
	}
	u.logger.Info("files.vc upload succeeded",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldURL, result.URL))
	return result.URL, nil
}

// maybeDeleteLocal removes local artifacts after a successful upload when the
// policy allows. Deletion failures are logged, never fatal.
func (u *Uploader) maybeDeleteLocal(item *queue.Item) {
	if !u.settings.DeleteAfterUpload() {
		return
	}
	for _, path := range []string{item.LocalPath, item.InfoPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			u.logger.Warn("delete local artifact failed",
				logging.String(logging.FieldItemID, item.ID),
				logging.String("path", path),
				logging.Error(err))
			continue
		}
		u.logger.Debug("deleted local artifact",
			logging.String(logging.FieldItemID, item.ID),
			logging.String("path", path))
	}
}
