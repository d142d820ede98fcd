package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"permavid/internal/queue"
	"permavid/internal/services"
	"permavid/internal/services/filemoon"
	"permavid/internal/services/filesvc"
	"permavid/internal/settings"
	"permavid/internal/testsupport"
)

type filemoonService struct {
	code string
	err  error
}

func (s *filemoonService) Upload(context.Context, string, string) (string, error) {
	return s.code, s.err
}

func (s *filemoonService) EncodingList(context.Context) ([]filemoon.EncodeStatus, error) {
	return nil, nil
}

func (s *filemoonService) RestartEncoding(context.Context, string) error { return nil }

type stubFilesVC struct {
	result *filesvc.Result
	err    error
}

func (s *stubFilesVC) Upload(context.Context, string, string) (*filesvc.Result, error) {
	return s.result, s.err
}

func completedItem(t *testing.T, store *queue.Store, localPath string) *queue.Item {
	t.Helper()
	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, "https://example.test/v/"+filepath.Base(localPath))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item.Status = queue.StatusCompleted
	item.LocalPath = localPath
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}
	return item
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func settingsWith(overrides map[string]string) settings.View {
	base := settings.Static{}
	for k, v := range overrides {
		base[k] = v
	}
	return settings.NewView(base)
}

func TestRunFilemoonSuccess(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	item := completedItem(t, store, writeVideo(t))

	fm := &filemoonService{code: "fm123"}
	uploader := New(store, fm, nil, settingsWith(map[string]string{settings.KeyUploadTarget: "filemoon"}), nil)

	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusTransferring {
		t.Fatalf("expected transferring, got %s", got.Status)
	}
	if got.FilemoonCode != "fm123" {
		t.Errorf("expected reference persisted, got %q", got.FilemoonCode)
	}
}

func TestRunFilesVCSuccess(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	item := completedItem(t, store, writeVideo(t))

	vc := &stubFilesVC{result: &filesvc.Result{FileCode: "vc1", URL: "https://files.vc/d/vc1"}}
	uploader := New(store, nil, vc, settingsWith(map[string]string{settings.KeyUploadTarget: "filesvc"}), nil)

	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusUploaded {
		t.Fatalf("expected uploaded, got %s", got.Status)
	}
	if got.FilesVCCode != "https://files.vc/d/vc1" {
		t.Errorf("expected reference persisted, got %q", got.FilesVCCode)
	}
}

func TestRunBothTargetsFilemoonWins(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	item := completedItem(t, store, writeVideo(t))

	fm := &filemoonService{code: "fm123"}
	vc := &stubFilesVC{result: &filesvc.Result{URL: "https://files.vc/d/vc1"}}
	uploader := New(store, fm, vc, settingsWith(map[string]string{settings.KeyUploadTarget: "both"}), nil)

	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusTransferring {
		t.Fatalf("expected transferring (Filemoon still encodes), got %s", got.Status)
	}
	if got.FilemoonCode != "fm123" || got.FilesVCCode != "https://files.vc/d/vc1" {
		t.Errorf("expected both references, got %q %q", got.FilemoonCode, got.FilesVCCode)
	}
}

func TestRunBothTargetsFilesVCFallback(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	item := completedItem(t, store, writeVideo(t))

	fm := &filemoonService{err: services.Wrap(services.ErrExternalTool, "filemoon", "upload", "server down", nil)}
	vc := &stubFilesVC{result: &filesvc.Result{URL: "https://files.vc/d/vc1"}}
	uploader := New(store, fm, vc, settingsWith(map[string]string{settings.KeyUploadTarget: "both"}), nil)

	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusUploaded {
		t.Fatalf("expected uploaded via fallback, got %s", got.Status)
	}
}

func TestRunAllTargetsFail(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	item := completedItem(t, store, writeVideo(t))

	fm := &filemoonService{err: services.Wrap(services.ErrExternalTool, "filemoon", "upload", "server down", nil)}
	uploader := New(store, fm, nil, settingsWith(map[string]string{settings.KeyUploadTarget: "filemoon"}), nil)

	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Message == "" {
		t.Error("expected failure message")
	}
}

func TestRunMissingCredentialIsConfigFailure(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	item := completedItem(t, store, writeVideo(t))

	uploader := New(store, nil, nil, settingsWith(map[string]string{settings.KeyUploadTarget: "filemoon"}), nil)

	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Message != "configuration error: upload: filemoon: Filemoon API key not configured" {
		t.Errorf("expected actionable message, got %q", got.Message)
	}
}

func TestRunRejectsWrongStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, "https://example.test/v/queued")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	uploader := New(store, nil, nil, settingsWith(nil), nil)
	err = uploader.Run(ctx, item.ID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRunDeleteAfterUpload(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	video := writeVideo(t)
	item := completedItem(t, store, video)

	fm := &filemoonService{code: "fm123"}
	uploader := New(store, fm, nil, settingsWith(map[string]string{
		settings.KeyUploadTarget:      "filemoon",
		settings.KeyDeleteAfterUpload: "true",
	}), nil)

	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(video); !os.IsNotExist(err) {
		t.Error("expected local video deleted after upload")
	}
}

func TestRunTargetNoneLeavesItemAlone(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	item := completedItem(t, store, writeVideo(t))

	uploader := New(store, nil, nil, settingsWith(map[string]string{settings.KeyUploadTarget: "none"}), nil)
	if err := uploader.Run(context.Background(), item.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.GetByID(context.Background(), item.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("expected completed untouched, got %s", got.Status)
	}
}
