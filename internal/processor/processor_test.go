package processor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"permavid/internal/config"
	"permavid/internal/download"
	"permavid/internal/queue"
	"permavid/internal/services/filemoon"
	"permavid/internal/services/ytdlp"
	"permavid/internal/settings"
	"permavid/internal/testsupport"
	"permavid/internal/upload"
)

type fakeDownloader struct {
	mu         sync.Mutex
	inFlight   int32
	maxSeen    int32
	order      []string
	makeResult func(url string) *ytdlp.Result
	delay      time.Duration
}

func (f *fakeDownloader) ProbeTitle(_ context.Context, url string) (string, error) {
	return "clip-" + filepath.Base(url), nil
}

func (f *fakeDownloader) Download(ctx context.Context, url, _, _ string, _ func(ytdlp.ProgressUpdate)) (*ytdlp.Result, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, current) {
			break
		}
	}

	f.mu.Lock()
	f.order = append(f.order, url)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.makeResult(url), nil
}

type filemoonStub struct{ code string }

func (s *filemoonStub) Upload(context.Context, string, string) (string, error) { return s.code, nil }

func (s *filemoonStub) EncodingList(context.Context) ([]filemoon.EncodeStatus, error) {
	return nil, nil
}

func (s *filemoonStub) RestartEncoding(context.Context, string) error { return nil }

func newProcessor(t *testing.T, cfg *config.Config, store *queue.Store, dl ytdlp.Downloader, overrides settings.Static) *Processor {
	t.Helper()
	base := settings.FromConfig(cfg)
	for k, v := range overrides {
		base[k] = v
	}
	view := settings.NewView(base)

	orch := download.NewOrchestrator(store, dl, view, download.NewRegistry(), cfg.Paths.DownloadDir, nil)
	uploader := upload.New(store, &filemoonStub{code: "fm1"}, nil, view, nil)
	return New(cfg, store, orch, uploader, view, nil)
}

func videoResult(t *testing.T, dir string) func(url string) *ytdlp.Result {
	t.Helper()
	var counter int32
	return func(url string) *ytdlp.Result {
		n := atomic.AddInt32(&counter, 1)
		path := filepath.Join(dir, "clip"+string(rune('a'+n-1))+".mp4")
		if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
			t.Errorf("write video: %v", err)
		}
		return &ytdlp.Result{Title: "clip", VideoPath: path}
	}
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		item, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if item != nil && item.Status == want {
			return
		}
		select {
		case <-deadline:
			status := queue.Status("missing")
			if item != nil {
				status = item.Status
			}
			t.Fatalf("item %s stuck in %s, want %s", id, status, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcessorDrainsQueueInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)

	dl := &fakeDownloader{makeResult: videoResult(t, t.TempDir()), delay: 20 * time.Millisecond}
	proc := newProcessor(t, cfg, store, dl, nil)

	ctx := context.Background()
	first, _, err := store.Enqueue(ctx, "https://example.test/v/1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, _, err := store.Enqueue(ctx, "https://example.test/v/2")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := proc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer proc.Stop()
	proc.Kick()

	waitForStatus(t, store, first.ID, queue.StatusCompleted)
	waitForStatus(t, store, second.ID, queue.StatusCompleted)

	dl.mu.Lock()
	defer dl.mu.Unlock()
	if len(dl.order) != 2 || dl.order[0] != "https://example.test/v/1" {
		t.Fatalf("expected FIFO order, got %v", dl.order)
	}
	if atomic.LoadInt32(&dl.maxSeen) != 1 {
		t.Fatalf("expected at most one concurrent download, saw %d", dl.maxSeen)
	}
}

func TestProcessorKickPicksUpNewWork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 3600
	store := testsupport.MustOpenStore(t, cfg)

	dl := &fakeDownloader{makeResult: videoResult(t, t.TempDir())}
	proc := newProcessor(t, cfg, store, dl, nil)

	ctx := context.Background()
	if err := proc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer proc.Stop()

	// The loop is now parked on an hour-long poll; a kick must wake it.
	time.Sleep(50 * time.Millisecond)
	item, _, err := store.Enqueue(ctx, "https://example.test/v/kicked")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	proc.Kick()

	waitForStatus(t, store, item.ID, queue.StatusCompleted)
}

func TestProcessorAutoUpload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)

	dl := &fakeDownloader{makeResult: videoResult(t, t.TempDir())}
	proc := newProcessor(t, cfg, store, dl, settings.Static{
		settings.KeyAutoUpload:   "true",
		settings.KeyUploadTarget: "filemoon",
	})

	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, "https://example.test/v/auto")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := proc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	proc.Kick()
	waitForStatus(t, store, item.ID, queue.StatusTransferring)
	proc.Stop()

	got, _ := store.GetByID(ctx, item.ID)
	if got.FilemoonCode != "fm1" {
		t.Fatalf("expected auto-upload reference, got %q", got.FilemoonCode)
	}
}

func TestProcessorSkipsClaimedItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	dl := &fakeDownloader{makeResult: videoResult(t, t.TempDir())}
	proc := newProcessor(t, cfg, store, dl, nil)

	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, "https://example.test/v/gone")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Item is cancelled between fetch and claim.
	if err := store.SetStatus(ctx, item.ID, queue.StatusCancelled, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}

	if err := proc.processItem(ctx, item); err != nil {
		t.Fatalf("processItem: %v", err)
	}

	got, _ := store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled untouched, got %s", got.Status)
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if len(dl.order) != 0 {
		t.Fatal("expected no download attempt for claimed item")
	}
}
