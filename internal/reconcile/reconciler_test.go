package reconcile

import (
	"context"
	"testing"
	"time"

	"permavid/internal/config"
	"permavid/internal/queue"
	"permavid/internal/services"
	"permavid/internal/services/filemoon"
	"permavid/internal/testsupport"
)

type encodingListStub struct {
	entries []filemoon.EncodeStatus
	err     error
	calls   int
}

func (s *encodingListStub) Upload(context.Context, string, string) (string, error) {
	return "", services.ErrExternalTool
}

func (s *encodingListStub) EncodingList(context.Context) ([]filemoon.EncodeStatus, error) {
	s.calls++
	return s.entries, s.err
}

func (s *encodingListStub) RestartEncoding(context.Context, string) error { return nil }

func newReconciler(t *testing.T, cfg *config.Config, store *queue.Store, fm filemoon.Service) *Reconciler {
	t.Helper()
	return New(cfg, store, fm, nil)
}

func seedItem(t *testing.T, store *queue.Store, url string, status queue.Status, fileCode string) *queue.Item {
	t.Helper()
	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, url)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	item.Status = status
	item.FilemoonCode = fileCode
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}
	return item
}

func intptr(v int) *int { return &v }

func TestTickMapsRemoteStates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	encoding := seedItem(t, store, "https://example.test/v/1", queue.StatusTransferring, "enc1")
	finished := seedItem(t, store, "https://example.test/v/2", queue.StatusEncoding, "fin1")
	errored := seedItem(t, store, "https://example.test/v/3", queue.StatusEncoding, "err1")

	fm := &encodingListStub{entries: []filemoon.EncodeStatus{
		{FileCode: "enc1", State: filemoon.EncodeStateEncoding, Progress: intptr(42)},
		{FileCode: "fin1", State: filemoon.EncodeStateFinished},
		{FileCode: "err1", State: filemoon.EncodeStateErrored, Error: "codec unsupported"},
	}}
	rec := newReconciler(t, cfg, store, fm)

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fm.calls != 1 {
		t.Fatalf("expected a single list call per tick, got %d", fm.calls)
	}

	got, _ := store.GetByID(ctx, encoding.ID)
	if got.Status != queue.StatusEncoding || got.EncodingProgress == nil || *got.EncodingProgress != 42 {
		t.Errorf("expected encoding at 42%%, got %s %v", got.Status, got.EncodingProgress)
	}
	if got.Message != "Encoding... 42%" {
		t.Errorf("unexpected message %q", got.Message)
	}

	got, _ = store.GetByID(ctx, finished.ID)
	if got.Status != queue.StatusEncoded || got.EncodingProgress == nil || *got.EncodingProgress != 100 {
		t.Errorf("expected encoded at 100%%, got %s %v", got.Status, got.EncodingProgress)
	}

	got, _ = store.GetByID(ctx, errored.ID)
	if got.Status != queue.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Message != "Encoding failed: codec unsupported" {
		t.Errorf("unexpected message %q", got.Message)
	}
}

func TestTickUnknownStateKeepsStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := seedItem(t, store, "https://example.test/v/odd", queue.StatusEncoding, "odd1")
	fm := &encodingListStub{entries: []filemoon.EncodeStatus{
		{FileCode: "odd1", State: filemoon.EncodeStateUnknown, RawState: "REBALANCING"},
	}}
	rec := newReconciler(t, cfg, store, fm)

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusEncoding {
		t.Fatalf("expected status untouched, got %s", got.Status)
	}
	if got.Message != "Filemoon status: REBALANCING" {
		t.Errorf("expected raw state surfaced, got %q", got.Message)
	}
}

func TestTickDisappearedEncodePromotedToEncoded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := seedItem(t, store, "https://example.test/v/gone", queue.StatusEncoding, "gone1")
	fm := &encodingListStub{}
	rec := newReconciler(t, cfg, store, fm)

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusEncoded {
		t.Fatalf("expected disappeared encode promoted to encoded, got %s", got.Status)
	}
}

func TestTickTransferringWaitsUntilTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := seedItem(t, store, "https://example.test/v/wait", queue.StatusTransferring, "wait1")
	fm := &encodingListStub{}
	rec := newReconciler(t, cfg, store, fm)

	// Fresh item: not yet in the remote list, but within the timeout window.
	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ := store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusTransferring {
		t.Fatalf("expected transferring left alone, got %s", got.Status)
	}

	// Same item seen long past the transferring timeout.
	rec.now = func() time.Time {
		return time.Now().Add(time.Duration(cfg.Workflow.TransferringTimeout+60) * time.Second)
	}
	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ = store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected timeout failure, got %s", got.Status)
	}
}

func TestTickEncodingTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := seedItem(t, store, "https://example.test/v/stuck", queue.StatusEncoding, "stuck1")
	fm := &encodingListStub{entries: []filemoon.EncodeStatus{
		{FileCode: "stuck1", State: filemoon.EncodeStateEncoding, Progress: intptr(10)},
	}}
	rec := newReconciler(t, cfg, store, fm)
	rec.now = func() time.Time {
		return time.Now().Add(time.Duration(cfg.Workflow.EncodingTimeout+60) * time.Second)
	}

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected stuck encode failed, got %s", got.Status)
	}
}

func TestTickSkipsListWhenNothingPollable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Files.vc only upload: uploaded but no Filemoon reference.
	seedItem(t, store, "https://example.test/v/vconly", queue.StatusUploaded, "")

	fm := &encodingListStub{}
	rec := newReconciler(t, cfg, store, fm)

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fm.calls != 0 {
		t.Fatalf("expected no list call without pollable items, got %d", fm.calls)
	}
}

func TestTickListFailureLeavesItemsAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := seedItem(t, store, "https://example.test/v/flaky", queue.StatusEncoding, "flaky1")
	fm := &encodingListStub{err: services.Wrap(services.ErrTransient, "filemoon", "encoding_list", "connection reset", nil)}
	rec := newReconciler(t, cfg, store, fm)

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusEncoding {
		t.Fatalf("expected item untouched on poll failure, got %s", got.Status)
	}
}

func TestTickListFailureStillTimesOutStalledTransfer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := seedItem(t, store, "https://example.test/v/stalled", queue.StatusTransferring, "stall1")
	fm := &encodingListStub{err: services.Wrap(services.ErrTransient, "filemoon", "encoding_list", "connection reset", nil)}
	rec := newReconciler(t, cfg, store, fm)
	rec.now = func() time.Time {
		return time.Now().Add(time.Duration(cfg.Workflow.TransferringTimeout+60) * time.Second)
	}

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := store.GetByID(ctx, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected stalled transfer to time out despite poll failure, got %s", got.Status)
	}
}

func TestTickNoWriteWithoutChange(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := seedItem(t, store, "https://example.test/v/steady", queue.StatusEncoding, "steady1")
	fm := &encodingListStub{entries: []filemoon.EncodeStatus{
		{FileCode: "steady1", State: filemoon.EncodeStateEncoding, Progress: intptr(42)},
	}}
	rec := newReconciler(t, cfg, store, fm)

	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	first, _ := store.GetByID(ctx, item.ID)

	// Same remote state again: updated_at must not move.
	time.Sleep(5 * time.Millisecond)
	if err := rec.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	second, _ := store.GetByID(ctx, item.ID)
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("expected no write without change, updated_at moved %s -> %s", first.UpdatedAt, second.UpdatedAt)
	}
}
