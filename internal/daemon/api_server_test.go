package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"permavid/internal/api"
	"permavid/internal/logging"
	"permavid/internal/queue"
	"permavid/internal/services"
	"permavid/internal/services/filemoon"
	"permavid/internal/testsupport"
)

type noopScheduler struct{}

func (noopScheduler) Kick() {}

type noopCanceller struct{}

func (noopCanceller) Cancel(string) bool { return true }

type noopUploader struct{}

func (noopUploader) Run(context.Context, string) error { return nil }

type noopFilemoon struct{}

func (noopFilemoon) Upload(context.Context, string, string) (string, error) {
	return "", services.ErrExternalTool
}

func (noopFilemoon) EncodingList(context.Context) ([]filemoon.EncodeStatus, error) {
	return nil, nil
}

func (noopFilemoon) RestartEncoding(context.Context, string) error { return nil }

func newTestServer(t *testing.T) (*apiServer, *queue.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	service := api.NewService(store, noopScheduler{}, noopCanceller{}, noopUploader{}, noopFilemoon{}, nil)
	return &apiServer{service: service, logger: logging.NewNop()}, store
}

func decodeEnvelope(t *testing.T, body []byte) api.Envelope {
	t.Helper()
	var envelope api.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func TestAPIServerEnqueueAndList(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/queue",
		strings.NewReader(`{"url":"https://example.test/v/1"}`))
	w := httptest.NewRecorder()
	srv.handleQueue(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	envelope := decodeEnvelope(t, w.Body.Bytes())
	if !envelope.Success {
		t.Fatalf("expected success, got %q", envelope.Message)
	}
	var result api.EnqueueResult
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !result.Created || result.Item.URL != "https://example.test/v/1" {
		t.Fatalf("unexpected result %+v", result)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue?view=active", nil)
	w = httptest.NewRecorder()
	srv.handleQueue(w, req)

	envelope = decodeEnvelope(t, w.Body.Bytes())
	var list api.QueueListResponse
	if err := json.Unmarshal(envelope.Data, &list); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(list.Items))
	}
}

func TestAPIServerItemActions(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, "https://example.test/v/act")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queue/"+item.ID, nil)
	w := httptest.NewRecorder()
	srv.handleQueueItem(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/queue/"+item.ID+"/cancel", nil)
	w = httptest.NewRecorder()
	srv.handleQueueItem(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Queued cancel hard-deletes; the follow-up fetch is a 404 envelope.
	req = httptest.NewRequest(http.MethodGet, "/api/queue/"+item.ID, nil)
	w = httptest.NewRecorder()
	srv.handleQueueItem(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	envelope := decodeEnvelope(t, w.Body.Bytes())
	if envelope.Success {
		t.Fatal("expected failure envelope")
	}
}

func TestAPIServerValidationMapsTo400(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, "https://example.test/v/bad")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Retrying a queued item is a validation failure.
	req := httptest.NewRequest(http.MethodPost, "/api/queue/"+item.ID+"/retry", nil)
	w := httptest.NewRecorder()
	srv.handleQueueItem(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAPIServerClear(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	item, _, err := store.Enqueue(ctx, "https://example.test/v/done")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.SetStatus(ctx, item.ID, queue.StatusFailed, "boom"); err != nil {
		t.Fatalf("set status: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/clear", strings.NewReader(`{"status":"failed"}`))
	w := httptest.NewRecorder()
	srv.handleClear(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	envelope := decodeEnvelope(t, w.Body.Bytes())
	var result api.ClearResult
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", result.Removed)
	}
}
