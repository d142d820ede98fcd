package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"permavid/internal/api"
	"permavid/internal/logging"
	"permavid/internal/services"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	service *api.Service

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, service *api.Service, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(bind),
		logger:  logging.WithComponent(logger, "api-server"),
		daemon:  d,
		service: service,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/queue", srv.handleQueue)
	mux.HandleFunc("/api/queue/", srv.handleQueueItem)
	mux.HandleFunc("/api/clear", srv.handleClear)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	counts := make(map[string]int, len(status.QueueCounts))
	for st, n := range status.QueueCounts {
		counts[string(st)] = n
	}
	s.writeSuccess(w, "", api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		QueueCounts:  counts,
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleQueueList(w, r)
	case http.MethodPost:
		s.handleEnqueue(w, r)
	default:
		s.writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	var (
		items []api.QueueItem
		err   error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", "active":
		items, err = s.service.ListActive(r.Context())
	case "encoded":
		items, err = s.service.ListEncoded(r.Context())
	default:
		s.writeFailure(w, http.StatusBadRequest, "unknown view "+view)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, "", api.QueueListResponse{Items: items})
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, message, err := s.service.Enqueue(r.Context(), strings.TrimSpace(body.URL))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, message, result)
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		s.writeFailure(w, http.StatusNotFound, "queue item not found")
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			s.writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		item, err := s.service.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeSuccess(w, "", item)
		return
	}

	if r.Method != http.MethodPost {
		s.writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		message string
		err     error
	)
	switch action {
	case "cancel":
		message, err = s.service.Cancel(r.Context(), id)
	case "retry":
		message, err = s.service.Retry(r.Context(), id)
	case "upload":
		message, err = s.service.TriggerUpload(r.Context(), id)
	case "restart":
		message, err = s.service.RestartEncoding(r.Context(), id)
	default:
		s.writeFailure(w, http.StatusNotFound, "unknown action "+action)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, message, nil)
}

func (s *apiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.service.ClearByStatus(r.Context(), strings.TrimSpace(body.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, "Queue cleared", result)
}

func (s *apiServer) writeSuccess(w http.ResponseWriter, message string, data any) {
	envelope := api.Envelope{Success: true, Message: message}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			s.writeFailure(w, http.StatusInternalServerError, "failed to encode response data")
			return
		}
		envelope.Data = encoded
	}
	s.writeEnvelope(w, http.StatusOK, envelope)
}

// writeError maps the service error taxonomy onto HTTP statuses; the
// envelope message carries the wrapped detail.
func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrExternalTool), errors.Is(err, services.ErrTransient):
		status = http.StatusBadGateway
	}
	s.writeFailure(w, status, err.Error())
}

func (s *apiServer) writeFailure(w http.ResponseWriter, status int, message string) {
	s.writeEnvelope(w, status, api.Envelope{Success: false, Message: message})
}

func (s *apiServer) writeEnvelope(w http.ResponseWriter, status int, envelope api.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}
