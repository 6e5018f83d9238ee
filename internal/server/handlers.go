package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"coursebot/internal/chat"
	"coursebot/internal/index"
	"coursebot/internal/logging"
)

const (
	serviceName  = "coursebot"
	maxBodyBytes = 64 << 10
)

// ChatService answers and searches. *chat.Service implements it.
type ChatService interface {
	Ask(ctx context.Context, req chat.Request) (chat.Response, error)
	Search(ctx context.Context, req chat.SearchRequest) ([]chat.SearchResult, error)
	Content(ctx context.Context, id string) (chat.ContentResponse, error)
}

// StatusSource reports the published index. *index.Holder implements it.
type StatusSource interface {
	Status() index.Status
}

// Handler holds the HTTP handlers of the service.
type Handler struct {
	chat    ChatService
	status  StatusSource
	version string
	logger  *zap.Logger
}

func NewHandler(svc ChatService, status StatusSource, version string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{chat: svc, status: status, version: version, logger: logger}
}

// HandleChat handles POST /chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.logger)
	var req chat.Request
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.chat.Ask(r.Context(), req)
	if err != nil {
		HandleServiceError(w, r, err, log)
		return
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		log.Error("failed to write chat response", zap.Error(err))
	}
}

// HandleSearch handles POST /search.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.logger)
	var req chat.SearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.chat.Search(r.Context(), req)
	if err != nil {
		HandleServiceError(w, r, err, log)
		return
	}
	if err := WriteJSON(w, http.StatusOK, results); err != nil {
		log.Error("failed to write search response", zap.Error(err))
	}
}

// HandleContent handles GET /content/{id}.
func (h *Handler) HandleContent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.logger)
	resp, err := h.chat.Content(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, r, err, log)
		return
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		log.Error("failed to write content response", zap.Error(err))
	}
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// HandleHealth handles GET /health. It answers 200 whenever the process is serving.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyResponse is the readiness body.
type ReadyResponse struct {
	Status string       `json:"status"`
	Index  index.Status `json:"index"`
}

// HandleReady handles GET /readyz: 200 once an index generation is published, 503 before.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	resp := ReadyResponse{Status: "ready", Index: st}
	code := http.StatusOK
	switch {
	case !st.Ready:
		resp.Status = "not_ready"
		code = http.StatusServiceUnavailable
	case st.Degraded:
		resp.Status = "degraded"
	}
	if err := WriteJSON(w, code, resp); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// InfoResponse describes the service at GET /.
type InfoResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// HandleRoot handles GET /.
func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, InfoResponse{
		Service: serviceName,
		Version: h.version,
		Endpoints: map[string]string{
			"chat":    "POST /chat",
			"search":  "POST /search",
			"content": "GET /content/{id}",
			"health":  "GET /health",
			"ready":   "GET /readyz",
			"metrics": "GET /metrics",
		},
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		_ = WriteBadRequest(w, "request body is too large", nil)
	case errors.Is(err, io.EOF):
		_ = WriteBadRequest(w, "request body is empty", nil)
	default:
		_ = WriteBadRequest(w, "request body is not valid JSON", nil)
	}
	return false
}
