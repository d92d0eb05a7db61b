package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/young1lin/assistsearch/internal/assistant"
	"github.com/young1lin/assistsearch/internal/config"
	"github.com/young1lin/assistsearch/internal/metrics"
	"github.com/young1lin/assistsearch/internal/models"
	"github.com/young1lin/assistsearch/internal/runner"
	"github.com/young1lin/assistsearch/internal/tools"
	"github.com/young1lin/assistsearch/pkg/logger"
)

const (
	greeting         = "Hello, it's working"
	errNoPrompt      = "No prompt provided"
	errInvalidJSON   = "Invalid JSON body"
	maxRequestBodyMB = 1
)

// Responder answers a prompt, optionally continuing an existing thread
type Responder interface {
	Respond(ctx context.Context, prompt, threadID string) (*runner.Result, error)
}

// Handler serves the HTTP surface of the bridge
type Handler struct {
	responder   Responder
	tools       []tools.Info
	metricsPath string
	metrics     http.Handler
}

// NewHandler creates a new handler. toolInfo is reported on /tools.
func NewHandler(responder Responder, toolInfo []tools.Info, metricsCfg config.MetricsConfig) *Handler {
	h := &Handler{
		responder: responder,
		tools:     toolInfo,
	}
	if metricsCfg.Enabled {
		h.metricsPath = metricsCfg.Path
		if h.metricsPath == "" {
			h.metricsPath = "/metrics"
		}
		h.metrics = promhttp.Handler()
	}
	return h
}

// ServeHTTP handles all HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	traceID := extractTraceID(r)
	if traceID == "" {
		traceID = generateTraceID()
	}
	r = r.WithContext(logger.ContextWithTraceID(r.Context(), traceID))

	log := logger.WithTraceID(traceID)
	log.Info("request received",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("X-Trace-ID", traceID)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	route := r.URL.Path
	switch {
	case r.URL.Path == "/":
		h.allow(rec, r, log, http.MethodGet, h.handleIndex)
	case r.URL.Path == "/get-response":
		h.allow(rec, r, log, http.MethodPost, h.handleGetResponse)
	case r.URL.Path == "/health":
		h.allow(rec, r, log, http.MethodGet, h.handleHealth)
	case r.URL.Path == "/tools":
		h.allow(rec, r, log, http.MethodGet, h.handleTools)
	case h.metrics != nil && r.URL.Path == h.metricsPath:
		h.metrics.ServeHTTP(rec, r)
	default:
		route = "other"
		h.writeError(rec, http.StatusNotFound, "Endpoint not found", log)
	}

	metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	log.Info("request completed",
		zap.Int("status", rec.status),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, log *zap.Logger, method string, next func(http.ResponseWriter, *http.Request, *zap.Logger)) {
	if r.Method != method {
		w.Header().Set("Allow", method)
		h.writeError(w, http.StatusMethodNotAllowed, "Only "+method+" method is allowed", log)
		return
	}
	next(w, r, log)
}

// handleIndex is the liveness probe
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, greeting)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleTools(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	infos := h.tools
	if infos == nil {
		infos = []tools.Info{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"tools": infos})
}

// handleGetResponse relays a prompt to the assistant and returns its answer
func (h *Handler) handleGetResponse(w http.ResponseWriter, r *http.Request, log *zap.Logger) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyMB<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read request body", log)
		return
	}

	if len(bytes.TrimSpace(body)) == 0 {
		h.writeError(w, http.StatusBadRequest, errNoPrompt, log)
		return
	}

	var req models.PromptRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug("invalid request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, errInvalidJSON, log)
		return
	}

	if req.Prompt == "" {
		h.writeError(w, http.StatusBadRequest, errNoPrompt, log)
		return
	}

	log.Info("prompt received",
		zap.Int("prompt_len", len(req.Prompt)),
		zap.String("thread_id", req.ThreadID),
	)

	result, err := h.responder.Respond(r.Context(), req.Prompt, req.ThreadID)
	if err != nil {
		h.writeError(w, statusForError(err), err.Error(), log)
		return
	}

	h.writeJSON(w, http.StatusOK, models.PromptResponse{
		Response: result.Answer,
		ThreadID: result.ThreadID,
	})
}

// statusForError maps driver failures onto HTTP status codes
func statusForError(err error) int {
	var apiErr *assistant.APIError
	switch {
	case errors.Is(err, tools.ErrUnknownFunction):
		return http.StatusInternalServerError
	case errors.Is(err, runner.ErrRunTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, runner.ErrRunFailed), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, log *zap.Logger) {
	if status >= http.StatusInternalServerError {
		log.Error("request error", zap.Int("status", status), zap.String("message", message))
	} else {
		log.Warn("request rejected", zap.Int("status", status), zap.String("message", message))
	}
	h.writeJSON(w, status, models.ErrorResponse{Error: message})
}

// statusRecorder captures the status code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// extractTraceID extracts trace ID from various possible headers
func extractTraceID(r *http.Request) string {
	headers := []string{
		"X-Trace-ID",
		"X-Request-ID",
		"X-Correlation-ID",
	}

	for _, header := range headers {
		if id := r.Header.Get(header); id != "" {
			return id
		}
	}

	return ""
}

// generateTraceID generates a new trace ID
func generateTraceID() string {
	return uuid.New().String()[:16]
}
