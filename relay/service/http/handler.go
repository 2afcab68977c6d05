package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"logrelay/internal/models"
	"logrelay/internal/payload"
	core "logrelay/relay/service/core"
)

// DefaultMaxBodyBytes limits ingest request bodies.
const DefaultMaxBodyBytes = 10 << 20 // 10MB

// LogHandler serves the relay HTTP API
type LogHandler struct {
	svc          *core.Service
	logger       *log.Logger
	decoder      payload.Decoder
	maxBodyBytes int64
}

// NewLogHandler creates a new LogHandler. A maxBodyBytes of zero or less takes
// the default.
func NewLogHandler(s *core.Service, l *log.Logger, maxBodyBytes int64) *LogHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &LogHandler{svc: s, logger: l, maxBodyBytes: maxBodyBytes}
}

// Register mounts every route on mux.
func (h *LogHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/logs", h.Logs)
	mux.HandleFunc("/api/logs/stream", h.Stream)
	mux.HandleFunc("/api/channels", h.Channels)
	mux.HandleFunc("/api/stats", h.Stats)
	mux.HandleFunc("/health", h.HealthCheck)
}

// Logs dispatches /api/logs by method
func (h *LogHandler) Logs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.IngestLogs(w, r)
	case http.MethodGet:
		h.ListLogs(w, r)
	case http.MethodDelete:
		h.ClearLogs(w, r)
	default:
		h.respondError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// IngestLogs handles POST /api/logs requests
func (h *LogHandler) IngestLogs(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if r.ContentLength > h.maxBodyBytes {
		h.respondError(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	body, err := payload.ReadBody(r.Body, r.Header.Get("Content-Encoding"), h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, payload.ErrTooLarge) {
			h.respondError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Printf("HTTP Handler: Failed to read request body: %v", err)
		h.respondError(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	batch, err := h.decoder.Decode(body)
	if err != nil {
		h.logger.Printf("HTTP Handler: Failed to parse JSON request: %v", err)
		h.respondError(w, "Bad Request: Invalid JSON format", http.StatusBadRequest)
		return
	}

	channel := firstNonEmpty(r.Header.Get("X-Channel"), r.URL.Query().Get("channel"), batch.Channel)
	records := h.svc.Ingest(channel, batch.Logs)

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	h.respondJSON(w, map[string]interface{}{
		"received": len(records),
		"ids":      ids,
	}, http.StatusOK)
}

// ListLogs handles GET /api/logs requests
func (h *LogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs := h.svc.Snapshot(strings.TrimSpace(r.URL.Query().Get("channel")))
	if logs == nil {
		logs = []*models.LogRecord{}
	}
	h.respondJSON(w, map[string]interface{}{"logs": logs}, http.StatusOK)
}

// ClearLogs handles DELETE /api/logs requests
func (h *LogHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	h.svc.Clear(channel)
	h.logger.Printf("HTTP Handler: Cleared logs (channel=%q)", channel)
	h.respondJSON(w, map[string]interface{}{"cleared": true, "channel": channel}, http.StatusOK)
}

// Channels handles GET /api/channels requests
func (h *LogHandler) Channels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	h.respondJSON(w, map[string]interface{}{"channels": h.svc.ListChannels()}, http.StatusOK)
}

// Stats handles GET /api/stats requests
func (h *LogHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	h.respondJSON(w, h.svc.Stats(), http.StatusOK)
}

// HealthCheck handles GET /health requests
func (h *LogHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"service":   "logrelay",
	}

	h.respondJSON(w, resp, http.StatusOK)
}

// respondJSON sends JSON response
func (h *LogHandler) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("HTTP Handler: Failed to encode JSON response: %v", err)
	}
}

// respondError sends error response
func (h *LogHandler) respondError(w http.ResponseWriter, message string, statusCode int) {
	errorResp := map[string]interface{}{
		"error":   message,
		"status":  statusCode,
		"message": http.StatusText(statusCode),
	}

	h.respondJSON(w, errorResp, statusCode)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
