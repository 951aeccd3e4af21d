// Package api holds the inbound HTTP handlers for the relay service.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"tikrelay/internal/relay"
)

// ServiceName and Version describe the running service in the health payload
// and root descriptor.
const (
	ServiceName = "tiktok-upload-relay"
	Version     = "1.0.0"
)

// Handler serves the public HTTP surface: health check, service descriptor,
// and the upload endpoint.
type Handler struct {
	Relay       *relay.Orchestrator
	Environment string
	Logger      *slog.Logger

	// Now overrides the health timestamp clock in tests.
	Now func() time.Time
}

// NewHandler wires the handler with its orchestrator and environment label.
func NewHandler(orchestrator *relay.Orchestrator, environment string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Relay:       orchestrator,
		Environment: environment,
		Logger:      logger,
		Now:         time.Now,
	}
}

// Health always reports 200 regardless of account-pool or upstream state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"timestamp":   h.Now().UTC().Format(time.RFC3339),
		"service":     ServiceName,
		"environment": h.Environment,
		"version":     Version,
	})
}

// Root serves a static service descriptor.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": ServiceName,
		"version": Version,
		"status":  "running",
		"endpoints": map[string]string{
			"health": "GET /health",
			"upload": "POST /api/upload/tiktok",
		},
	})
}
