package handler

import (
	"net/http"

	"github.com/threadline-ai/chat-gateway/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	stores *store.Manager
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(stores *store.Manager) *HealthHandler {
	return &HealthHandler{
		stores: stores,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not ready",
			"reason":  "persistence backend unreachable",
			"backend": h.stores.Backend(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"backend": h.stores.Backend(),
	})
}
