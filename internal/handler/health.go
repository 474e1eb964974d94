package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/artifact-sync/internal/nats"
	"github.com/capitalize-ai/artifact-sync/internal/session"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	sessions   *session.Manager
}

// NewHealthHandler creates a new health handler. natsClient is nil when
// the live feed is disabled.
func NewHealthHandler(natsClient *natsclient.Client, sessions *session.Manager) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		sessions:   sessions,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": h.sessions.Len(),
	})
}

// Ready handles GET /ready. Without a live feed the service only depends
// on the gateway, which is checked per request.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.natsClient.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
