package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store store.AlertStore
}

func NewHealthHandler(st store.AlertStore) *HealthHandler {
	return &HealthHandler{store: st}
}

// Live handles GET /health: the process is up.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready: the alert store answers within two seconds.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"reason": "store_unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
