package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds with service health information.
type HealthHandler struct {
	Store Pinger
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{
		"status": "ok",
	}

	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			payload["status"] = "degraded"
			payload["store"] = "unreachable"
			respondJSON(r.Context(), w, http.StatusServiceUnavailable, payload)
			return
		}
		payload["store"] = "ok"
	}

	respondJSON(r.Context(), w, http.StatusOK, payload)
}
