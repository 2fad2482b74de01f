package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cobridge/cobridge/internal/breaker"
)

type HealthHandler struct {
	breakers *breaker.Registry
	logger   *slog.Logger
}

func NewHealthHandler(breakers *breaker.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		breakers: breakers,
		logger:   logger,
	}
}

// ServeHTTP reports liveness plus the per-provider breaker states, so a
// probe can tell "up" from "up but every backend is tripped".
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]string)
	for _, snap := range h.breakers.Snapshots() {
		states[snap.Name] = snap.State
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"breakers": states,
	}); err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
