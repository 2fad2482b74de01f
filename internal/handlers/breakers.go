package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cobridge/cobridge/internal/breaker"
)

// BreakersHandler exposes the circuit breaker states for operators.
type BreakersHandler struct {
	breakers *breaker.Registry
	logger   *slog.Logger
}

func NewBreakersHandler(breakers *breaker.Registry, logger *slog.Logger) *BreakersHandler {
	return &BreakersHandler{
		breakers: breakers,
		logger:   logger,
	}
}

// List reports a snapshot of every known breaker.
func (h *BreakersHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(map[string]any{
		"breakers": h.breakers.Snapshots(),
	}); err != nil {
		h.logger.Error("Failed to write breaker snapshots", "error", err)
	}
}

// Reset forces one breaker back to closed.
func (h *BreakersHandler) Reset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if !h.breakers.Reset(name) {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	h.logger.Info("Circuit breaker reset", "provider", name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"reset":true}`))
}
