package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TelemetryBlackholeMiddleware swallows the client's telemetry traffic. The
// coding agent phones home to Statsig and to Anthropic's metrics endpoint;
// both get a well-formed success response so the client never retries or
// logs errors, and nothing is forwarded upstream.
type TelemetryBlackholeMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryBlackholeMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tbm := &TelemetryBlackholeMiddleware{
		logger: logger,
	}

	return tbm.middleware
}

func (tbm *TelemetryBlackholeMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		switch {
		case tbm.isStatsigRequest(host, r.URL.Path):
			tbm.sendStatsigResponse(w)
		case tbm.isMetricsRequest(host, r.URL.Path):
			tbm.sendMetricsResponse(w)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (tbm *TelemetryBlackholeMiddleware) isStatsigRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}

	// Statsig paths show up on other hosts too.
	statsigPaths := []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
	}

	for _, statsigPath := range statsigPaths {
		if strings.HasPrefix(path, statsigPath) {
			return true
		}
	}

	return false
}

func (tbm *TelemetryBlackholeMiddleware) isMetricsRequest(host, path string) bool {
	if !strings.Contains(host, "api.anthropic.com") {
		return false
	}

	metricsPaths := []string{
		"/api/claude_code/metrics",
		"/claude_code/metrics",
	}

	for _, metricsPath := range metricsPaths {
		if strings.HasPrefix(path, metricsPath) {
			return true
		}
	}

	return false
}

func (tbm *TelemetryBlackholeMiddleware) sendStatsigResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"success":true}`))
}

func (tbm *TelemetryBlackholeMiddleware) sendMetricsResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"accepted_count":0,"rejected_count":0}`))
}
