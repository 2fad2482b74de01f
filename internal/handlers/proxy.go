package handlers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/cobridge/cobridge/internal/breaker"
	"github.com/cobridge/cobridge/internal/config"
	"github.com/cobridge/cobridge/internal/reasoning"
	"github.com/cobridge/cobridge/internal/router"
	"github.com/cobridge/cobridge/internal/translator"
	"github.com/cobridge/cobridge/internal/usage"
)

// ProxyHandler accepts Claude Messages requests, translates them to the
// chat-completions format, forwards them to the routed backend through its
// circuit breaker, and translates the response back.
type ProxyHandler struct {
	config   *config.Manager
	breakers *breaker.Registry
	usage    *usage.Recorder
	logger   *slog.Logger
	client   *http.Client
}

func NewProxyHandler(config *config.Manager, breakers *breaker.Registry, recorder *usage.Recorder, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		config:   config,
		breakers: breakers,
		usage:    recorder,
		logger:   logger,
		client:   &http.Client{},
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := h.config.Get()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.claudeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body: %v", err)
		return
	}

	var req translator.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.claudeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: %v", err)
		return
	}

	result, err := translator.TranslateRequest(&req, h.translateOptions(cfg))
	if err != nil {
		h.claudeError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	for _, warning := range result.Warnings {
		h.logger.Warn("Request translation", "warning", warning)
	}

	providerConfig, err := h.resolveProvider(result, cfg)
	if err != nil {
		h.claudeError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	outBody, err := json.Marshal(result.Request)
	if err != nil {
		h.claudeError(w, http.StatusInternalServerError, "api_error", "marshal upstream request: %v", err)
		return
	}

	inputEstimate := usage.EstimateTokens(string(outBody))

	h.logger.Info("Proxying request",
		"provider", providerConfig.Name,
		"model", result.Request.Model,
		"tier", result.Route.Tier.String(),
		"url", providerConfig.APIBase,
		"stream", result.Request.Stream,
		"input_tokens_estimate", inputEstimate,
	)

	var resp *http.Response

	err = h.breakers.Execute(providerConfig.Name, func() error {
		upstream, reqErr := http.NewRequestWithContext(r.Context(), http.MethodPost, providerConfig.APIBase, bytes.NewReader(outBody))
		if reqErr != nil {
			return reqErr
		}

		upstream.Header.Set("Content-Type", "application/json")
		upstream.Header.Set("Accept", "application/json, text/event-stream")
		if providerConfig.APIKey != "" {
			upstream.Header.Set("Authorization", "Bearer "+providerConfig.APIKey)
		}

		var doErr error
		resp, doErr = h.client.Do(upstream)
		if doErr != nil {
			return doErr
		}

		// Server-side failures trip the breaker; client errors are the
		// caller's problem and leave it closed.
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}

		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, breaker.ErrOpen):
			h.claudeError(w, http.StatusServiceUnavailable, "overloaded_error", "%v", err)
		case resp != nil:
			// The 5xx body still flows back to the client, translated.
			defer resp.Body.Close()
			h.handleResponse(w, resp, providerConfig.Name, result, start)
		default:
			h.claudeError(w, http.StatusBadGateway, "api_error", "upstream request failed: %v", err)
		}

		return
	}

	defer resp.Body.Close()

	if isEventStream(resp.Header) {
		h.handleStreamingResponse(w, resp, providerConfig.Name, result, inputEstimate, start)
	} else {
		h.handleResponse(w, resp, providerConfig.Name, result, start)
	}
}

func (h *ProxyHandler) translateOptions(cfg *config.Config) translator.Options {
	return translator.Options{
		Tiers: router.TierMap{
			Big:    cfg.Router.Big,
			Middle: cfg.Router.Middle,
			Small:  cfg.Router.Small,
		},
		Reasoning: reasoning.Defaults{
			Effort:  cfg.Reasoning.DefaultEffort,
			Exclude: cfg.Reasoning.Exclude,
		},
		MinTokens:         cfg.Limits.MinTokens,
		MaxTokens:         cfg.Limits.MaxTokens,
		ToolOutputLimit:   cfg.ToolOutput.MaxChars,
		DisableTruncation: cfg.ToolOutput.Disable,
		StripOrphans:      cfg.StripOrphans,
		BaseURLFor: func(provider string) string {
			if p, ok := cfg.FindProvider(provider); ok {
				return p.APIBase
			}
			return ""
		},
	}
}

// resolveProvider picks the provider config entry for the routed backend.
// Unrouted passthrough models fall back to the configured default backend's
// provider.
func (h *ProxyHandler) resolveProvider(result *translator.Result, cfg *config.Config) (*config.Provider, error) {
	name := translator.ProviderPart(result.Route.BackendID)
	if name == "" {
		name = translator.ProviderPart(cfg.Router.Default)
	}

	if name == "" {
		if len(cfg.Providers) == 1 {
			return &cfg.Providers[0], nil
		}

		return nil, fmt.Errorf("no provider routed for model %q and no default configured", result.Request.Model)
	}

	provider, ok := cfg.FindProvider(name)
	if !ok {
		return nil, fmt.Errorf("provider %q not found in configuration", name)
	}

	return provider, nil
}

func (h *ProxyHandler) handleResponse(w http.ResponseWriter, resp *http.Response, provider string, result *translator.Result, start time.Time) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.claudeError(w, http.StatusBadGateway, "api_error", "decompression error: %v", err)
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		h.claudeError(w, http.StatusBadGateway, "api_error", "failed to read upstream response: %v", err)
		return
	}

	var chatResp translator.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		h.logger.Error("Unparseable upstream response", "error", err, "status", resp.StatusCode)

		// Error pages come back as plain text often enough; keep the
		// upstream status and wrap the body.
		if resp.StatusCode != http.StatusOK {
			h.claudeError(w, resp.StatusCode, "api_error", "upstream error: %s", strings.TrimSpace(string(respBody)))
			return
		}

		h.claudeError(w, http.StatusBadGateway, "api_error", "unparseable upstream response")
		return
	}

	translated, err := translator.TranslateResponse(&chatResp)
	if err != nil {
		h.logger.Error("Response translation failed", "error", err, "status", resp.StatusCode)
		h.claudeError(w, http.StatusBadGateway, "api_error", "response translation failed: %v", err)
		return
	}

	out, err := json.Marshal(translated)
	if err != nil {
		h.claudeError(w, http.StatusInternalServerError, "api_error", "marshal response: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(out)

	if resp.StatusCode == http.StatusOK && translated.Usage != nil {
		h.usage.Observe(usage.Record{
			Provider:     provider,
			Model:        result.Request.Model,
			InputTokens:  translated.Usage.InputTokens,
			OutputTokens: translated.Usage.OutputTokens,
			Duration:     time.Since(start),
		})
	}
}

func (h *ProxyHandler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, provider string, result *translator.Result, inputEstimate int, start time.Time) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.claudeError(w, http.StatusBadGateway, "api_error", "decompression error: %v", err)
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	var (
		state        = translator.NewStreamState()
		scanner      = bufio.NewScanner(bodyReader)
		inputTokens  int
		outputTokens int
	)

	// Backends that never send a usage chunk still get the estimate.
	inputTokens = inputEstimate

	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if line == "data: [DONE]" {
			break
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := []byte(strings.TrimPrefix(line, "data: "))

		events, err := translator.TranslateStreamChunk(payload, state)
		if err != nil {
			h.logger.Error("Stream translation error", "error", err)
			continue
		}

		if len(events) > 0 {
			w.Write(events)
			h.flushResponse(w)
		}

		inputTokens, outputTokens = accumulateStreamUsage(payload, inputTokens, outputTokens)
	}

	if err := scanner.Err(); err != nil {
		h.logger.Error("Stream scanning error", "error", err)
	}

	h.usage.Observe(usage.Record{
		Provider:     provider,
		Model:        result.Request.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Duration:     time.Since(start),
		Streamed:     true,
	})
}

func accumulateStreamUsage(payload []byte, inputTokens, outputTokens int) (int, int) {
	var chunk translator.ChatStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil || chunk.Usage == nil {
		return inputTokens, outputTokens
	}

	if chunk.Usage.PromptTokens > 0 {
		inputTokens = chunk.Usage.PromptTokens
	}

	if chunk.Usage.CompletionTokens > 0 {
		outputTokens = chunk.Usage.CompletionTokens
	}

	return inputTokens, outputTokens
}

func isEventStream(header http.Header) bool {
	return strings.Contains(header.Get("Content-Type"), "text/event-stream")
}

func (h *ProxyHandler) decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

func (h *ProxyHandler) flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ProxyHandler) claudeError(w http.ResponseWriter, code int, errType, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("Request failed", "code", code, "type", errType, "message", msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    errType,
			"message": msg,
		},
	})
}
