package handlers

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobridge/cobridge/internal/breaker"
	"github.com/cobridge/cobridge/internal/config"
	"github.com/cobridge/cobridge/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConfig(t *testing.T, upstreamURL string) *config.Manager {
	t.Helper()

	manager := config.NewManager(t.TempDir())
	require.NoError(t, manager.Save(&config.Config{
		Providers: []config.Provider{
			{Name: "mock", APIBase: upstreamURL, APIKey: "sk-test"},
		},
		Router: config.RouterConfig{
			Big:     "mock,gpt-4o",
			Middle:  "mock,gpt-4o-mini",
			Small:   "mock,gpt-4o-mini",
			Default: "mock,gpt-4o",
		},
	}))

	return manager
}

func newTestHandler(t *testing.T, upstreamURL string, settings breaker.Settings) *ProxyHandler {
	t.Helper()

	logger := discardLogger()

	return NewProxyHandler(
		newTestConfig(t, upstreamURL),
		breaker.NewRegistry(settings),
		usage.NewRecorder(logger),
		logger,
	)
}

func claudeRequest(model string) []byte {
	return []byte(fmt.Sprintf(`{
		"model": %q,
		"max_tokens": 1024,
		"messages": [{"role": "user", "content": "hello"}]
	}`, model))
}

func TestProxyHandler_EndToEnd(t *testing.T) {
	var upstreamBody []byte

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "Hi!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3}
		}`)
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL, breaker.DefaultSettings)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(claudeRequest("claude-opus-4"))))

	require.Equal(t, http.StatusOK, rec.Code)

	// The tier route sent gpt-4o upstream.
	var sent map[string]any
	require.NoError(t, json.Unmarshal(upstreamBody, &sent))
	assert.Equal(t, "gpt-4o", sent["model"])

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp["type"])
	assert.Equal(t, "end_turn", resp["stop_reason"])

	content := resp["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "Hi!", content[0].(map[string]any)["text"])
}

func TestProxyHandler_InvalidRequest(t *testing.T) {
	handler := newTestHandler(t, "http://unreachable.invalid", breaker.DefaultSettings)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"gpt-4o","max_tokens":0,"messages":[]}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "invalid_request_error", resp["error"].(map[string]any)["type"])
}

func TestProxyHandler_InvalidSuffix(t *testing.T) {
	handler := newTestHandler(t, "http://unreachable.invalid", breaker.DefaultSettings)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(claudeRequest("o4-mini:extreme"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyHandler_BreakerOpens(t *testing.T) {
	var hits atomic.Int32

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL, breaker.Settings{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(claudeRequest("gpt-4o"))))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	require.Equal(t, int32(3), hits.Load())

	// Breaker is now open; the upstream must not see this request.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(claudeRequest("gpt-4o"))))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int32(3), hits.Load())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "overloaded_error", resp["error"].(map[string]any)["type"])
}

func TestProxyHandler_ClientErrorsLeaveBreakerClosed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"id":"e1","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer upstream.Close()

	breakers := breaker.NewRegistry(breaker.Settings{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	logger := discardLogger()
	handler := NewProxyHandler(newTestConfig(t, upstream.URL), breakers, usage.NewRecorder(logger), logger)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(claudeRequest("gpt-4o"))))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "rate_limit_error", resp["error"].(map[string]any)["type"])
	}

	assert.Equal(t, breaker.StateClosed, breakers.Get("mock").State())
}

func TestProxyHandler_Streaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		chunks := []string{
			`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"content":"lo"}}]}`,
			`{"id":"c1","model":"gpt-4o","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL, breaker.DefaultSettings)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{
		"model": "gpt-4o",
		"max_tokens": 256,
		"stream": true,
		"messages": [{"role": "user", "content": "hello"}]
	}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	body := rec.Body.String()
	for _, event := range []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"} {
		assert.Contains(t, body, "event: "+event)
	}
	assert.Contains(t, body, `"text":"Hel"`)
	assert.Contains(t, body, `"stop_reason":"end_turn"`)
}

func TestProxyHandler_GzipUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(`{"id":"c1","model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"compressed"},"finish_reason":"stop"}]}`))
		gz.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL, breaker.DefaultSettings)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(claudeRequest("gpt-4o"))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "compressed")
}

func TestProxyHandler_UnknownProvider(t *testing.T) {
	manager := config.NewManager(t.TempDir())
	require.NoError(t, manager.Save(&config.Config{
		Providers: []config.Provider{{Name: "mock", APIBase: "http://unreachable.invalid"}},
		Router:    config.RouterConfig{Big: "missing,gpt-4o"},
	}))

	logger := discardLogger()
	handler := NewProxyHandler(manager, breaker.NewRegistry(breaker.DefaultSettings), usage.NewRecorder(logger), logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(claudeRequest("claude-opus-4"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
