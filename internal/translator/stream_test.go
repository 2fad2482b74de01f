package translator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseSSE splits emitted bytes into (event, decoded data) pairs.
func parseSSE(t *testing.T, raw []byte) []sseEvent {
	t.Helper()

	var events []sseEvent

	for _, frame := range strings.Split(string(raw), "\n\n") {
		if strings.TrimSpace(frame) == "" {
			continue
		}

		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2, "frame %q", frame)

		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &data))

		events = append(events, sseEvent{
			name: strings.TrimPrefix(lines[0], "event: "),
			data: data,
		})
	}

	return events
}

type sseEvent struct {
	name string
	data map[string]any
}

func feed(t *testing.T, state *StreamState, chunks ...string) []sseEvent {
	t.Helper()

	var out []byte

	for _, chunk := range chunks {
		events, err := TranslateStreamChunk([]byte(chunk), state)
		require.NoError(t, err)

		out = append(out, events...)
	}

	return parseSSE(t, out)
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.name)
	}

	return names
}

func TestTranslateStreamChunk_TextStream(t *testing.T) {
	state := NewStreamState()

	events := feed(t, state,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2}}`,
	)

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	start := events[0].data["message"].(map[string]any)
	assert.Equal(t, "chatcmpl-1", start["id"])
	assert.Equal(t, "gpt-4o", start["model"])

	delta := events[2].data["delta"].(map[string]any)
	assert.Equal(t, "text_delta", delta["type"])
	assert.Equal(t, "Hel", delta["text"])

	messageDelta := events[5].data["delta"].(map[string]any)
	assert.Equal(t, "end_turn", messageDelta["stop_reason"])

	usage := events[5].data["usage"].(map[string]any)
	assert.Equal(t, float64(10), usage["input_tokens"])
	assert.Equal(t, float64(2), usage["output_tokens"])
}

func TestTranslateStreamChunk_ToolCallAssembly(t *testing.T) {
	state := NewStreamState()

	events := feed(t, state,
		`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_w1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"loc"}}]}}]}`,
		`{"id":"c1","model":"gpt-4o","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ation\":\"Berlin\"}"}}]}}]}`,
		`{"id":"c1","model":"gpt-4o","choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	names := eventNames(events)
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)

	blockStart := events[1].data["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", blockStart["type"])
	assert.Equal(t, "toolu_w1", blockStart["id"])
	assert.Equal(t, "get_weather", blockStart["name"])

	var args strings.Builder

	for _, e := range events {
		if e.name != "content_block_delta" {
			continue
		}

		delta := e.data["delta"].(map[string]any)
		require.Equal(t, "input_json_delta", delta["type"])
		args.WriteString(delta["partial_json"].(string))
	}

	assert.JSONEq(t, `{"location":"Berlin"}`, args.String())

	messageDelta := events[5].data["delta"].(map[string]any)
	assert.Equal(t, "tool_use", messageDelta["stop_reason"])
}

func TestTranslateStreamChunk_CumulativeArguments(t *testing.T) {
	// Some backends resend the whole accumulated argument string each chunk;
	// only the new suffix may be emitted.
	state := NewStreamState()

	events := feed(t, state,
		`{"id":"c2","model":"m","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"f","arguments":"{\"a\""}}]}}]}`,
		`{"id":"c2","model":"m","choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":1}"}}]}}]}`,
	)

	var fragments []string

	for _, e := range events {
		if e.name == "content_block_delta" {
			fragments = append(fragments, e.data["delta"].(map[string]any)["partial_json"].(string))
		}
	}

	assert.Equal(t, []string{`{"a"`, `:1}`}, fragments)
}

func TestTranslateStreamChunk_TextThenToolCall(t *testing.T) {
	state := NewStreamState()

	events := feed(t, state,
		`{"id":"c3","model":"m","choices":[{"delta":{"content":"Let me check."}}]}`,
		`{"id":"c3","model":"m","choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_2","function":{"name":"lookup","arguments":"{}"}}]}}]}`,
		`{"id":"c3","model":"m","choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	// Text occupies block 0, the tool call block 1.
	var indices []float64

	for _, e := range events {
		if e.name == "content_block_start" {
			indices = append(indices, e.data["index"].(float64))
		}
	}

	assert.Equal(t, []float64{0, 1}, indices)

	// Both blocks are closed at the end.
	var stops int

	for _, e := range events {
		if e.name == "content_block_stop" {
			stops++
		}
	}

	assert.Equal(t, 2, stops)
}

func TestTranslateStreamChunk_EmptyChoices(t *testing.T) {
	state := NewStreamState()

	events, err := TranslateStreamChunk([]byte(`{"id":"c4","model":"m","choices":[]}`), state)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTranslateStreamChunk_MalformedChunk(t *testing.T) {
	state := NewStreamState()

	_, err := TranslateStreamChunk([]byte(`not json`), state)
	assert.Error(t, err)
}

func TestTranslateStreamChunk_MessageStartOnce(t *testing.T) {
	state := NewStreamState()

	events := feed(t, state,
		`{"id":"c5","model":"m","choices":[{"delta":{"content":"a"}}]}`,
		`{"id":"c5","model":"m","choices":[{"delta":{"content":"b"}}]}`,
	)

	var starts int

	for _, e := range events {
		if e.name == "message_start" {
			starts++
		}
	}

	assert.Equal(t, 1, starts)
}
