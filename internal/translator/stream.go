package translator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StreamState carries the conversion state for one streaming response. The
// stream is re-emitted in order; the only buffering is the per-tool-call
// argument accumulation needed to detect fragment boundaries.
type StreamState struct {
	MessageStartSent bool
	MessageID        string
	Model            string

	blocks    map[int]*blockState
	textIndex int
}

// NewStreamState creates the state for one response stream.
func NewStreamState() *StreamState {
	return &StreamState{
		blocks:    make(map[int]*blockState),
		textIndex: -1,
	}
}

type blockState struct {
	kind         string
	startSent    bool
	stopSent     bool
	callID       string
	callIndex    int
	hasCallIndex bool
	name         string
	arguments    string
}

// TranslateStreamChunk converts one chat-completions stream payload into the
// Claude SSE events it implies. The returned bytes are zero or more complete
// "event: ...\ndata: ...\n\n" frames.
func TranslateStreamChunk(data []byte, state *StreamState) ([]byte, error) {
	var chunk ChatStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal stream chunk: %w", err)
	}

	if state.MessageID == "" {
		state.MessageID = chunk.ID
	}

	if state.Model == "" {
		state.Model = chunk.Model
	}

	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	var events []byte

	if !state.MessageStartSent {
		events = append(events, formatSSE("message_start", messageStartEvent(state, chunk.Usage))...)
		state.MessageStartSent = true
	}

	choice := chunk.Choices[0]

	if delta := choice.Delta; delta != nil {
		if len(delta.ToolCalls) > 0 {
			events = append(events, handleToolCallDeltas(delta.ToolCalls, state)...)
		} else if delta.Content != nil && *delta.Content != "" {
			events = append(events, handleTextDelta(*delta.Content, state)...)
		}
	}

	if choice.FinishReason != nil {
		events = append(events, handleFinish(*choice.FinishReason, chunk.Usage, state)...)
	}

	return events, nil
}

func messageStartEvent(state *StreamState, usage *ChatUsage) map[string]any {
	startUsage := map[string]any{
		"input_tokens":  0,
		"output_tokens": 1,
	}

	if usage != nil {
		startUsage["input_tokens"] = usage.PromptTokens

		if usage.PromptTokensDetails != nil && usage.PromptTokensDetails.CachedTokens > 0 {
			startUsage["cache_read_input_tokens"] = usage.PromptTokensDetails.CachedTokens
		}
	}

	return map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            state.MessageID,
			"type":          "message",
			"role":          RoleAssistant,
			"model":         state.Model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         startUsage,
		},
	}
}

func handleTextDelta(text string, state *StreamState) []byte {
	var events []byte

	if state.textIndex < 0 {
		state.textIndex = len(state.blocks)
		state.blocks[state.textIndex] = &blockState{kind: BlockText}
	}

	block := state.blocks[state.textIndex]

	if !block.startSent {
		events = append(events, formatSSE("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": state.textIndex,
			"content_block": map[string]any{
				"type": BlockText,
				"text": "",
			},
		})...)
		block.startSent = true
	}

	events = append(events, formatSSE("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": state.textIndex,
		"delta": map[string]any{
			"type": "text_delta",
			"text": text,
		},
	})...)

	return events
}

func handleToolCallDeltas(calls []ToolCallDelta, state *StreamState) []byte {
	var events []byte

	for _, call := range calls {
		events = append(events, handleToolCallDelta(call, state)...)
	}

	return events
}

func handleToolCallDelta(call ToolCallDelta, state *StreamState) []byte {
	index, ok := findOrCreateToolBlock(call, state)
	if !ok {
		return nil
	}

	block := state.blocks[index]

	var events []byte

	if call.Function != nil && call.Function.Name != "" {
		block.name = call.Function.Name
	}

	// The start event waits until both id and name are known.
	if !block.startSent && block.callID != "" && block.name != "" {
		events = append(events, formatSSE("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": index,
			"content_block": map[string]any{
				"type":  BlockToolUse,
				"id":    toToolUseID(block.callID),
				"name":  block.name,
				"input": map[string]any{},
			},
		})...)
		block.startSent = true
	}

	if call.Function != nil && call.Function.Arguments != "" {
		fragment := argumentsFragment(call.Function.Arguments, block)
		if fragment != "" {
			events = append(events, formatSSE("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": index,
				"delta": map[string]any{
					"type":         "input_json_delta",
					"partial_json": fragment,
				},
			})...)
		}
	}

	return events
}

// findOrCreateToolBlock locates the content block a fragment belongs to by
// tool-call index first, then by id; a fragment carrying a fresh id opens a
// new block.
func findOrCreateToolBlock(call ToolCallDelta, state *StreamState) (int, bool) {
	if call.Index != nil {
		for idx, block := range state.blocks {
			if block.kind == BlockToolUse && block.hasCallIndex && block.callIndex == *call.Index {
				return idx, true
			}
		}
	}

	if call.ID != "" {
		for idx, block := range state.blocks {
			if block.kind == BlockToolUse && block.callID == call.ID {
				return idx, true
			}
		}

		idx := len(state.blocks)
		block := &blockState{
			kind:   BlockToolUse,
			callID: call.ID,
		}

		if call.Index != nil {
			block.callIndex = *call.Index
			block.hasCallIndex = true
		}

		if call.Function != nil {
			block.name = call.Function.Name
		}

		state.blocks[idx] = block

		return idx, true
	}

	return 0, false
}

// argumentsFragment returns the new portion of the accumulated arguments.
// Backends that resend the full prefix on every chunk are detected and only
// the suffix is emitted; true fragments pass through as-is.
func argumentsFragment(incoming string, block *blockState) string {
	if strings.HasPrefix(incoming, block.arguments) && len(incoming) > len(block.arguments) {
		fragment := incoming[len(block.arguments):]
		block.arguments = incoming

		return fragment
	}

	block.arguments += incoming

	return incoming
}

func handleFinish(reason string, usage *ChatUsage, state *StreamState) []byte {
	var events []byte

	for index, block := range state.blocks {
		if block.startSent && !block.stopSent {
			events = append(events, formatSSE("content_block_stop", map[string]any{
				"type":  "content_block_stop",
				"index": index,
			})...)
			block.stopSent = true
		}
	}

	messageDelta := map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   ConvertStopReason(reason),
			"stop_sequence": nil,
		},
	}

	if usage != nil {
		messageDelta["usage"] = map[string]any{
			"input_tokens":  usage.PromptTokens,
			"output_tokens": usage.CompletionTokens,
		}
	}

	events = append(events, formatSSE("message_delta", messageDelta)...)
	events = append(events, formatSSE("message_stop", map[string]any{"type": "message_stop"})...)

	return events
}

func formatSSE(eventType string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal event\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))
}
