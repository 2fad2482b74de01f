package translator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// stopReasonMap converts chat-completions finish reasons to Claude stop
// reasons.
var stopReasonMap = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"function_call":  "tool_use",
	"content_filter": "stop_sequence",
	"null":           "end_turn",
	"":               "end_turn",
}

// ConvertStopReason maps a backend finish reason to the Claude spelling,
// defaulting to end_turn.
func ConvertStopReason(reason string) *string {
	mapped, ok := stopReasonMap[reason]
	if !ok {
		mapped = "end_turn"
	}

	return &mapped
}

// errorTypeMap converts backend error types to Claude error types.
var errorTypeMap = map[string]string{
	"invalid_request_error":    "invalid_request_error",
	"authentication_error":     "authentication_error",
	"permission_error":         "permission_error",
	"not_found_error":          "not_found_error",
	"rate_limit_error":         "rate_limit_error",
	"api_error":                "api_error",
	"overloaded_error":         "overloaded_error",
	"insufficient_quota_error": "billing_error",
}

func convertErrorType(backendType string) string {
	if mapped, ok := errorTypeMap[backendType]; ok {
		return mapped
	}

	return "api_error"
}

// TranslateResponse converts a non-streaming chat-completions response back
// into the Claude Messages format, preserving tool-call ids so a following
// tool-result turn can correlate.
func TranslateResponse(resp *ChatResponse) (*MessagesResponse, error) {
	if resp == nil {
		return nil, errors.New("nil backend response")
	}

	if resp.Error != nil {
		return &MessagesResponse{
			ID:    resp.ID,
			Type:  "error",
			Model: resp.Model,
			Error: &MessagesError{
				Type:    convertErrorType(resp.Error.Type),
				Message: resp.Error.Message,
			},
		}, nil
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in backend response")
	}

	choice := resp.Choices[0]

	body := choice.Message
	if body == nil {
		body = choice.Delta
	}

	if body == nil {
		return nil, errors.New("no message in backend choice")
	}

	content, err := convertChoiceContent(body)
	if err != nil {
		return nil, err
	}

	out := &MessagesResponse{
		ID:      resp.ID,
		Type:    "message",
		Role:    RoleAssistant,
		Model:   resp.Model,
		Content: content,
	}

	if choice.FinishReason != nil {
		out.StopReason = ConvertStopReason(*choice.FinishReason)
	}

	if resp.Usage != nil {
		out.Usage = convertUsage(resp.Usage)
	}

	return out, nil
}

func convertChoiceContent(body *ChatChoiceBody) ([]ResponseBlock, error) {
	var content []ResponseBlock

	if body.Content != nil && *body.Content != "" {
		content = append(content, ResponseBlock{
			Type: BlockText,
			Text: body.Content,
		})
	}

	for _, call := range body.ToolCalls {
		if call.Function == nil {
			continue
		}

		input, err := parseArguments(call.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool call %q: %w", call.ID, err)
		}

		id := toToolUseID(call.ID)
		name := call.Function.Name
		content = append(content, ResponseBlock{
			Type:  BlockToolUse,
			ID:    &id,
			Name:  &name,
			Input: input,
		})
	}

	// Legacy single-function form some backends still emit.
	if body.FunctionCall != nil {
		input, err := parseArguments(body.FunctionCall.Arguments)
		if err != nil {
			return nil, fmt.Errorf("function call: %w", err)
		}

		id := "toolu_" + uuid.NewString()
		name := body.FunctionCall.Name
		content = append(content, ResponseBlock{
			Type:  BlockToolUse,
			ID:    &id,
			Name:  &name,
			Input: input,
		})
	}

	if len(content) == 0 {
		empty := ""
		content = append(content, ResponseBlock{Type: BlockText, Text: &empty})
	}

	return content, nil
}

func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	return input, nil
}

func convertUsage(usage *ChatUsage) *MessagesUsage {
	out := &MessagesUsage{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}

	if usage.PromptTokensDetails != nil && usage.PromptTokensDetails.CachedTokens > 0 {
		cached := usage.PromptTokensDetails.CachedTokens
		out.CacheReadInputTokens = &cached
	}

	return out
}
