package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestTranslateResponse_Text(t *testing.T) {
	finish := "stop"
	resp := &ChatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o",
		Choices: []ChatChoice{{
			Message:      &ChatChoiceBody{Role: RoleAssistant, Content: strPtr("Hello there.")},
			FinishReason: &finish,
		}},
		Usage: &ChatUsage{PromptTokens: 12, CompletionTokens: 4},
	}

	out, err := TranslateResponse(resp)
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", out.ID)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, RoleAssistant, out.Role)
	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockText, out.Content[0].Type)
	assert.Equal(t, "Hello there.", *out.Content[0].Text)
	require.NotNil(t, out.StopReason)
	assert.Equal(t, "end_turn", *out.StopReason)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 4, out.Usage.OutputTokens)
}

func TestTranslateResponse_ToolCallPreservesID(t *testing.T) {
	finish := "tool_calls"
	resp := &ChatResponse{
		ID:    "chatcmpl-2",
		Model: "gpt-4o",
		Choices: []ChatChoice{{
			Message: &ChatChoiceBody{
				Role: RoleAssistant,
				ToolCalls: []ToolCallDelta{{
					ID:   "call_abc123",
					Type: "function",
					Function: &ChatFunctionDelta{
						Name:      "get_weather",
						Arguments: `{"location":"Berlin"}`,
					},
				}},
			},
			FinishReason: &finish,
		}},
	}

	out, err := TranslateResponse(resp)
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	block := out.Content[0]
	assert.Equal(t, BlockToolUse, block.Type)
	assert.Equal(t, "toolu_abc123", *block.ID)
	assert.Equal(t, "get_weather", *block.Name)
	assert.Equal(t, map[string]any{"location": "Berlin"}, block.Input)
	assert.Equal(t, "tool_use", *out.StopReason)
}

func TestToolCallID_RoundTrip(t *testing.T) {
	// An id that left through a tool_calls entry must come back identical
	// when the client replies with a tool_result.
	assert.Equal(t, "call_xyz", toCallID(toToolUseID("call_xyz")))
	assert.Equal(t, "toolu_xyz", toToolUseID(toCallID("toolu_xyz")))
}

func TestTranslateResponse_MixedContent(t *testing.T) {
	resp := &ChatResponse{
		ID:    "chatcmpl-3",
		Model: "gpt-4o",
		Choices: []ChatChoice{{
			Message: &ChatChoiceBody{
				Role:    RoleAssistant,
				Content: strPtr("Checking the weather."),
				ToolCalls: []ToolCallDelta{{
					ID:       "call_1",
					Function: &ChatFunctionDelta{Name: "get_weather", Arguments: `{}`},
				}},
			},
		}},
	}

	out, err := TranslateResponse(resp)
	require.NoError(t, err)

	require.Len(t, out.Content, 2)
	assert.Equal(t, BlockText, out.Content[0].Type)
	assert.Equal(t, BlockToolUse, out.Content[1].Type)
}

func TestTranslateResponse_LegacyFunctionCall(t *testing.T) {
	resp := &ChatResponse{
		ID:    "chatcmpl-4",
		Model: "gpt-4o",
		Choices: []ChatChoice{{
			Message: &ChatChoiceBody{
				Role:         RoleAssistant,
				FunctionCall: &ChatFunctionDelta{Name: "search", Arguments: `{"q":"go"}`},
			},
		}},
	}

	out, err := TranslateResponse(resp)
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockToolUse, out.Content[0].Type)
	assert.Equal(t, "search", *out.Content[0].Name)
	assert.NotEmpty(t, *out.Content[0].ID)
}

func TestTranslateResponse_Error(t *testing.T) {
	resp := &ChatResponse{
		ID:    "err-1",
		Model: "gpt-4o",
		Error: &ChatError{Type: "insufficient_quota_error", Message: "out of credits"},
	}

	out, err := TranslateResponse(resp)
	require.NoError(t, err)

	assert.Equal(t, "error", out.Type)
	require.NotNil(t, out.Error)
	assert.Equal(t, "billing_error", out.Error.Type)
	assert.Equal(t, "out of credits", out.Error.Message)
}

func TestTranslateResponse_EmptyChoicesFails(t *testing.T) {
	_, err := TranslateResponse(&ChatResponse{ID: "x"})
	assert.Error(t, err)

	_, err = TranslateResponse(nil)
	assert.Error(t, err)
}

func TestTranslateResponse_EmptyMessageGetsEmptyTextBlock(t *testing.T) {
	resp := &ChatResponse{
		ID:      "chatcmpl-5",
		Model:   "gpt-4o",
		Choices: []ChatChoice{{Message: &ChatChoiceBody{Role: RoleAssistant}}},
	}

	out, err := TranslateResponse(resp)
	require.NoError(t, err)

	require.Len(t, out.Content, 1)
	assert.Equal(t, BlockText, out.Content[0].Type)
	assert.Equal(t, "", *out.Content[0].Text)
}

func TestTranslateResponse_CachedTokens(t *testing.T) {
	resp := &ChatResponse{
		ID:    "chatcmpl-6",
		Model: "gpt-4o",
		Choices: []ChatChoice{{
			Message: &ChatChoiceBody{Role: RoleAssistant, Content: strPtr("hi")},
		}},
		Usage: &ChatUsage{
			PromptTokens:        100,
			CompletionTokens:    5,
			PromptTokensDetails: &PromptTokensDetails{CachedTokens: 60},
		},
	}

	out, err := TranslateResponse(resp)
	require.NoError(t, err)

	require.NotNil(t, out.Usage.CacheReadInputTokens)
	assert.Equal(t, 60, *out.Usage.CacheReadInputTokens)
}

func TestConvertStopReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"tool_calls", "tool_use"},
		{"function_call", "tool_use"},
		{"content_filter", "stop_sequence"},
		{"", "end_turn"},
		{"something_new", "end_turn"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, *ConvertStopReason(tt.in), "reason %q", tt.in)
	}
}
