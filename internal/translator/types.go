// Package translator converts between the Claude Messages wire format used
// by inbound clients and the OpenAI chat-completions format spoken by the
// routed backends, in both directions including streams.
package translator

import (
	"encoding/json"
	"fmt"
)

// Claude-side role and block type constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	BlockText             = "text"
	BlockImage            = "image"
	BlockToolUse          = "tool_use"
	BlockToolResult       = "tool_result"
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
)

// ValidationError reports a malformed inbound request. It is raised before
// any network attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// MessagesRequest is the inbound Claude-style request body.
type MessagesRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []Message       `json:"messages"`
	System        SystemPrompt    `json:"system,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// Message is one inbound conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent accepts both the plain-string and block-array content forms.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.IsText = true

		return nil
	}

	c.IsText = false

	return json.Unmarshal(data, &c.Blocks)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}

	return json.Marshal(c.Blocks)
}

// ContentBlock is one element of block-array content. Fields are populated
// according to Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text / thinking
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource is the Claude image block payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SystemPrompt accepts the string and block-array forms of the system field.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
	Set    bool
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	s.Set = true

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		s.IsText = true

		return nil
	}

	s.IsText = false

	return json.Unmarshal(data, &s.Blocks)
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.IsText {
		return json.Marshal(s.Text)
	}

	return json.Marshal(s.Blocks)
}

// Tool is a Claude-style tool definition.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolChoice is the inbound tool selection directive.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ThinkingConfig is the inbound explicit thinking request.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
	Budget       int    `json:"budget,omitempty"`
}

// Enabled reports whether the client asked for thinking, and the budget it
// requested. Both field spellings seen in the wild are honored.
func (t *ThinkingConfig) Enabled() (int, bool) {
	if t == nil || t.Type != "enabled" {
		return 0, false
	}

	if t.BudgetTokens > 0 {
		return t.BudgetTokens, true
	}

	return t.Budget, t.Budget > 0
}

// ChatRequest is the outbound chat-completions request. Recognized optional
// parameters are named fields; there is no generic side-channel map.
type ChatRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	Tools               []ChatTool      `json:"tools,omitempty"`
	ToolChoice          *ChatToolChoice `json:"tool_choice,omitempty"`
	ExtraBody           *ExtraBody      `json:"extra_body,omitempty"`
}

// ChatMessage is one outbound message. Content marshals as a string, a parts
// array, or null — null is deliberate for assistant turns that carry only
// tool calls.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    *ChatContent   `json:"content"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ChatContent is either plain text or a multimodal parts array.
type ChatContent struct {
	Text  string
	Parts []ChatContentPart
}

func (c ChatContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}

	return json.Marshal(c.Text)
}

func (c *ChatContent) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &c.Text); err == nil {
		return nil
	}

	return json.Unmarshal(data, &c.Parts)
}

// TextContent wraps a plain string as message content.
func TextContent(text string) *ChatContent {
	return &ChatContent{Text: text}
}

// ChatContentPart is one element of a multimodal parts array.
type ChatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ChatImageURL `json:"image_url,omitempty"`
}

// ChatImageURL carries an image as a data URI or remote URL.
type ChatImageURL struct {
	URL string `json:"url"`
}

// ChatToolCall is an outbound function invocation on an assistant message.
type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatFunctionCall `json:"function"`
}

// ChatFunctionCall carries the function name and JSON-serialized arguments.
type ChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatTool is an outbound function-call schema.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

// ChatFunction describes one callable function.
type ChatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatToolChoice marshals as the string "auto" or, when Name is set, as a
// forced single-function choice object.
type ChatToolChoice struct {
	Name string
}

func (c ChatToolChoice) MarshalJSON() ([]byte, error) {
	if c.Name == "" {
		return json.Marshal("auto")
	}

	return json.Marshal(map[string]any{
		"type":     "function",
		"function": map[string]string{"name": c.Name},
	})
}

func (c *ChatToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Name = ""
		return nil
	}

	var forced struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}

	if err := json.Unmarshal(data, &forced); err != nil {
		return err
	}

	c.Name = forced.Function.Name

	return nil
}

// ExtraBody carries provider-specific parameters outside the portable
// chat-completions surface. Exactly one shape is populated per request,
// chosen by the reasoning spec's tag.
type ExtraBody struct {
	Reasoning        *ReasoningOptions `json:"reasoning,omitempty"`
	GenerationConfig *GenerationConfig `json:"generation_config,omitempty"`
}

// ReasoningOptions is the OpenAI/Anthropic-style reasoning side channel.
type ReasoningOptions struct {
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Exclude   bool   `json:"exclude,omitempty"`
}

// GenerationConfig is the Gemini-style nested generation configuration.
type GenerationConfig struct {
	ThinkingConfig *ThinkingBudget `json:"thinking_config,omitempty"`
}

// ThinkingBudget is Gemini's thinking allocation.
type ThinkingBudget struct {
	ThinkingBudget  int  `json:"thinking_budget"`
	IncludeThoughts bool `json:"include_thoughts,omitempty"`
}

// ChatResponse is a non-streaming chat-completions response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices,omitempty"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
	Error   *ChatError   `json:"error,omitempty"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int              `json:"index"`
	Message      *ChatChoiceBody  `json:"message,omitempty"`
	Delta        *ChatChoiceBody  `json:"delta,omitempty"`
	FinishReason *string          `json:"finish_reason,omitempty"`
	Logprobs     *json.RawMessage `json:"logprobs,omitempty"`
}

// ChatChoiceBody is the message (or streaming delta) of a choice.
type ChatChoiceBody struct {
	Role         string             `json:"role,omitempty"`
	Content      *string            `json:"content,omitempty"`
	ToolCalls    []ToolCallDelta    `json:"tool_calls,omitempty"`
	FunctionCall *ChatFunctionDelta `json:"function_call,omitempty"`
}

// ToolCallDelta is a complete or incremental tool-call fragment.
type ToolCallDelta struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *ChatFunctionDelta `json:"function,omitempty"`
}

// ChatFunctionDelta carries a name and an argument fragment.
type ChatFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatUsage is the backend's token accounting.
type ChatUsage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	PromptTokensDetails *PromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

// PromptTokensDetails breaks down prompt token usage.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// ChatError is a backend error payload.
type ChatError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatStreamChunk is one SSE data payload of a streaming completion.
type ChatStreamChunk struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices,omitempty"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// MessagesResponse is the Claude-format response returned to the client.
type MessagesResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role,omitempty"`
	Model        string          `json:"model"`
	Content      []ResponseBlock `json:"content,omitempty"`
	StopReason   *string         `json:"stop_reason,omitempty"`
	StopSequence *string         `json:"stop_sequence,omitempty"`
	Usage        *MessagesUsage  `json:"usage,omitempty"`
	Error        *MessagesError  `json:"error,omitempty"`
}

// ResponseBlock is one Claude content block in a response.
type ResponseBlock struct {
	Type  string         `json:"type"`
	Text  *string        `json:"text,omitempty"`
	ID    *string        `json:"id,omitempty"`
	Name  *string        `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// MessagesUsage is Claude-format token accounting.
type MessagesUsage struct {
	InputTokens          int  `json:"input_tokens"`
	OutputTokens         int  `json:"output_tokens"`
	CacheReadInputTokens *int `json:"cache_read_input_tokens,omitempty"`
}

// MessagesError is a Claude-format error payload.
type MessagesError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
