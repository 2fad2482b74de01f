package translator

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/cobridge/cobridge/internal/reasoning"
	"github.com/cobridge/cobridge/internal/router"
)

const (
	// DefaultToolOutputLimit caps a single tool-result body.
	DefaultToolOutputLimit = 50000

	// Backends that reject empty assistant content get this instead when a
	// turn held only thinking blocks.
	emptyContentPlaceholder = "..."

	// reasoningFirstTemperature is forced for models that reserve the
	// temperature knob for their reasoning channel.
	reasoningFirstTemperature = 1.0
)

// SystemOverride lets an external collaborator replace or augment the
// assembled system prompt based on the resolved tier.
type SystemOverride interface {
	Apply(tier router.Tier, system string) string
}

// Options carries the operator configuration the translator consumes. The
// zero value is usable: no tier mapping, truncation enabled at the default
// ceiling, orphans warned but forwarded.
type Options struct {
	Tiers     router.TierMap
	Reasoning reasoning.Defaults

	MinTokens int // floor for the outbound token cap; 0 means 1
	MaxTokens int // ceiling for the outbound token cap; 0 means uncapped

	ToolOutputLimit   int  // 0 means DefaultToolOutputLimit
	DisableTruncation bool // forward tool output untouched
	StripOrphans      bool // drop orphaned tool messages instead of warning

	// BaseURL of the chosen backend. Only consulted to pick the reasoning
	// side-channel shape for budget specs.
	BaseURL string

	// BaseURLFor resolves the backend URL from the routed provider name when
	// BaseURL is not set up front.
	BaseURLFor func(provider string) string

	Override SystemOverride
}

func (o Options) toolOutputLimit() int {
	if o.ToolOutputLimit > 0 {
		return o.ToolOutputLimit
	}

	return DefaultToolOutputLimit
}

// Result is a translated request plus everything the caller needs to route
// and observe it.
type Result struct {
	Request  *ChatRequest
	Route    router.ModelRoute
	Spec     reasoning.Spec
	Warnings []string
}

// TranslateRequest converts an inbound Claude-format request into an
// outbound chat-completions request. Validation failures and invalid
// reasoning suffixes return an error before anything touches the network;
// recoverable oddities (clamped budgets, orphaned tool results, truncation)
// surface as warnings on the Result.
func TranslateRequest(req *MessagesRequest, opts Options) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	base, spec, warnings, err := reasoning.Resolve(req.Model, opts.Reasoning)
	if err != nil {
		return nil, err
	}

	// An explicit thinking config fills in when the suffix did not.
	if spec.Kind == reasoning.KindNone {
		if budget, ok := req.Thinking.Enabled(); ok {
			if fromBudget, ok := reasoning.FromBudget(base, budget, opts.Reasoning.Exclude); ok {
				spec = fromBudget
			}
		}
	}

	route := router.Route(base, opts.Tiers)
	backendModel := modelPart(route.BackendID)

	out := &ChatRequest{
		Model:  backendModel,
		Stream: req.Stream,
		Stop:   req.StopSequences,
		TopP:   req.TopP,
	}

	if system := assembleSystem(req.System, route, opts); system != "" {
		out.Messages = append(out.Messages, ChatMessage{
			Role:    RoleSystem,
			Content: TextContent(system),
		})
	}

	msgs, msgWarnings := convertMessages(req.Messages, opts)
	out.Messages = append(out.Messages, msgs...)
	warnings = append(warnings, msgWarnings...)

	out.Messages, warnings = checkOrphans(out.Messages, opts.StripOrphans, warnings)

	out.Tools = convertTools(req.Tools)
	if len(out.Tools) > 0 {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	applyTokenLimits(out, req, base, opts)

	baseURL := opts.BaseURL
	if baseURL == "" && opts.BaseURLFor != nil {
		baseURL = opts.BaseURLFor(ProviderPart(route.BackendID))
	}

	injectReasoning(out, spec, baseURL)

	return &Result{
		Request:  out,
		Route:    route,
		Spec:     spec,
		Warnings: warnings,
	}, nil
}

func validate(req *MessagesRequest) error {
	switch {
	case req == nil:
		return &ValidationError{Field: "request", Reason: "missing body"}
	case req.Model == "":
		return &ValidationError{Field: "model", Reason: "required"}
	case len(req.Messages) == 0:
		return &ValidationError{Field: "messages", Reason: "at least one message is required"}
	case req.MaxTokens < 1:
		return &ValidationError{Field: "max_tokens", Reason: "must be at least 1"}
	default:
		return nil
	}
}

// assembleSystem concatenates the system text blocks with a blank line
// between them, then gives the override collaborator a chance to rewrite the
// result for the resolved tier.
func assembleSystem(system SystemPrompt, route router.ModelRoute, opts Options) string {
	var text string

	if system.IsText {
		text = system.Text
	} else {
		var parts []string

		for _, block := range system.Blocks {
			if block.Type == BlockText && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}

		text = strings.Join(parts, "\n\n")
	}

	if opts.Override != nil {
		text = opts.Override.Apply(router.TierOf(route.BackendID, opts.Tiers), text)
	}

	return text
}

func convertMessages(messages []Message, opts Options) ([]ChatMessage, []string) {
	var (
		out      []ChatMessage
		warnings []string
		seenIDs  = make(map[string]bool)
	)

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			converted, w := convertUserMessage(msg, seenIDs, opts)
			out = append(out, converted...)
			warnings = append(warnings, w...)
		case RoleAssistant:
			out = append(out, convertAssistantMessage(msg))
		default:
			// Unknown roles pass through as plain text turns.
			if msg.Content.IsText {
				out = append(out, ChatMessage{Role: msg.Role, Content: TextContent(msg.Content.Text)})
			}
		}
	}

	return out, warnings
}

// convertUserMessage explodes tool results into individual tool-role
// messages, then emits whatever visible content remains as a user turn.
func convertUserMessage(msg Message, seenIDs map[string]bool, opts Options) ([]ChatMessage, []string) {
	if msg.Content.IsText {
		return []ChatMessage{{Role: RoleUser, Content: TextContent(msg.Content.Text)}}, nil
	}

	var (
		out      []ChatMessage
		warnings []string
		visible  []ContentBlock
	)

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case BlockToolResult:
			if block.ToolUseID == "" {
				warnings = append(warnings, "tool_result block without tool_use_id dropped")
				continue
			}

			callID := toCallID(block.ToolUseID)
			if seenIDs[callID] {
				warnings = append(warnings, fmt.Sprintf("duplicate tool_result id %q dropped, keeping first", block.ToolUseID))
				continue
			}

			seenIDs[callID] = true

			body := normalizeToolResult(block.Content)
			if !opts.DisableTruncation {
				var truncated bool
				if body, truncated = truncateToolOutput(body, opts.toolOutputLimit()); truncated {
					warnings = append(warnings, fmt.Sprintf("tool result %q truncated to %d characters", block.ToolUseID, opts.toolOutputLimit()))
				}
			}

			out = append(out, ChatMessage{
				Role:       RoleTool,
				Content:    TextContent(body),
				ToolCallID: callID,
			})
		case BlockText, BlockImage:
			visible = append(visible, block)
		}
		// Anything else (thinking, unknown types) is dropped.
	}

	if userMsg, ok := buildUserContent(visible); ok {
		out = append(out, userMsg)
	}

	return out, warnings
}

func buildUserContent(blocks []ContentBlock) (ChatMessage, bool) {
	if len(blocks) == 0 {
		return ChatMessage{}, false
	}

	// A lone text block collapses back to a plain string.
	if len(blocks) == 1 && blocks[0].Type == BlockText {
		return ChatMessage{Role: RoleUser, Content: TextContent(blocks[0].Text)}, true
	}

	var parts []ChatContentPart

	for _, block := range blocks {
		switch block.Type {
		case BlockText:
			parts = append(parts, ChatContentPart{Type: "text", Text: block.Text})
		case BlockImage:
			if block.Source == nil {
				continue
			}

			parts = append(parts, ChatContentPart{
				Type:     "image_url",
				ImageURL: &ChatImageURL{URL: imageURI(block.Source)},
			})
		}
	}

	if len(parts) == 0 {
		return ChatMessage{}, false
	}

	return ChatMessage{Role: RoleUser, Content: &ChatContent{Parts: parts}}, true
}

func imageURI(src *ImageSource) string {
	if src.URL != "" {
		return src.URL
	}

	return fmt.Sprintf("data:%s;base64,%s", src.MediaType, src.Data)
}

func convertAssistantMessage(msg Message) ChatMessage {
	if msg.Content.IsText {
		return ChatMessage{Role: RoleAssistant, Content: TextContent(msg.Content.Text)}
	}

	var (
		text      strings.Builder
		toolCalls []ChatToolCall
	)

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case BlockText:
			text.WriteString(block.Text)
		case BlockToolUse:
			toolCalls = append(toolCalls, ChatToolCall{
				ID:   toCallID(block.ID),
				Type: "function",
				Function: ChatFunctionCall{
					Name:      block.Name,
					Arguments: serializeArguments(block.Name, block.Input),
				},
			})
		case BlockThinking, BlockRedactedThinking:
			// Never forwarded.
		}
	}

	out := ChatMessage{Role: RoleAssistant, ToolCalls: toolCalls}

	switch {
	case text.Len() > 0:
		out.Content = TextContent(text.String())
	case len(toolCalls) > 0:
		// Content stays null so the backend does not see filler text
		// alongside the calls.
	default:
		// Only thinking blocks: some backends reject empty content outright.
		out.Content = TextContent(emptyContentPlaceholder)
	}

	return out
}

// serializeArguments renders a tool invocation's input as a JSON string. For
// the bash and repl tools specifically, a `command` key is renamed to
// `prompt` when no prompt is present; several routed backends expect that
// spelling for these two tools and nothing else.
func serializeArguments(toolName string, input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}

	if toolName == "bash" || toolName == "repl" {
		var args map[string]any
		if err := json.Unmarshal(input, &args); err == nil {
			if cmd, hasCommand := args["command"]; hasCommand {
				if _, hasPrompt := args["prompt"]; !hasPrompt {
					args["prompt"] = cmd
					delete(args, "command")
				}
			}

			if data, err := json.Marshal(args); err == nil {
				return string(data)
			}
		}
	}

	return string(input)
}

// normalizeToolResult flattens a tool_result body to a string: strings pass
// through, block arrays collapse to their text, anything else is JSON.
func normalizeToolResult(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(content, &blocks); err == nil {
		var parts []string

		for _, block := range blocks {
			if block.Type == BlockText {
				parts = append(parts, block.Text)
			}
		}

		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}

	return string(content)
}

// truncateToolOutput cuts a body to the ceiling and appends a marker naming
// how much was removed and the original length.
func truncateToolOutput(body string, limit int) (string, bool) {
	if len(body) <= limit {
		return body, false
	}

	removed := len(body) - limit

	return body[:limit] + fmt.Sprintf("\n\n[tool output truncated: %d characters removed, original length %d]", removed, len(body)), true
}

// checkOrphans verifies that every tool message matches a tool call emitted
// in the nearest preceding assistant turn, scanning back no further than the
// last user-turn boundary.
func checkOrphans(messages []ChatMessage, strip bool, warnings []string) ([]ChatMessage, []string) {
	orphan := func(idx int) bool {
		id := messages[idx].ToolCallID

		for j := idx - 1; j >= 0; j-- {
			switch messages[j].Role {
			case RoleUser:
				return true
			case RoleAssistant:
				for _, call := range messages[j].ToolCalls {
					if call.ID == id {
						return false
					}
				}
			}
		}

		return true
	}

	if strip {
		kept := messages[:0]

		for idx := range messages {
			if messages[idx].Role == RoleTool && orphan(idx) {
				warnings = append(warnings, fmt.Sprintf("orphaned tool message %q stripped", messages[idx].ToolCallID))
				continue
			}

			kept = append(kept, messages[idx])
		}

		return kept, warnings
	}

	for idx := range messages {
		if messages[idx].Role == RoleTool && orphan(idx) {
			warnings = append(warnings, fmt.Sprintf("tool message %q has no matching tool call in the preceding assistant turn", messages[idx].ToolCallID))
		}
	}

	return messages, warnings
}

func convertTools(tools []Tool) []ChatTool {
	var out []ChatTool

	for _, tool := range tools {
		if strings.TrimSpace(tool.Name) == "" {
			continue
		}

		out = append(out, ChatTool{
			Type: "function",
			Function: ChatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  cleanSchema(tool.InputSchema),
			},
		})
	}

	return out
}

// cleanSchema strips the $schema key, which several routed backends reject.
func cleanSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	cleaned := make(map[string]any, len(schema))

	for key, value := range schema {
		if key == "$schema" {
			continue
		}

		cleaned[key] = value
	}

	return cleaned
}

func convertToolChoice(choice *ToolChoice) *ChatToolChoice {
	if choice == nil {
		return nil
	}

	if choice.Type == "tool" && choice.Name != "" {
		return &ChatToolChoice{Name: choice.Name}
	}

	// auto, any, and anything unrecognized all become auto.
	return &ChatToolChoice{}
}

// applyTokenLimits clamps the requested cap into the configured bounds and
// picks the outbound field for it. Reasoning-first families take
// max_completion_tokens and a pinned temperature.
func applyTokenLimits(out *ChatRequest, req *MessagesRequest, base string, opts Options) {
	capTokens := req.MaxTokens

	minTokens := opts.MinTokens
	if minTokens < 1 {
		minTokens = 1
	}

	if capTokens < minTokens {
		capTokens = minTokens
	}

	if opts.MaxTokens > 0 && capTokens > opts.MaxTokens {
		capTokens = opts.MaxTokens
	}

	if reasoning.ReasoningFirst(base) {
		out.MaxCompletionTokens = capTokens
		temp := reasoningFirstTemperature
		out.Temperature = &temp

		return
	}

	out.MaxTokens = capTokens
	out.Temperature = req.Temperature
}

// injectReasoning writes the spec into the outbound request. The switch is
// exhaustive over the spec tag; adding a provider family is one new case.
func injectReasoning(out *ChatRequest, spec reasoning.Spec, baseURL string) {
	switch spec.Kind {
	case reasoning.KindNone:
		return
	case reasoning.KindEffort:
		out.ExtraBody = &ExtraBody{
			Reasoning: &ReasoningOptions{
				Effort:  spec.Effort,
				Exclude: spec.Exclude,
			},
		}
	case reasoning.KindBudget:
		if spec.Family == reasoning.FamilyGemini || isGoogleEndpoint(baseURL) {
			out.ExtraBody = &ExtraBody{
				GenerationConfig: &GenerationConfig{
					ThinkingConfig: &ThinkingBudget{
						ThinkingBudget:  spec.Budget,
						IncludeThoughts: !spec.Exclude,
					},
				},
			}

			return
		}

		out.ExtraBody = &ExtraBody{
			Reasoning: &ReasoningOptions{
				MaxTokens: spec.Budget,
				Exclude:   spec.Exclude,
			},
		}
	}
}

func isGoogleEndpoint(baseURL string) bool {
	if baseURL == "" {
		return false
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}

	return strings.HasSuffix(u.Hostname(), "googleapis.com")
}

// toCallID maps a Claude tool-use id onto the call_ spelling the
// chat-completions side expects. Already-converted ids pass through.
func toCallID(id string) string {
	if strings.HasPrefix(id, "toolu_") {
		return "call_" + strings.TrimPrefix(id, "toolu_")
	}

	return id
}

// toToolUseID is the inverse mapping applied on the way back.
func toToolUseID(id string) string {
	if strings.HasPrefix(id, "toolu_") {
		return id
	}

	if strings.HasPrefix(id, "call_") {
		return "toolu_" + strings.TrimPrefix(id, "call_")
	}

	return "toolu_" + id
}

// modelPart strips the "provider," prefix from a configured backend id.
func modelPart(backendID string) string {
	if idx := strings.Index(backendID, ","); idx >= 0 {
		return strings.TrimSpace(backendID[idx+1:])
	}

	return backendID
}

// ProviderPart extracts the provider name from a configured "provider,model"
// backend id; empty when the id has no provider prefix.
func ProviderPart(backendID string) string {
	if idx := strings.Index(backendID, ","); idx >= 0 {
		return strings.TrimSpace(backendID[:idx])
	}

	return ""
}
