// Package ai provides a provider-agnostic streaming abstraction over LLM
// backends. It normalizes heterogeneous wire protocols (Anthropic Messages,
// OpenAI Chat Completions and Responses, Google GenAI/Vertex/Gemini CLI,
// Amazon Bedrock Converse) into a single typed assistant-message event
// stream, with model and provider registries, usage/cost accounting, and
// eager completion helpers layered on top.
package ai

import (
	"encoding/json"
	"fmt"
)

// StopReason describes why an assistant message stopped.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "tool_use"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// ThinkingLevel is a provider-agnostic reasoning dial. Each provider maps it
// to token budgets, effort strings, or thinking levels.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// Enabled reports whether the level requests any reasoning at all.
func (l ThinkingLevel) Enabled() bool {
	return l != "" && l != ThinkingOff
}

// CacheRetention controls prompt-cache lifetime on providers that support it.
type CacheRetention string

const (
	CacheRetentionNone  CacheRetention = "none"
	CacheRetentionShort CacheRetention = "short"
	CacheRetentionLong  CacheRetention = "long"
)

// Modality is an input modality a model accepts.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// --- Content blocks ---

// TextContent is a text span in a message.
type TextContent struct {
	Text string
	// TextSignature carries the provider item id for Responses-style APIs.
	TextSignature string
}

// ThinkingContent is a reasoning span in an assistant message.
type ThinkingContent struct {
	Thinking string
	// ThinkingSignature is the provider's opaque signature over the thinking
	// block, required to replay it on a subsequent turn.
	ThinkingSignature string
}

// ImageContent is a base64-encoded image.
type ImageContent struct {
	Data     string
	MimeType string
}

// ToolCall is a model-initiated tool invocation. Arguments is the fully
// parsed argument object by the time the block's end event fires.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// ThoughtSignature is an opaque provider signature tying the call to the
	// reasoning that produced it (Google, OpenRouter).
	ThoughtSignature string
}

// UserContent is a content block allowed in a user message.
type UserContent interface{ userContent() }

// AssistantContent is a content block allowed in an assistant message.
type AssistantContent interface{ assistantContent() }

// ToolResultContent is a content block allowed in a tool result.
type ToolResultContent interface{ toolResultContent() }

func (*TextContent) userContent()          {}
func (*ImageContent) userContent()         {}
func (*TextContent) assistantContent()     {}
func (*ThinkingContent) assistantContent() {}
func (*ToolCall) assistantContent()        {}
func (*TextContent) toolResultContent()    {}
func (*ImageContent) toolResultContent()   {}

// --- Usage tracking ---

// UsageCost is the dollar cost of a request, split by rate class.
type UsageCost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// Usage is token accounting for a single assistant message.
type Usage struct {
	Input       int       `json:"input"`
	Output      int       `json:"output"`
	CacheRead   int       `json:"cacheRead"`
	CacheWrite  int       `json:"cacheWrite"`
	TotalTokens int       `json:"totalTokens"`
	Cost        UsageCost `json:"cost"`
}

// --- Messages ---

// Message is one entry in a conversation: user, assistant, or tool result.
type Message interface {
	Role() string
}

// UserMessage is a message authored by the user.
type UserMessage struct {
	Content []UserContent
	// Timestamp is Unix milliseconds.
	Timestamp int64
}

func (*UserMessage) Role() string { return "user" }

// NewUserMessage builds a user message from plain text.
func NewUserMessage(text string, timestamp int64) *UserMessage {
	return &UserMessage{Content: []UserContent{&TextContent{Text: text}}, Timestamp: timestamp}
}

// Text returns the concatenated text content of the message.
func (m *UserMessage) Text() string {
	var out string
	for _, c := range m.Content {
		if t, ok := c.(*TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

// AssistantMessage is a message produced by the model, built up
// incrementally while streaming.
type AssistantMessage struct {
	Content      []AssistantContent
	API          string
	Provider     string
	Model        string
	Usage        Usage
	StopReason   StopReason
	ErrorMessage string
	Timestamp    int64
}

func (*AssistantMessage) Role() string { return "assistant" }

// ToolCalls returns the message's tool-call blocks in content order.
func (m *AssistantMessage) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, c := range m.Content {
		if tc, ok := c.(*ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Text returns the concatenated text blocks of the message.
func (m *AssistantMessage) Text() string {
	var out string
	for _, c := range m.Content {
		if t, ok := c.(*TextContent); ok {
			out += t.Text
		}
	}
	return out
}

// ToolResultMessage carries the result of a tool call back to the model.
type ToolResultMessage struct {
	ToolCallID string
	ToolName   string
	Content    []ToolResultContent
	Details    any
	IsError    bool
	Timestamp  int64
}

func (*ToolResultMessage) Role() string { return "tool_result" }

// Text returns the concatenated text content of the tool result.
func (m *ToolResultMessage) Text() string {
	var out string
	for _, c := range m.Content {
		if t, ok := c.(*TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

// --- Tools ---

// Tool is a tool the model may call. Parameters is a JSON-Schema object
// passed through to the provider unchanged.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// --- Context ---

// Context is the full input to an LLM call: system prompt, conversation
// history, and the tool catalog. It is immutable to the provider.
type Context struct {
	SystemPrompt string
	Messages     []Message
	Tools        []Tool
}

// --- Model ---

// ModelCost is the price per million tokens for each rate class.
type ModelCost struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cacheRead" yaml:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite" yaml:"cacheWrite"`
}

// CompletionsCompat captures per-model quirks of OpenAI-compatible
// completions APIs.
type CompletionsCompat struct {
	SupportsStore                    bool   `json:"supportsStore" yaml:"supportsStore"`
	SupportsDeveloperRole            bool   `json:"supportsDeveloperRole" yaml:"supportsDeveloperRole"`
	SupportsReasoningEffort          bool   `json:"supportsReasoningEffort" yaml:"supportsReasoningEffort"`
	SupportsUsageInStreaming         bool   `json:"supportsUsageInStreaming" yaml:"supportsUsageInStreaming"`
	SupportsStrictMode               bool   `json:"supportsStrictMode" yaml:"supportsStrictMode"`
	MaxTokensField                   string `json:"maxTokensField" yaml:"maxTokensField"` // "max_tokens" or "max_completion_tokens"
	RequiresToolResultName           bool   `json:"requiresToolResultName" yaml:"requiresToolResultName"`
	RequiresAssistantAfterToolResult bool   `json:"requiresAssistantAfterToolResult" yaml:"requiresAssistantAfterToolResult"`
	RequiresThinkingAsText           bool   `json:"requiresThinkingAsText" yaml:"requiresThinkingAsText"`
	RequiresMistralToolIDs           bool   `json:"requiresMistralToolIds" yaml:"requiresMistralToolIds"`
}

// Model describes an LLM model: where to reach it, what it can do, and what
// it costs. Models are immutable values registered at init.
type Model struct {
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	API           string             `json:"api" yaml:"api"`
	Provider      string             `json:"provider" yaml:"provider"`
	BaseURL       string             `json:"baseUrl" yaml:"baseUrl"`
	Reasoning     bool               `json:"reasoning" yaml:"reasoning"`
	Input         []Modality         `json:"input" yaml:"input"`
	Cost          ModelCost          `json:"cost" yaml:"cost"`
	ContextWindow int                `json:"contextWindow" yaml:"contextWindow"`
	MaxTokens     int                `json:"maxTokens" yaml:"maxTokens"`
	Headers       map[string]string  `json:"headers,omitempty" yaml:"headers"`
	Compat        *CompletionsCompat `json:"compat,omitempty" yaml:"compat"`
}

// SupportsImageInput reports whether the model accepts image inputs.
func (m *Model) SupportsImageInput() bool {
	for _, mod := range m.Input {
		if mod == ModalityImage {
			return true
		}
	}
	return false
}

// --- Stream options ---

// ThinkingBudgets overrides per-level thinking token budgets on token-based
// providers. Zero values fall back to the defaults.
type ThinkingBudgets struct {
	Minimal int `json:"minimal,omitempty"`
	Low     int `json:"low,omitempty"`
	Medium  int `json:"medium,omitempty"`
	High    int `json:"high,omitempty"`
}

// StreamOptions are the common options accepted by every provider's full
// streaming entry point.
type StreamOptions struct {
	Temperature    *float64
	MaxTokens      int
	APIKey         string
	CacheRetention CacheRetention
	SessionID      string
	Headers        map[string]string
	// MaxRetryDelayMS caps server-requested retry delays. Zero means the
	// provider default (60s).
	MaxRetryDelayMS int
	// OnPayload, when set, is invoked with the fully built provider request
	// payload just before it is sent. Used by tests to observe the wire
	// request without a network.
	OnPayload func(payload any)
}

// SimpleStreamOptions are the options for the simple streaming API: a
// reasoning level that each provider maps to its native knobs.
type SimpleStreamOptions struct {
	StreamOptions
	Reasoning       ThinkingLevel
	ThinkingBudgets *ThinkingBudgets
}

// --- JSON serialization ---
//
// Messages and content blocks serialize with a stable tagged-union shape
// ({"type": ...} / {"role": ...}) so consumers can persist and replay them.

type wireContent struct {
	Type              string         `json:"type"`
	Text              string         `json:"text,omitempty"`
	TextSignature     string         `json:"textSignature,omitempty"`
	Thinking          string         `json:"thinking,omitempty"`
	ThinkingSignature string         `json:"thinkingSignature,omitempty"`
	Data              string         `json:"data,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	ID                string         `json:"id,omitempty"`
	Name              string         `json:"name,omitempty"`
	Arguments         map[string]any `json:"arguments,omitempty"`
	ThoughtSignature  string         `json:"thoughtSignature,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireContent{Type: "text", Text: c.Text, TextSignature: c.TextSignature})
}

// MarshalJSON implements json.Marshaler.
func (c *ThinkingContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireContent{Type: "thinking", Thinking: c.Thinking, ThinkingSignature: c.ThinkingSignature})
}

// MarshalJSON implements json.Marshaler.
func (c *ImageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireContent{Type: "image", Data: c.Data, MimeType: c.MimeType})
}

// MarshalJSON implements json.Marshaler.
func (c *ToolCall) MarshalJSON() ([]byte, error) {
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal(struct {
		Type             string         `json:"type"`
		ID               string         `json:"id"`
		Name             string         `json:"name"`
		Arguments        map[string]any `json:"arguments"`
		ThoughtSignature string         `json:"thoughtSignature,omitempty"`
	}{"tool_call", c.ID, c.Name, args, c.ThoughtSignature})
}

func decodeContent(raw json.RawMessage) (any, error) {
	var wc wireContent
	if err := json.Unmarshal(raw, &wc); err != nil {
		return nil, err
	}
	switch wc.Type {
	case "text":
		return &TextContent{Text: wc.Text, TextSignature: wc.TextSignature}, nil
	case "thinking":
		return &ThinkingContent{Thinking: wc.Thinking, ThinkingSignature: wc.ThinkingSignature}, nil
	case "image":
		return &ImageContent{Data: wc.Data, MimeType: wc.MimeType}, nil
	case "tool_call", "toolCall":
		return &ToolCall{ID: wc.ID, Name: wc.Name, Arguments: wc.Arguments, ThoughtSignature: wc.ThoughtSignature}, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", wc.Type)
	}
}

// MarshalJSON implements json.Marshaler.
func (m *UserMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Role      string        `json:"role"`
		Content   []UserContent `json:"content"`
		Timestamp int64         `json:"timestamp"`
	}{"user", m.Content, m.Timestamp})
}

// UnmarshalJSON implements json.Unmarshaler. String content is accepted as a
// shorthand for a single text block.
func (m *UserMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Content   json.RawMessage `json:"content"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Timestamp = wire.Timestamp
	m.Content = nil
	if len(wire.Content) == 0 {
		return nil
	}
	if wire.Content[0] == '"' {
		var text string
		if err := json.Unmarshal(wire.Content, &text); err != nil {
			return err
		}
		m.Content = []UserContent{&TextContent{Text: text}}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(wire.Content, &items); err != nil {
		return err
	}
	for _, raw := range items {
		c, err := decodeContent(raw)
		if err != nil {
			return err
		}
		uc, ok := c.(UserContent)
		if !ok {
			return fmt.Errorf("content not allowed in user message")
		}
		m.Content = append(m.Content, uc)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m *AssistantMessage) MarshalJSON() ([]byte, error) {
	content := m.Content
	if content == nil {
		content = []AssistantContent{}
	}
	return json.Marshal(struct {
		Role         string             `json:"role"`
		Content      []AssistantContent `json:"content"`
		API          string             `json:"api"`
		Provider     string             `json:"provider"`
		Model        string             `json:"model"`
		Usage        Usage              `json:"usage"`
		StopReason   StopReason         `json:"stopReason"`
		ErrorMessage string             `json:"errorMessage,omitempty"`
		Timestamp    int64              `json:"timestamp"`
	}{"assistant", content, m.API, m.Provider, m.Model, m.Usage, m.StopReason, m.ErrorMessage, m.Timestamp})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *AssistantMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Content      []json.RawMessage `json:"content"`
		API          string            `json:"api"`
		Provider     string            `json:"provider"`
		Model        string            `json:"model"`
		Usage        Usage             `json:"usage"`
		StopReason   StopReason        `json:"stopReason"`
		ErrorMessage string            `json:"errorMessage"`
		Timestamp    int64             `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.API, m.Provider, m.Model = wire.API, wire.Provider, wire.Model
	m.Usage, m.StopReason, m.ErrorMessage, m.Timestamp = wire.Usage, wire.StopReason, wire.ErrorMessage, wire.Timestamp
	m.Content = nil
	for _, raw := range wire.Content {
		c, err := decodeContent(raw)
		if err != nil {
			return err
		}
		ac, ok := c.(AssistantContent)
		if !ok {
			return fmt.Errorf("content not allowed in assistant message")
		}
		m.Content = append(m.Content, ac)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m *ToolResultMessage) MarshalJSON() ([]byte, error) {
	content := m.Content
	if content == nil {
		content = []ToolResultContent{}
	}
	return json.Marshal(struct {
		Role       string              `json:"role"`
		ToolCallID string              `json:"toolCallId"`
		ToolName   string              `json:"toolName"`
		Content    []ToolResultContent `json:"content"`
		Details    any                 `json:"details,omitempty"`
		IsError    bool                `json:"isError"`
		Timestamp  int64               `json:"timestamp"`
	}{"tool_result", m.ToolCallID, m.ToolName, content, m.Details, m.IsError, m.Timestamp})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ToolResultMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		ToolCallID string            `json:"toolCallId"`
		ToolName   string            `json:"toolName"`
		Content    []json.RawMessage `json:"content"`
		Details    any               `json:"details"`
		IsError    bool              `json:"isError"`
		Timestamp  int64             `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.ToolCallID, m.ToolName, m.Details, m.IsError, m.Timestamp = wire.ToolCallID, wire.ToolName, wire.Details, wire.IsError, wire.Timestamp
	m.Content = nil
	for _, raw := range wire.Content {
		c, err := decodeContent(raw)
		if err != nil {
			return err
		}
		tc, ok := c.(ToolResultContent)
		if !ok {
			return fmt.Errorf("content not allowed in tool result")
		}
		m.Content = append(m.Content, tc)
	}
	return nil
}

// UnmarshalMessage decodes a message of any role from its JSON form.
func UnmarshalMessage(data []byte) (Message, error) {
	var probe struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	switch probe.Role {
	case "user":
		var m UserMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case "assistant":
		var m AssistantMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case "tool_result", "toolResult":
		var m ToolResultMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", probe.Role)
	}
}
