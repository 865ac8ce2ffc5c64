// Package agent drives multi-turn tool-calling conversations on top of the
// streaming core: it executes tool calls, injects steering messages mid-run,
// queues follow-ups, and supports cooperative cancellation.
package agent

import (
	"context"
	"time"

	"github.com/vamsi/pi/pkg/ai"
)

// AgentMessage is a message in the agent's history. Applications may store
// richer message types; ConvertToLLM filters them down at the LLM boundary.
type AgentMessage = ai.Message

// AgentToolResult is the result of executing a tool.
type AgentToolResult struct {
	Content []ai.ToolResultContent
	Details any
}

// TextResult builds a tool result holding a single text block.
func TextResult(text string) AgentToolResult {
	return AgentToolResult{Content: []ai.ToolResultContent{&ai.TextContent{Text: text}}}
}

// Text returns the concatenated text content of the result.
func (r AgentToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if t, ok := c.(*ai.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

// ToolUpdateFunc streams partial results from a running tool.
type ToolUpdateFunc func(partial AgentToolResult)

// ExecuteFunc runs a tool call. ctx carries the run's cancel signal; the
// tool is expected to return promptly once it is cancelled, either with its
// in-progress partial result or an error.
type ExecuteFunc func(ctx context.Context, callID string, args map[string]any, onUpdate ToolUpdateFunc) (AgentToolResult, error)

// AgentTool is a tool the agent can execute: a Tool definition plus a label
// and the execution function.
type AgentTool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Label       string
	Execute     ExecuteFunc
}

// AgentContext is the agent's conversational state: system prompt, message
// history, and bound tools. Mutated only by the agent loop.
type AgentContext struct {
	SystemPrompt string
	Messages     []AgentMessage
	Tools        []AgentTool
}

// StreamFn produces the assistant stream for one turn. Overridable for
// tests and custom transports; defaults to ai.StreamSimple.
type StreamFn func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error)

// ConvertToLLMFunc maps agent messages to LLM messages at the call
// boundary, dropping application-specific entries.
type ConvertToLLMFunc func(messages []AgentMessage) ([]ai.Message, error)

// AgentLoopConfig configures one agent run.
type AgentLoopConfig struct {
	Model *ai.Model

	// ConvertToLLM is required; DefaultConvertToLLM keeps user, assistant,
	// and tool-result messages.
	ConvertToLLM ConvertToLLMFunc

	Reasoning       ai.ThinkingLevel
	SessionID       string
	ThinkingBudgets *ai.ThinkingBudgets
	MaxRetryDelayMS int
	APIKey          string

	// StreamFn overrides the transport. Defaults to ai.StreamSimple.
	StreamFn StreamFn

	// TransformContext runs before each LLM call, e.g. for context-window
	// compaction.
	TransformContext func(ctx context.Context, messages []AgentMessage) ([]AgentMessage, error)

	// GetAPIKey resolves a fresh key per call (OAuth tokens). Overrides
	// APIKey when it returns a non-empty string.
	GetAPIKey func(ctx context.Context, provider string) (string, error)

	// GetSteeringMessages is polled after each tool execution and each
	// turn. A non-empty result preempts remaining tool calls.
	GetSteeringMessages func() []AgentMessage

	// GetFollowUpMessages is polled when the run would otherwise end.
	GetFollowUpMessages func() []AgentMessage
}

// DefaultConvertToLLM keeps only LLM-compatible messages.
func DefaultConvertToLLM(messages []AgentMessage) ([]ai.Message, error) {
	out := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role() {
		case "user", "assistant", "tool_result":
			out = append(out, m)
		}
	}
	return out, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
