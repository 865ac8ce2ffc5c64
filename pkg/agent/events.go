package agent

import (
	"github.com/vamsi/pi/pkg/ai"
)

// AgentEvent is the higher-level event vocabulary emitted during a run.
// Concrete types: AgentStartEvent, TurnStartEvent, MessageStartEvent,
// MessageUpdateEvent, MessageEndEvent, ToolExecutionStartEvent,
// ToolExecutionUpdateEvent, ToolExecutionEndEvent, TurnEndEvent,
// AgentEndEvent.
type AgentEvent interface {
	Type() string
}

// AgentStartEvent opens a run.
type AgentStartEvent struct{}

// AgentEndEvent closes a run with every message it produced.
type AgentEndEvent struct {
	Messages []AgentMessage
}

// TurnStartEvent opens one turn (one LLM call plus its tool executions).
type TurnStartEvent struct{}

// TurnEndEvent closes a turn with the assistant message and the results of
// its tool calls.
type TurnEndEvent struct {
	Message     AgentMessage
	ToolResults []*ai.ToolResultMessage
}

// MessageStartEvent announces a message entering the history.
type MessageStartEvent struct {
	Message AgentMessage
}

// MessageUpdateEvent forwards one assistant-message event while the LLM
// streams, with the in-progress message attached.
type MessageUpdateEvent struct {
	Message AgentMessage
	Event   ai.AssistantMessageEvent
}

// MessageEndEvent announces a message's final form.
type MessageEndEvent struct {
	Message AgentMessage
}

// ToolExecutionStartEvent fires before a tool's Execute is invoked.
type ToolExecutionStartEvent struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
}

// ToolExecutionUpdateEvent carries a tool's streamed partial result.
type ToolExecutionUpdateEvent struct {
	ToolCallID    string
	ToolName      string
	Args          map[string]any
	PartialResult AgentToolResult
}

// ToolExecutionEndEvent fires after a tool finished (or was skipped).
type ToolExecutionEndEvent struct {
	ToolCallID string
	ToolName   string
	Result     AgentToolResult
	IsError    bool
}

func (*AgentStartEvent) Type() string          { return "agent_start" }
func (*AgentEndEvent) Type() string            { return "agent_end" }
func (*TurnStartEvent) Type() string           { return "turn_start" }
func (*TurnEndEvent) Type() string             { return "turn_end" }
func (*MessageStartEvent) Type() string        { return "message_start" }
func (*MessageUpdateEvent) Type() string       { return "message_update" }
func (*MessageEndEvent) Type() string          { return "message_end" }
func (*ToolExecutionStartEvent) Type() string  { return "tool_execution_start" }
func (*ToolExecutionUpdateEvent) Type() string { return "tool_execution_update" }
func (*ToolExecutionEndEvent) Type() string    { return "tool_execution_end" }

// AgentEventStream carries a run's events; its result is the list of
// messages the run produced.
type AgentEventStream = ai.EventStream[AgentEvent, []AgentMessage]

func newAgentEventStream() *AgentEventStream {
	return ai.NewEventStream(func(ev AgentEvent) ([]AgentMessage, error, bool) {
		if end, ok := ev.(*AgentEndEvent); ok {
			return end.Messages, nil, true
		}
		return nil, nil, false
	})
}
