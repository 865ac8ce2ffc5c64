package ai

import (
	"context"
	"sync"
)

// AssistantMessageEvent is the normalized wire-level event vocabulary every
// provider adapter emits. Concrete types: StartEvent, TextStartEvent,
// TextDeltaEvent, TextEndEvent, ThinkingStartEvent, ThinkingDeltaEvent,
// ThinkingEndEvent, ToolCallStartEvent, ToolCallDeltaEvent, ToolCallEndEvent,
// DoneEvent, ErrorEvent.
type AssistantMessageEvent interface {
	// Type returns the event's tag ("start", "text_delta", ...).
	Type() string
}

// StartEvent opens a stream. Partial is the in-progress assistant message
// shared by every subsequent event.
type StartEvent struct {
	Partial *AssistantMessage
}

// TextStartEvent opens a text content block.
type TextStartEvent struct {
	ContentIndex int
	Partial      *AssistantMessage
}

// TextDeltaEvent carries an incremental text fragment.
type TextDeltaEvent struct {
	ContentIndex int
	Delta        string
	Partial      *AssistantMessage
}

// TextEndEvent closes a text block with its final content.
type TextEndEvent struct {
	ContentIndex int
	Content      string
	Partial      *AssistantMessage
}

// ThinkingStartEvent opens a thinking content block.
type ThinkingStartEvent struct {
	ContentIndex int
	Partial      *AssistantMessage
}

// ThinkingDeltaEvent carries an incremental thinking fragment.
type ThinkingDeltaEvent struct {
	ContentIndex int
	Delta        string
	Partial      *AssistantMessage
}

// ThinkingEndEvent closes a thinking block with its final content.
type ThinkingEndEvent struct {
	ContentIndex int
	Content      string
	Signature    string
	Partial      *AssistantMessage
}

// ToolCallStartEvent opens a tool-call content block.
type ToolCallStartEvent struct {
	ContentIndex int
	Partial      *AssistantMessage
}

// ToolCallDeltaEvent carries a raw argument-string fragment. Concatenating
// all deltas for a block yields the block's full argument JSON.
type ToolCallDeltaEvent struct {
	ContentIndex int
	Delta        string
	Partial      *AssistantMessage
}

// ToolCallEndEvent closes a tool-call block. ToolCall.Arguments is fully
// parsed by the time this fires.
type ToolCallEndEvent struct {
	ContentIndex int
	ToolCall     *ToolCall
	Partial      *AssistantMessage
}

// DoneEvent terminates a successful stream with the final message.
type DoneEvent struct {
	Reason  StopReason // stop, length, or tool_use
	Message *AssistantMessage
}

// ErrorEvent terminates a failed or aborted stream. Error carries the
// partial message with StopReason and ErrorMessage populated.
type ErrorEvent struct {
	Reason StopReason // error or aborted
	Error  *AssistantMessage
}

func (*StartEvent) Type() string         { return "start" }
func (*TextStartEvent) Type() string     { return "text_start" }
func (*TextDeltaEvent) Type() string     { return "text_delta" }
func (*TextEndEvent) Type() string       { return "text_end" }
func (*ThinkingStartEvent) Type() string { return "thinking_start" }
func (*ThinkingDeltaEvent) Type() string { return "thinking_delta" }
func (*ThinkingEndEvent) Type() string   { return "thinking_end" }
func (*ToolCallStartEvent) Type() string { return "toolcall_start" }
func (*ToolCallDeltaEvent) Type() string { return "toolcall_delta" }
func (*ToolCallEndEvent) Type() string   { return "toolcall_end" }
func (*DoneEvent) Type() string          { return "done" }
func (*ErrorEvent) Type() string         { return "error" }

// StreamError is the failure latched by a stream that terminated with an
// ErrorEvent. The partial assistant message is attached for inspection.
type StreamError struct {
	Reason  StopReason
	Message *AssistantMessage
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Message != nil && e.Message.ErrorMessage != "" {
		return e.Message.ErrorMessage
	}
	return "stream failed: " + string(e.Reason)
}

// EventStream is a one-producer, one-consumer queue of events with a latched
// final result. Push never blocks the producer and events are delivered to
// the consumer in push order; the terminal event latches the result for
// Result. The producer goroutine is owned by the stream: it pushes events,
// then calls End exactly once.
type EventStream[T any, R any] struct {
	// terminal extracts the final result from a terminal event. ok is false
	// for non-terminal events.
	terminal func(ev T) (result R, err error, ok bool)

	mu     sync.Mutex
	queue  []T
	closed bool
	wake   chan struct{}
	out    chan T

	latched  bool
	result   R
	err      error
	resolved chan struct{}
}

// NewEventStream creates a stream whose terminal events are recognized by
// the given extractor.
func NewEventStream[T any, R any](terminal func(T) (R, error, bool)) *EventStream[T, R] {
	s := &EventStream[T, R]{
		terminal: terminal,
		wake:     make(chan struct{}, 1),
		out:      make(chan T),
		resolved: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *EventStream[T, R]) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				close(s.out)
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- ev
	}
}

func (s *EventStream[T, R]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Push enqueues an event. It is a no-op after End. The first terminal event
// latches the stream's result; later terminal events are dropped.
func (s *EventStream[T, R]) Push(ev T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if result, err, ok := s.terminal(ev); ok {
		if s.latched {
			return // first Done/Error wins
		}
		s.latched = true
		s.result, s.err = result, err
		close(s.resolved)
	}
	s.queue = append(s.queue, ev)
	s.signal()
}

// End marks the stream closed. Idempotent. Queued events are still delivered
// before the consumer channel closes.
func (s *EventStream[T, R]) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if !s.latched {
		s.latched = true
		close(s.resolved)
	}
	s.signal()
}

// Events returns the consumer channel. It yields events in push order and is
// closed after End once all events are delivered.
func (s *EventStream[T, R]) Events() <-chan T {
	return s.out
}

// Result blocks until the terminal event is latched (or the stream ends
// without one) and returns its result, or the stream's error.
func (s *EventStream[T, R]) Result(ctx context.Context) (R, error) {
	// An already-latched result wins over a cancelled context.
	select {
	case <-s.resolved:
	default:
		select {
		case <-s.resolved:
		case <-ctx.Done():
			var zero R
			return zero, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// AssistantMessageEventStream is the event stream produced by provider
// adapters: assistant-message events in, final assistant message out.
type AssistantMessageEventStream = EventStream[AssistantMessageEvent, *AssistantMessage]

// NewAssistantMessageEventStream creates a stream that latches DoneEvent's
// message as its result and converts ErrorEvent into a *StreamError.
func NewAssistantMessageEventStream() *AssistantMessageEventStream {
	return NewEventStream(func(ev AssistantMessageEvent) (*AssistantMessage, error, bool) {
		switch e := ev.(type) {
		case *DoneEvent:
			return e.Message, nil, true
		case *ErrorEvent:
			return e.Error, &StreamError{Reason: e.Reason, Message: e.Error}, true
		default:
			return nil, nil, false
		}
	})
}
