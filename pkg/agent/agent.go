package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vamsi/pi/pkg/ai"
)

// AgentState is a snapshot of the agent's current state.
type AgentState struct {
	SystemPrompt     string
	Model            *ai.Model
	ThinkingLevel    ai.ThinkingLevel
	Tools            []AgentTool
	Messages         []AgentMessage
	IsStreaming      bool
	StreamMessage    AgentMessage
	PendingToolCalls map[string]bool
	Error            string
}

// Listener receives agent events from a running invocation.
type Listener func(event AgentEvent)

// Agent is the stateful façade over the agent loop: it holds the model,
// system prompt, tools, thinking level, and accumulated messages, owns the
// steering/follow-up queues, and fans events out to subscribers. One run is
// active at a time; Prompt rejects while running.
type Agent struct {
	mu sync.Mutex

	systemPrompt  string
	model         *ai.Model
	thinkingLevel ai.ThinkingLevel
	tools         []AgentTool
	messages      []AgentMessage

	isStreaming      bool
	streamMessage    AgentMessage
	pendingToolCalls map[string]bool
	lastError        string

	queue  *messageQueue
	cancel context.CancelFunc
	// runDone is closed when the active run finishes; nil while idle.
	runDone chan struct{}

	listeners  map[int]Listener
	listenerID int

	// Overridables, fixed at construction.
	convertToLLM     ConvertToLLMFunc
	transformContext func(ctx context.Context, messages []AgentMessage) ([]AgentMessage, error)
	streamFn         StreamFn
	getAPIKey        func(ctx context.Context, provider string) (string, error)
	sessionID        string
	thinkingBudgets  *ai.ThinkingBudgets
	maxRetryDelayMS  int
}

// AgentOptions configures a new Agent. The zero value works.
type AgentOptions struct {
	ConvertToLLM     ConvertToLLMFunc
	TransformContext func(ctx context.Context, messages []AgentMessage) ([]AgentMessage, error)
	StreamFn         StreamFn
	GetAPIKey        func(ctx context.Context, provider string) (string, error)
	SessionID        string
	ThinkingBudgets  *ai.ThinkingBudgets
	MaxRetryDelayMS  int
	SteeringMode     DeliveryMode
	FollowUpMode     DeliveryMode
}

// NewAgent creates an idle agent.
func NewAgent(opts AgentOptions) *Agent {
	queue := newMessageQueue()
	if opts.SteeringMode != "" {
		queue.SetSteeringMode(opts.SteeringMode)
	}
	if opts.FollowUpMode != "" {
		queue.SetFollowUpMode(opts.FollowUpMode)
	}
	convert := opts.ConvertToLLM
	if convert == nil {
		convert = DefaultConvertToLLM
	}
	return &Agent{
		thinkingLevel:    ai.ThinkingOff,
		queue:            queue,
		listeners:        map[int]Listener{},
		pendingToolCalls: map[string]bool{},
		convertToLLM:     convert,
		transformContext: opts.TransformContext,
		streamFn:         opts.StreamFn,
		getAPIKey:        opts.GetAPIKey,
		sessionID:        opts.SessionID,
		thinkingBudgets:  opts.ThinkingBudgets,
		maxRetryDelayMS:  opts.MaxRetryDelayMS,
	}
}

// State returns a snapshot of the agent's state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending := make(map[string]bool, len(a.pendingToolCalls))
	for k, v := range a.pendingToolCalls {
		pending[k] = v
	}
	return AgentState{
		SystemPrompt:     a.systemPrompt,
		Model:            a.model,
		ThinkingLevel:    a.thinkingLevel,
		Tools:            append([]AgentTool{}, a.tools...),
		Messages:         append([]AgentMessage{}, a.messages...),
		IsStreaming:      a.isStreaming,
		StreamMessage:    a.streamMessage,
		PendingToolCalls: pending,
		Error:            a.lastError,
	}
}

// Subscribe registers an event listener and returns an unsubscribe
// function. Safe to call while a run is active.
func (a *Agent) Subscribe(fn Listener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listenerID++
	id := a.listenerID
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// emit delivers an event to every subscriber. Listener panics are isolated
// and logged; they never abort the run.
func (a *Agent) emit(event AgentEvent) {
	a.mu.Lock()
	listeners := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("agent listener panicked", "panic", r)
				}
			}()
			fn(event)
		}()
	}
}

// SetSystemPrompt replaces the system prompt.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.systemPrompt = prompt
}

// SetModel replaces the model.
func (a *Agent) SetModel(model *ai.Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
}

// SetThinkingLevel replaces the reasoning level.
func (a *Agent) SetThinkingLevel(level ai.ThinkingLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thinkingLevel = level
}

// SetTools replaces the tool catalog. Tools may not change mid-run.
func (a *Agent) SetTools(tools []AgentTool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isStreaming {
		return errors.New("cannot change tools while the agent is running")
	}
	a.tools = append([]AgentTool{}, tools...)
	return nil
}

// ReplaceMessages replaces the accumulated message history.
func (a *Agent) ReplaceMessages(messages []AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append([]AgentMessage{}, messages...)
}

// AppendMessage appends one message to the history.
func (a *Agent) AppendMessage(message AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

// ClearMessages empties the history.
func (a *Agent) ClearMessages() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
}

// Steer enqueues a mid-run user message. The loop delivers it after the
// current tool execution and skips the remaining tool calls of the turn.
func (a *Agent) Steer(message AgentMessage) {
	a.queue.Steer(message)
}

// FollowUp enqueues a message processed after the current run completes.
func (a *Agent) FollowUp(message AgentMessage) {
	a.queue.FollowUp(message)
}

// HasQueuedMessages reports whether steering or follow-ups are queued.
func (a *Agent) HasQueuedMessages() bool {
	return a.queue.HasQueued()
}

// ClearSteeringQueue drops queued steering messages.
func (a *Agent) ClearSteeringQueue() { a.queue.ClearSteering() }

// ClearFollowUpQueue drops queued follow-up messages.
func (a *Agent) ClearFollowUpQueue() { a.queue.ClearFollowUp() }

// ClearAllQueues drops everything queued.
func (a *Agent) ClearAllQueues() { a.queue.Clear() }

// Abort sets the cancel signal for the active run. Safe to call when idle;
// idempotent.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset clears state and queues. Not legal while running.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
	a.isStreaming = false
	a.streamMessage = nil
	a.pendingToolCalls = map[string]bool{}
	a.lastError = ""
	a.queue.Clear()
}

// Prompt starts a run with a single user text prompt (plus optional
// images) and blocks until the run completes. Rejects when a run is
// already active.
func (a *Agent) Prompt(ctx context.Context, text string, images ...*ai.ImageContent) error {
	content := []ai.UserContent{&ai.TextContent{Text: text}}
	for _, img := range images {
		content = append(content, img)
	}
	msg := &ai.UserMessage{Content: content, Timestamp: nowMillis()}
	return a.runLoop(ctx, []AgentMessage{msg}, false)
}

// PromptMessages starts a run with prepared messages.
func (a *Agent) PromptMessages(ctx context.Context, messages []AgentMessage) error {
	if len(messages) == 0 {
		return errors.New("no messages to prompt with")
	}
	return a.runLoop(ctx, messages, false)
}

// PromptAsync starts a run in the background and returns once it is
// underway. Use WaitForIdle to block until the run finishes; run errors are
// surfaced through State().Error and the event stream.
func (a *Agent) PromptAsync(ctx context.Context, text string, images ...*ai.ImageContent) error {
	content := []ai.UserContent{&ai.TextContent{Text: text}}
	for _, img := range images {
		content = append(content, img)
	}
	msg := &ai.UserMessage{Content: content, Timestamp: nowMillis()}

	if err := a.reserveRun(); err != nil {
		return err
	}
	go func() {
		if err := a.runReserved(ctx, []AgentMessage{msg}, false); err != nil {
			a.mu.Lock()
			a.lastError = err.Error()
			a.mu.Unlock()
		}
	}()
	return nil
}

// WaitForIdle blocks until the agent finishes processing. Returns
// immediately when no run is active.
func (a *Agent) WaitForIdle(ctx context.Context) error {
	a.mu.Lock()
	done := a.runDone
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Continue resumes processing from the current context: pending steering or
// follow-up messages first, otherwise the trailing non-assistant history.
func (a *Agent) Continue(ctx context.Context) error {
	a.mu.Lock()
	messages := a.messages
	a.mu.Unlock()

	if len(messages) == 0 {
		return errors.New("no messages to continue from")
	}
	if messages[len(messages)-1].Role() == "assistant" {
		if steering := a.queue.DequeueSteering(); len(steering) > 0 {
			return a.runLoop(ctx, steering, true)
		}
		if followUp := a.queue.DequeueFollowUp(); len(followUp) > 0 {
			return a.runLoop(ctx, followUp, false)
		}
		return errors.New("cannot continue from message role: assistant")
	}
	return a.runLoop(ctx, nil, false)
}

func (a *Agent) runLoop(ctx context.Context, prompts []AgentMessage, skipInitialSteering bool) error {
	if err := a.reserveRun(); err != nil {
		return err
	}
	return a.runReserved(ctx, prompts, skipInitialSteering)
}

// reserveRun takes the single streaming slot. Callers that reserve must
// follow up with runReserved, which releases the slot when the run ends.
func (a *Agent) reserveRun() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isStreaming {
		return errors.New("agent is already processing; use Steer or FollowUp to queue messages")
	}
	if a.model == nil {
		return errors.New("no model configured")
	}
	a.isStreaming = true
	a.runDone = make(chan struct{})
	return nil
}

func (a *Agent) runReserved(ctx context.Context, prompts []AgentMessage, skipInitialSteering bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.streamMessage = nil
	a.lastError = ""

	reasoning := a.thinkingLevel
	agentCtx := &AgentContext{
		SystemPrompt: a.systemPrompt,
		Messages:     append([]AgentMessage{}, a.messages...),
		Tools:        a.tools,
	}
	model := a.model
	done := a.runDone
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		a.isStreaming = false
		a.streamMessage = nil
		a.pendingToolCalls = map[string]bool{}
		a.cancel = nil
		a.runDone = nil
		a.mu.Unlock()
		close(done)
	}()

	skip := skipInitialSteering
	config := &AgentLoopConfig{
		Model:            model,
		ConvertToLLM:     a.convertToLLM,
		Reasoning:        reasoning,
		SessionID:        a.sessionID,
		ThinkingBudgets:  a.thinkingBudgets,
		MaxRetryDelayMS:  a.maxRetryDelayMS,
		StreamFn:         a.streamFn,
		TransformContext: a.transformContext,
		GetAPIKey:        a.getAPIKey,
		GetSteeringMessages: func() []AgentMessage {
			if skip {
				skip = false
				return nil
			}
			return a.queue.DequeueSteering()
		},
		GetFollowUpMessages: func() []AgentMessage {
			return a.queue.DequeueFollowUp()
		},
	}

	var stream *AgentEventStream
	if len(prompts) > 0 {
		stream = AgentLoop(runCtx, prompts, agentCtx, config)
	} else {
		var err error
		stream, err = AgentLoopContinue(runCtx, agentCtx, config)
		if err != nil {
			return err
		}
	}

	for event := range stream.Events() {
		a.applyEvent(event)
		a.emit(event)
	}
	_, err := stream.Result(context.Background())
	return err
}

func (a *Agent) applyEvent(event AgentEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev := event.(type) {
	case *MessageStartEvent:
		a.streamMessage = ev.Message
	case *MessageUpdateEvent:
		a.streamMessage = ev.Message
	case *MessageEndEvent:
		a.streamMessage = nil
		a.messages = append(a.messages, ev.Message)
	case *ToolExecutionStartEvent:
		a.pendingToolCalls[ev.ToolCallID] = true
	case *ToolExecutionEndEvent:
		delete(a.pendingToolCalls, ev.ToolCallID)
	case *TurnEndEvent:
		if msg, ok := ev.Message.(*ai.AssistantMessage); ok && msg.ErrorMessage != "" {
			a.lastError = msg.ErrorMessage
		}
	case *AgentEndEvent:
		a.isStreaming = false
		a.streamMessage = nil
	}
}
