package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vamsi/pi/internal/schema"
	"github.com/vamsi/pi/pkg/ai"
)

// skippedToolResultText is the literal text a skipped tool call reports
// when a steering message preempts the remaining calls of a turn.
const skippedToolResultText = "Skipped due to queued user message"

// AgentLoop starts an agent run with new prompt messages. Events arrive on
// the returned stream; the stream's result is every message the run
// produced. ctx is the run's cancel signal.
func AgentLoop(ctx context.Context, prompts []AgentMessage, agentCtx *AgentContext, config *AgentLoopConfig) *AgentEventStream {
	stream := newAgentEventStream()

	go func() {
		run := &loopRun{
			config: config,
			stream: stream,
			context: &AgentContext{
				SystemPrompt: agentCtx.SystemPrompt,
				Messages:     append(append([]AgentMessage{}, agentCtx.Messages...), prompts...),
				Tools:        agentCtx.Tools,
			},
			newMessages: append([]AgentMessage{}, prompts...),
		}
		defer run.recoverToEnd()

		stream.Push(&AgentStartEvent{})
		stream.Push(&TurnStartEvent{})
		for _, prompt := range prompts {
			stream.Push(&MessageStartEvent{Message: prompt})
			stream.Push(&MessageEndEvent{Message: prompt})
		}
		run.run(ctx)
	}()
	return stream
}

// AgentLoopContinue resumes a run from existing context without new prompt
// messages, e.g. to process queued follow-ups or retry after an error.
func AgentLoopContinue(ctx context.Context, agentCtx *AgentContext, config *AgentLoopConfig) (*AgentEventStream, error) {
	if len(agentCtx.Messages) == 0 {
		return nil, errors.New("cannot continue: no messages in context")
	}
	if agentCtx.Messages[len(agentCtx.Messages)-1].Role() == "assistant" {
		return nil, errors.New("cannot continue from message role: assistant")
	}

	stream := newAgentEventStream()
	go func() {
		run := &loopRun{
			config: config,
			stream: stream,
			context: &AgentContext{
				SystemPrompt: agentCtx.SystemPrompt,
				Messages:     append([]AgentMessage{}, agentCtx.Messages...),
				Tools:        agentCtx.Tools,
			},
		}
		defer run.recoverToEnd()
		stream.Push(&AgentStartEvent{})
		stream.Push(&TurnStartEvent{})
		run.run(ctx)
	}()
	return stream, nil
}

type loopRun struct {
	config      *AgentLoopConfig
	stream      *AgentEventStream
	context     *AgentContext
	newMessages []AgentMessage
}

func (r *loopRun) finish() {
	r.stream.Push(&AgentEndEvent{Messages: r.newMessages})
	r.stream.End()
}

// recoverToEnd guarantees the stream terminates even if the loop panics.
func (r *loopRun) recoverToEnd() {
	if rec := recover(); rec != nil {
		slog.Error("agent loop panicked", "panic", rec)
		r.finish()
	}
}

// run is the main loop shared by AgentLoop and AgentLoopContinue. Turns
// continue while the assistant keeps calling tools or queued messages keep
// arriving; the follow-up queue feeds one more turn once everything else
// drains.
func (r *loopRun) run(ctx context.Context) {
	firstTurn := true
	var pending []AgentMessage
	if r.config.GetSteeringMessages != nil {
		pending = r.config.GetSteeringMessages()
	}

	for {
		hasMoreToolCalls := true

		for hasMoreToolCalls || len(pending) > 0 {
			if !firstTurn {
				r.stream.Push(&TurnStartEvent{})
			}
			firstTurn = false

			for _, msg := range pending {
				r.stream.Push(&MessageStartEvent{Message: msg})
				r.stream.Push(&MessageEndEvent{Message: msg})
				r.context.Messages = append(r.context.Messages, msg)
				r.newMessages = append(r.newMessages, msg)
			}
			pending = nil

			message, err := r.streamAssistantResponse(ctx)
			if err != nil {
				// Stream construction failed; surface as an errored
				// assistant message so the history stays append-only.
				message = r.errorMessage(ctx, err)
				r.context.Messages = append(r.context.Messages, message)
				r.stream.Push(&MessageStartEvent{Message: message})
				r.stream.Push(&MessageEndEvent{Message: message})
			}
			r.newMessages = append(r.newMessages, message)

			if message.StopReason == ai.StopReasonError || message.StopReason == ai.StopReasonAborted {
				r.stream.Push(&TurnEndEvent{Message: message, ToolResults: nil})
				r.finish()
				return
			}

			toolCalls := message.ToolCalls()
			hasMoreToolCalls = len(toolCalls) > 0

			var toolResults []*ai.ToolResultMessage
			var steeringAfterTools []AgentMessage
			if hasMoreToolCalls {
				toolResults, steeringAfterTools = r.executeToolCalls(ctx, message)
				for _, result := range toolResults {
					r.context.Messages = append(r.context.Messages, result)
					r.newMessages = append(r.newMessages, result)
				}
			}

			r.stream.Push(&TurnEndEvent{Message: message, ToolResults: toolResults})

			if message.StopReason == ai.StopReasonToolUse && !hasMoreToolCalls {
				// Providers occasionally report tool_use without yielding a
				// parseable call; continue the loop so the model recovers.
				hasMoreToolCalls = true
			}

			if len(steeringAfterTools) > 0 {
				pending = steeringAfterTools
			} else if r.config.GetSteeringMessages != nil {
				pending = r.config.GetSteeringMessages()
			}

			if ctx.Err() != nil {
				r.finish()
				return
			}
		}

		if r.config.GetFollowUpMessages != nil {
			if followUp := r.config.GetFollowUpMessages(); len(followUp) > 0 {
				pending = followUp
				continue
			}
		}
		break
	}

	r.finish()
}

func (r *loopRun) errorMessage(ctx context.Context, err error) *ai.AssistantMessage {
	stopReason := ai.StopReasonError
	if ctx.Err() != nil {
		stopReason = ai.StopReasonAborted
	}
	return &ai.AssistantMessage{
		API:          r.config.Model.API,
		Provider:     r.config.Model.Provider,
		Model:        r.config.Model.ID,
		StopReason:   stopReason,
		ErrorMessage: err.Error(),
		Timestamp:    nowMillis(),
	}
}

// streamAssistantResponse makes one LLM call, forwarding stream events as
// MessageUpdate events and appending the in-progress message to context.
func (r *loopRun) streamAssistantResponse(ctx context.Context) (*ai.AssistantMessage, error) {
	messages := r.context.Messages
	if r.config.TransformContext != nil {
		transformed, err := r.config.TransformContext(ctx, messages)
		if err != nil {
			return nil, err
		}
		messages = transformed
	}

	convert := r.config.ConvertToLLM
	if convert == nil {
		convert = DefaultConvertToLLM
	}
	llmMessages, err := convert(messages)
	if err != nil {
		return nil, err
	}

	tools := make([]ai.Tool, 0, len(r.context.Tools))
	for _, t := range r.context.Tools {
		tools = append(tools, ai.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	llmCtx := &ai.Context{
		SystemPrompt: r.context.SystemPrompt,
		Messages:     llmMessages,
		Tools:        tools,
	}

	apiKey := r.config.APIKey
	if r.config.GetAPIKey != nil {
		resolved, err := r.config.GetAPIKey(ctx, r.config.Model.Provider)
		if err != nil {
			return nil, err
		}
		if resolved != "" {
			apiKey = resolved
		}
	}

	reasoning := r.config.Reasoning
	if reasoning == ai.ThinkingOff {
		reasoning = ""
	}
	opts := &ai.SimpleStreamOptions{
		StreamOptions: ai.StreamOptions{
			APIKey:          apiKey,
			SessionID:       r.config.SessionID,
			MaxRetryDelayMS: r.config.MaxRetryDelayMS,
		},
		Reasoning:       reasoning,
		ThinkingBudgets: r.config.ThinkingBudgets,
	}

	streamFn := r.config.StreamFn
	if streamFn == nil {
		streamFn = ai.StreamSimple
	}
	response, err := streamFn(ctx, r.config.Model, llmCtx, opts)
	if err != nil {
		return nil, err
	}

	addedPartial := false
	for event := range response.Events() {
		switch ev := event.(type) {
		case *ai.StartEvent:
			r.context.Messages = append(r.context.Messages, ev.Partial)
			addedPartial = true
			r.stream.Push(&MessageStartEvent{Message: ev.Partial})

		case *ai.DoneEvent, *ai.ErrorEvent:
			// handled below via Result

		default:
			if addedPartial {
				partial := r.context.Messages[len(r.context.Messages)-1]
				r.stream.Push(&MessageUpdateEvent{Message: partial, Event: event})
			}
		}
	}

	final, resultErr := response.Result(ctx)
	if final == nil {
		if resultErr == nil {
			resultErr = errors.New("stream ended without a terminal event")
		}
		return nil, resultErr
	}
	if addedPartial {
		r.context.Messages[len(r.context.Messages)-1] = final
	} else {
		r.context.Messages = append(r.context.Messages, final)
		r.stream.Push(&MessageStartEvent{Message: final})
	}
	r.stream.Push(&MessageEndEvent{Message: final})
	return final, nil
}

// executeToolCalls runs a message's tool calls sequentially in content
// order. After each call the steering queue is polled; queued steering
// skips the remaining calls with error results. Every call, including
// skipped ones, appends a tool-result message.
func (r *loopRun) executeToolCalls(ctx context.Context, message *ai.AssistantMessage) ([]*ai.ToolResultMessage, []AgentMessage) {
	toolCalls := message.ToolCalls()
	var results []*ai.ToolResultMessage
	var steeringMessages []AgentMessage

	for index, tc := range toolCalls {
		if ctx.Err() != nil {
			for _, remaining := range toolCalls[index:] {
				results = append(results, r.skipToolCall(remaining))
			}
			break
		}

		r.stream.Push(&ToolExecutionStartEvent{ToolCallID: tc.ID, ToolName: tc.Name, Args: tc.Arguments})

		result, isError := r.invokeTool(ctx, tc)

		r.stream.Push(&ToolExecutionEndEvent{ToolCallID: tc.ID, ToolName: tc.Name, Result: result, IsError: isError})

		resultMsg := &ai.ToolResultMessage{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    result.Content,
			Details:    result.Details,
			IsError:    isError,
			Timestamp:  nowMillis(),
		}
		results = append(results, resultMsg)
		r.stream.Push(&MessageStartEvent{Message: resultMsg})
		r.stream.Push(&MessageEndEvent{Message: resultMsg})

		if r.config.GetSteeringMessages != nil {
			if steering := r.config.GetSteeringMessages(); len(steering) > 0 {
				steeringMessages = steering
				for _, remaining := range toolCalls[index+1:] {
					results = append(results, r.skipToolCall(remaining))
				}
				break
			}
		}
	}
	return results, steeringMessages
}

func (r *loopRun) invokeTool(ctx context.Context, tc *ai.ToolCall) (AgentToolResult, bool) {
	var tool *AgentTool
	for i := range r.context.Tools {
		if r.context.Tools[i].Name == tc.Name {
			tool = &r.context.Tools[i]
			break
		}
	}
	if tool == nil {
		return TextResult(fmt.Sprintf("Tool %s not found", tc.Name)), true
	}
	if tool.Execute == nil {
		return TextResult(fmt.Sprintf("Tool %s has no execute function", tc.Name)), true
	}

	if errs := schema.ValidateArguments(tool.Parameters, tc.Arguments); len(errs) > 0 {
		return TextResult("Invalid arguments: " + joinErrors(errs)), true
	}

	onUpdate := func(partial AgentToolResult) {
		r.stream.Push(&ToolExecutionUpdateEvent{
			ToolCallID:    tc.ID,
			ToolName:      tc.Name,
			Args:          tc.Arguments,
			PartialResult: partial,
		})
	}

	result, err := tool.Execute(ctx, tc.ID, tc.Arguments, onUpdate)
	if err != nil {
		return TextResult(err.Error()), true
	}
	return result, false
}

func (r *loopRun) skipToolCall(tc *ai.ToolCall) *ai.ToolResultMessage {
	result := TextResult(skippedToolResultText)

	r.stream.Push(&ToolExecutionStartEvent{ToolCallID: tc.ID, ToolName: tc.Name, Args: tc.Arguments})
	r.stream.Push(&ToolExecutionEndEvent{ToolCallID: tc.ID, ToolName: tc.Name, Result: result, IsError: true})

	msg := &ai.ToolResultMessage{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Content:    result.Content,
		IsError:    true,
		Timestamp:  nowMillis(),
	}
	r.stream.Push(&MessageStartEvent{Message: msg})
	r.stream.Push(&MessageEndEvent{Message: msg})
	return msg
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
