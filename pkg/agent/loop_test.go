package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vamsi/pi/pkg/ai"
)

var testModel = &ai.Model{
	ID: "test-model", Name: "Test", API: "test", Provider: "test",
	Cost: ai.ModelCost{Input: 1, Output: 2},
}

// turnScript describes one scripted assistant response.
type turnScript struct {
	text      string
	toolCalls []*ai.ToolCall
	errText   string
	slowText  bool // emit text one rune at a time with small sleeps
}

// scriptedStreamFn returns a StreamFn that replays the scripts in order.
func scriptedStreamFn(calls *int32, scripts ...turnScript) StreamFn {
	return func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
		call := int(atomic.AddInt32(calls, 1)) - 1
		if call >= len(scripts) {
			call = len(scripts) - 1
		}
		script := scripts[call]

		stream := ai.NewAssistantMessageEventStream()
		go func() {
			output := &ai.AssistantMessage{
				API: model.API, Provider: model.Provider, Model: model.ID,
				StopReason: ai.StopReasonStop, Timestamp: time.Now().UnixMilli(),
			}
			stream.Push(&ai.StartEvent{Partial: output})

			if script.errText != "" {
				output.StopReason = ai.StopReasonError
				output.ErrorMessage = script.errText
				stream.Push(&ai.ErrorEvent{Reason: ai.StopReasonError, Error: output})
				stream.End()
				return
			}

			if script.text != "" {
				block := &ai.TextContent{}
				output.Content = append(output.Content, block)
				idx := len(output.Content) - 1
				stream.Push(&ai.TextStartEvent{ContentIndex: idx, Partial: output})
				if script.slowText {
					for _, r := range script.text {
						if ctx.Err() != nil {
							output.StopReason = ai.StopReasonAborted
							output.ErrorMessage = "aborted"
							stream.Push(&ai.ErrorEvent{Reason: ai.StopReasonAborted, Error: output})
							stream.End()
							return
						}
						block.Text += string(r)
						stream.Push(&ai.TextDeltaEvent{ContentIndex: idx, Delta: string(r), Partial: output})
						time.Sleep(2 * time.Millisecond)
					}
				} else {
					block.Text = script.text
					stream.Push(&ai.TextDeltaEvent{ContentIndex: idx, Delta: script.text, Partial: output})
				}
				stream.Push(&ai.TextEndEvent{ContentIndex: idx, Content: block.Text, Partial: output})
			}

			for _, tc := range script.toolCalls {
				output.Content = append(output.Content, tc)
				idx := len(output.Content) - 1
				stream.Push(&ai.ToolCallStartEvent{ContentIndex: idx, Partial: output})
				stream.Push(&ai.ToolCallEndEvent{ContentIndex: idx, ToolCall: tc, Partial: output})
			}
			if len(script.toolCalls) > 0 {
				output.StopReason = ai.StopReasonToolUse
			}

			output.Usage = ai.Usage{Input: 5, Output: 7, TotalTokens: 12}
			ai.CalculateCost(model, &output.Usage)
			stream.Push(&ai.DoneEvent{Reason: output.StopReason, Message: output})
			stream.End()
		}()
		return stream, nil
	}
}

func weatherTool(executed *int32, result string) AgentTool {
	return AgentTool{
		Name:        "get_weather",
		Description: "Get the weather for a city",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
			"required":   []any{"city"},
		},
		Execute: func(ctx context.Context, callID string, args map[string]any, onUpdate ToolUpdateFunc) (AgentToolResult, error) {
			if executed != nil {
				atomic.AddInt32(executed, 1)
			}
			return TextResult(result), nil
		},
	}
}

func drainLoop(t *testing.T, stream *AgentEventStream) ([]AgentEvent, []AgentMessage) {
	t.Helper()
	var events []AgentEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	messages, err := stream.Result(context.Background())
	if err != nil {
		t.Fatalf("loop result: %v", err)
	}
	return events, messages
}

func rolesOf(messages []AgentMessage) []string {
	var roles []string
	for _, m := range messages {
		roles = append(roles, m.Role())
	}
	return roles
}

func TestAgentLoopToolCallRoundTrip(t *testing.T) {
	var calls int32
	var executed int32
	config := &AgentLoopConfig{
		Model: testModel,
		StreamFn: scriptedStreamFn(&calls,
			turnScript{toolCalls: []*ai.ToolCall{{ID: "c1", Name: "get_weather", Arguments: map[string]any{"city": "Tokyo"}}}},
			turnScript{text: "Sunny, 22°C."},
		),
	}
	agentCtx := &AgentContext{Tools: []AgentTool{weatherTool(&executed, "sunny, 22C")}}

	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("weather in tokyo?", 0)}, agentCtx, config)
	events, messages := drainLoop(t, stream)

	want := []string{"user", "assistant", "tool_result", "assistant"}
	got := rolesOf(messages)
	if len(got) != len(want) {
		t.Fatalf("message roles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message roles = %v, want %v", got, want)
		}
	}
	if executed != 1 {
		t.Errorf("tool executed %d times", executed)
	}

	result := messages[2].(*ai.ToolResultMessage)
	if result.Text() != "sunny, 22C" || result.IsError {
		t.Errorf("tool result = %+v", result)
	}
	final := messages[3].(*ai.AssistantMessage)
	if final.Text() != "Sunny, 22°C." {
		t.Errorf("final text = %q", final.Text())
	}

	// Two turns, bracketed by agent start/end.
	var turnStarts, turnEnds int
	for _, ev := range events {
		switch ev.(type) {
		case *TurnStartEvent:
			turnStarts++
		case *TurnEndEvent:
			turnEnds++
		}
	}
	if turnStarts != 2 || turnEnds != 2 {
		t.Errorf("turns = %d/%d, want 2/2", turnStarts, turnEnds)
	}
	if _, ok := events[0].(*AgentStartEvent); !ok {
		t.Error("first event should be agent_start")
	}
	if _, ok := events[len(events)-1].(*AgentEndEvent); !ok {
		t.Error("last event should be agent_end")
	}
}

func TestAgentLoopInvalidToolArgs(t *testing.T) {
	var calls int32
	var executed int32
	config := &AgentLoopConfig{
		Model: testModel,
		StreamFn: scriptedStreamFn(&calls,
			// Schema requires city:string; send a number.
			turnScript{toolCalls: []*ai.ToolCall{{ID: "c1", Name: "get_weather", Arguments: map[string]any{"city": 42}}}},
			turnScript{text: "done"},
		),
	}
	agentCtx := &AgentContext{Tools: []AgentTool{weatherTool(&executed, "never")}}

	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("go", 0)}, agentCtx, config)
	_, messages := drainLoop(t, stream)

	if executed != 0 {
		t.Error("execute must not run for invalid args")
	}
	result := messages[2].(*ai.ToolResultMessage)
	if !result.IsError {
		t.Error("invalid args should produce an error result")
	}
	// The loop continues: one more turn after the validation failure.
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("LLM called %d times, want 2", calls)
	}
	if messages[3].(*ai.AssistantMessage).Text() != "done" {
		t.Error("second turn should complete")
	}
}

func TestAgentLoopUnknownTool(t *testing.T) {
	var calls int32
	config := &AgentLoopConfig{
		Model: testModel,
		StreamFn: scriptedStreamFn(&calls,
			turnScript{toolCalls: []*ai.ToolCall{{ID: "c1", Name: "nope", Arguments: map[string]any{}}}},
			turnScript{text: "recovered"},
		),
	}
	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("go", 0)}, &AgentContext{}, config)
	_, messages := drainLoop(t, stream)
	result := messages[2].(*ai.ToolResultMessage)
	if !result.IsError {
		t.Error("unknown tool should produce an error result")
	}
}

func TestAgentLoopSteeringSkipsRemainingTools(t *testing.T) {
	var calls int32
	var executed int32

	steered := false
	var steeringQueue []AgentMessage

	slowTool := AgentTool{
		Name: "get_weather", Description: "d",
		Parameters: map[string]any{"type": "object"},
		Execute: func(ctx context.Context, callID string, args map[string]any, onUpdate ToolUpdateFunc) (AgentToolResult, error) {
			atomic.AddInt32(&executed, 1)
			if !steered {
				// Steering arrives while the first tool runs.
				steered = true
				steeringQueue = append(steeringQueue, ai.NewUserMessage("stop", 0))
			}
			return TextResult("real result"), nil
		},
	}

	config := &AgentLoopConfig{
		Model: testModel,
		StreamFn: scriptedStreamFn(&calls,
			turnScript{toolCalls: []*ai.ToolCall{
				{ID: "c1", Name: "get_weather", Arguments: map[string]any{}},
				{ID: "c2", Name: "get_weather", Arguments: map[string]any{}},
			}},
			turnScript{text: "ok, stopping"},
		),
		GetSteeringMessages: func() []AgentMessage {
			msgs := steeringQueue
			steeringQueue = nil
			return msgs
		},
	}
	agentCtx := &AgentContext{Tools: []AgentTool{slowTool}}

	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("two tools please", 0)}, agentCtx, config)
	_, messages := drainLoop(t, stream)

	if executed != 1 {
		t.Fatalf("executed %d tools, want 1 (second skipped)", executed)
	}

	// user, assistant(2 calls), result c1, skipped c2, steering user, assistant
	roles := rolesOf(messages)
	wantRoles := []string{"user", "assistant", "tool_result", "tool_result", "user", "assistant"}
	if len(roles) != len(wantRoles) {
		t.Fatalf("roles = %v, want %v", roles, wantRoles)
	}

	first := messages[2].(*ai.ToolResultMessage)
	second := messages[3].(*ai.ToolResultMessage)
	if first.IsError || first.Text() != "real result" {
		t.Errorf("first result = %+v", first)
	}
	if !second.IsError || second.Text() != "Skipped due to queued user message" {
		t.Errorf("skipped result = %q isError=%v", second.Text(), second.IsError)
	}

	steeringMsg := messages[4].(*ai.UserMessage)
	if steeringMsg.Text() != "stop" {
		t.Errorf("steering message = %q", steeringMsg.Text())
	}
}

func TestAgentLoopCancellation(t *testing.T) {
	var calls int32
	config := &AgentLoopConfig{
		Model:    testModel,
		StreamFn: scriptedStreamFn(&calls, turnScript{text: "a very long answer that streams slowly", slowText: true}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := AgentLoop(ctx, []AgentMessage{ai.NewUserMessage("go", 0)}, &AgentContext{}, config)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	var sawAgentEnd bool
	var afterEnd int
	var aborted *ai.AssistantMessage
	for ev := range stream.Events() {
		if sawAgentEnd {
			afterEnd++
		}
		switch e := ev.(type) {
		case *MessageEndEvent:
			if m, ok := e.Message.(*ai.AssistantMessage); ok {
				aborted = m
			}
		case *AgentEndEvent:
			sawAgentEnd = true
		}
	}
	if !sawAgentEnd {
		t.Fatal("AgentEnd must fire after abort")
	}
	if afterEnd != 0 {
		t.Errorf("%d events after AgentEnd", afterEnd)
	}
	if aborted == nil || aborted.StopReason != ai.StopReasonAborted {
		t.Errorf("assistant message = %+v, want stop_reason aborted", aborted)
	}
}

func TestAgentLoopFollowUpQueue(t *testing.T) {
	var calls int32
	followUps := []AgentMessage{ai.NewUserMessage("and then?", 0)}
	config := &AgentLoopConfig{
		Model: testModel,
		StreamFn: scriptedStreamFn(&calls,
			turnScript{text: "first answer"},
			turnScript{text: "second answer"},
		),
		GetFollowUpMessages: func() []AgentMessage {
			msgs := followUps
			followUps = nil
			return msgs
		},
	}

	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("hi", 0)}, &AgentContext{}, config)
	_, messages := drainLoop(t, stream)

	roles := rolesOf(messages)
	want := []string{"user", "assistant", "user", "assistant"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	if messages[3].(*ai.AssistantMessage).Text() != "second answer" {
		t.Error("follow-up turn should run")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("LLM called %d times", calls)
	}
}

func TestAgentLoopStreamErrorEndsRun(t *testing.T) {
	var calls int32
	config := &AgentLoopConfig{
		Model:    testModel,
		StreamFn: scriptedStreamFn(&calls, turnScript{errText: "provider exploded"}),
	}
	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("go", 0)}, &AgentContext{}, config)
	_, messages := drainLoop(t, stream)

	last := messages[len(messages)-1].(*ai.AssistantMessage)
	if last.StopReason != ai.StopReasonError || last.ErrorMessage != "provider exploded" {
		t.Errorf("last message = %+v", last)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("loop should stop after a stream error, called %d times", calls)
	}
}

func TestAgentLoopStreamFnConstructionError(t *testing.T) {
	config := &AgentLoopConfig{
		Model: testModel,
		StreamFn: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
			return nil, errors.New("no api key")
		},
	}
	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("go", 0)}, &AgentContext{}, config)
	_, messages := drainLoop(t, stream)

	last := messages[len(messages)-1].(*ai.AssistantMessage)
	if last.StopReason != ai.StopReasonError || last.ErrorMessage != "no api key" {
		t.Errorf("last message = %+v", last)
	}
}

func TestAgentLoopContinueRejectsAssistantTail(t *testing.T) {
	agentCtx := &AgentContext{Messages: []AgentMessage{&ai.AssistantMessage{}}}
	if _, err := AgentLoopContinue(context.Background(), agentCtx, &AgentLoopConfig{Model: testModel}); err == nil {
		t.Error("continue from assistant tail should fail")
	}
	if _, err := AgentLoopContinue(context.Background(), &AgentContext{}, &AgentLoopConfig{Model: testModel}); err == nil {
		t.Error("continue with no messages should fail")
	}
}

func TestAgentLoopContinueRunsFromToolResultTail(t *testing.T) {
	var calls int32
	config := &AgentLoopConfig{
		Model:    testModel,
		StreamFn: scriptedStreamFn(&calls, turnScript{text: "resumed"}),
	}
	agentCtx := &AgentContext{Messages: []AgentMessage{
		ai.NewUserMessage("go", 0),
		&ai.AssistantMessage{Content: []ai.AssistantContent{&ai.ToolCall{ID: "c", Name: "t"}}, StopReason: ai.StopReasonToolUse},
		&ai.ToolResultMessage{ToolCallID: "c", ToolName: "t"},
	}}
	stream, err := AgentLoopContinue(context.Background(), agentCtx, config)
	if err != nil {
		t.Fatalf("AgentLoopContinue: %v", err)
	}
	_, messages := drainLoop(t, stream)
	if len(messages) != 1 || messages[0].(*ai.AssistantMessage).Text() != "resumed" {
		t.Errorf("messages = %v", messages)
	}
}

func TestAgentLoopForwardsMessageUpdates(t *testing.T) {
	var calls int32
	config := &AgentLoopConfig{
		Model:    testModel,
		StreamFn: scriptedStreamFn(&calls, turnScript{text: "hi"}),
	}
	stream := AgentLoop(context.Background(), []AgentMessage{ai.NewUserMessage("hello", 0)}, &AgentContext{}, config)

	var updates int
	for ev := range stream.Events() {
		if mu, ok := ev.(*MessageUpdateEvent); ok {
			updates++
			if mu.Event == nil || mu.Message == nil {
				t.Error("update must carry the wire event and the partial message")
			}
		}
	}
	if updates == 0 {
		t.Error("no MessageUpdate events forwarded")
	}
}
