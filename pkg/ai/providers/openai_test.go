package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vamsi/pi/pkg/ai"
)

const completionsSSE = `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Sunny"}}]}

data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":", 22C."}}]}

data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":"}}]}}]}

data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}

data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: {"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":30,"prompt_tokens_details":{"cached_tokens":4},"completion_tokens_details":{"reasoning_tokens":6}}}

data: [DONE]

`

func completionsTestModel(baseURL string) *ai.Model {
	return &ai.Model{
		ID: "gpt-4o", Name: "GPT-4o", API: "openai-completions", Provider: "openai",
		BaseURL: baseURL + "/v1",
		Input:   []ai.Modality{ai.ModalityText, ai.ModalityImage},
		Cost:    ai.ModelCost{Input: 2.5, Output: 10},
	}
}

func TestStreamOpenAICompletionsNormalizesWireEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(completionsSSE))
	}))
	defer server.Close()

	stream, err := StreamOpenAICompletions(context.Background(), completionsTestModel(server.URL), &ai.Context{
		Messages: []ai.Message{ai.NewUserMessage("search for go", 0)},
	}, &OpenAICompletionsOptions{StreamOptions: ai.StreamOptions{APIKey: "sk-test"}})
	if err != nil {
		t.Fatalf("StreamOpenAICompletions: %v", err)
	}

	var types []string
	var toolDeltas string
	var endedCall *ai.ToolCall
	for ev := range stream.Events() {
		types = append(types, ev.Type())
		switch e := ev.(type) {
		case *ai.ToolCallDeltaEvent:
			toolDeltas += e.Delta
		case *ai.ToolCallEndEvent:
			endedCall = e.ToolCall
		}
	}
	want := []string{
		"start",
		"text_start", "text_delta", "text_delta", "text_end",
		"toolcall_start", "toolcall_delta", "toolcall_delta", "toolcall_end",
		"done",
	}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("event order = %v, want %v", types, want)
	}

	var fromDeltas map[string]any
	if err := json.Unmarshal([]byte(toolDeltas), &fromDeltas); err != nil {
		t.Fatalf("deltas %q do not parse: %v", toolDeltas, err)
	}
	if !reflect.DeepEqual(fromDeltas, endedCall.Arguments) {
		t.Errorf("delta args %v != end args %v", fromDeltas, endedCall.Arguments)
	}

	result, err := stream.Result(context.Background())
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.StopReason != ai.StopReasonToolUse {
		t.Errorf("stop reason = %s", result.StopReason)
	}
	// Cached tokens move to cacheRead; reasoning tokens count as output.
	u := result.Usage
	if u.Input != 8 || u.Output != 36 || u.CacheRead != 4 {
		t.Errorf("usage = %+v", u)
	}
}

func TestCompletionsCompatDetection(t *testing.T) {
	mistral := &ai.Model{Provider: "mistral", BaseURL: "https://api.mistral.ai/v1"}
	compat := completionsCompat(mistral)
	if !compat.RequiresMistralToolIDs || !compat.RequiresToolResultName || compat.MaxTokensField != "max_tokens" {
		t.Errorf("mistral compat = %+v", compat)
	}

	grok := &ai.Model{Provider: "xai", BaseURL: "https://api.x.ai/v1"}
	if completionsCompat(grok).SupportsReasoningEffort {
		t.Error("grok does not take reasoning_effort")
	}

	// An explicit compat block wins over detection.
	custom := &ai.Model{Provider: "mistral", Compat: &ai.CompletionsCompat{MaxTokensField: "max_completion_tokens"}}
	if completionsCompat(custom).MaxTokensField != "max_completion_tokens" {
		t.Error("explicit compat should win")
	}
}

func TestNormalizeMistralToolID(t *testing.T) {
	cases := map[string]string{
		"call_123456789abc": "call12345",
		"ab":                "abABCDEFG",
		"x!y@z":             "xyzABCDEF",
	}
	for in, want := range cases {
		if got := normalizeMistralToolID(in); got != want {
			t.Errorf("normalizeMistralToolID(%q) = %q, want %q", in, got, want)
		}
		if len(normalizeMistralToolID(in)) != 9 {
			t.Errorf("length must be 9")
		}
	}
}

func TestConvertCompletionsMessages(t *testing.T) {
	model := completionsTestModel("")
	compat := completionsCompat(model)
	llmCtx := &ai.Context{
		SystemPrompt: "be brief",
		Messages: []ai.Message{
			ai.NewUserMessage("hi", 0),
			&ai.AssistantMessage{Content: []ai.AssistantContent{
				&ai.TextContent{Text: "calling"},
				&ai.ToolCall{ID: "call_1", Name: "search", Arguments: map[string]any{"q": "x"}},
			}},
			&ai.ToolResultMessage{ToolCallID: "call_1", ToolName: "search",
				Content: []ai.ToolResultContent{&ai.TextContent{Text: "found"}}},
		},
	}
	msgs := convertCompletionsMessages(model, llmCtx, compat)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "system" || msgs[0].Content != "be brief" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[2].ToolCalls[0].Function.Name != "search" {
		t.Errorf("assistant tool call = %+v", msgs[2])
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", msgs[3])
	}
}

func TestBuildCompletionsRequestDeclaresEmptyToolsForToolHistory(t *testing.T) {
	model := completionsTestModel("")
	llmCtx := &ai.Context{Messages: []ai.Message{
		&ai.ToolResultMessage{ToolCallID: "a", ToolName: "t"},
	}}
	req := buildCompletionsRequest(model, llmCtx, &OpenAICompletionsOptions{}, completionsCompat(model))
	if req.Tools == nil || len(req.Tools) != 0 {
		t.Errorf("tool history without tools should send an empty tools list, got %v", req.Tools)
	}
}
