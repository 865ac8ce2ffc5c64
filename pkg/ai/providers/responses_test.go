package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/vamsi/pi/pkg/ai"
)

const responsesSSE = `event: response.output_item.added
data: {"type":"response.output_item.added","item":{"type":"reasoning","id":"rs_1","summary":[]}}

event: response.reasoning_summary_text.delta
data: {"type":"response.reasoning_summary_text.delta","delta":"Weighing options"}

event: response.output_item.done
data: {"type":"response.output_item.done","item":{"type":"reasoning","id":"rs_1","summary":[{"type":"summary_text","text":"Weighing options"}]}}

event: response.output_item.added
data: {"type":"response.output_item.added","item":{"type":"message","id":"msg_1","role":"assistant"}}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":"Hello"}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":" there"}

event: response.output_item.done
data: {"type":"response.output_item.done","item":{"type":"message","id":"msg_1","role":"assistant","content":[{"type":"output_text","text":"Hello there"}]}}

event: response.output_item.added
data: {"type":"response.output_item.added","item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"search","arguments":""}}

event: response.function_call_arguments.delta
data: {"type":"response.function_call_arguments.delta","delta":"{\"query\":\"go\"}"}

event: response.output_item.done
data: {"type":"response.output_item.done","item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"search","arguments":"{\"query\":\"go\"}"}}

event: response.completed
data: {"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":20,"output_tokens":12,"total_tokens":32,"input_tokens_details":{"cached_tokens":5}}}}

`

func responsesTestModel(baseURL string) *ai.Model {
	return &ai.Model{
		ID: "gpt-5.1", Name: "GPT-5.1", API: "openai-responses", Provider: "openai",
		BaseURL: baseURL, Reasoning: true,
		Input: []ai.Modality{ai.ModalityText, ai.ModalityImage},
		Cost:  ai.ModelCost{Input: 1.25, Output: 10, CacheRead: 0.13},
	}
}

func TestStreamOpenAIResponsesNormalizesWireEvents(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(responsesSSE))
	}))
	defer server.Close()

	stream, err := StreamOpenAIResponses(context.Background(), responsesTestModel(server.URL), &ai.Context{
		SystemPrompt: "be helpful",
		Messages:     []ai.Message{ai.NewUserMessage("hello", 0)},
	}, &OpenAIResponsesOptions{
		StreamOptions:   ai.StreamOptions{APIKey: "sk-test", SessionID: "sess-1"},
		ReasoningEffort: "high",
	})
	if err != nil {
		t.Fatalf("StreamOpenAIResponses: %v", err)
	}

	var types []string
	var endedCall *ai.ToolCall
	var toolDeltas string
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
		"thinking_start", "thinking_delta", "thinking_end",
		"text_start", "text_delta", "text_delta", "text_end",
		"toolcall_start", "toolcall_delta", "toolcall_end",
		"done",
	}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("event order = %v, want %v", types, want)
	}

	var fromDeltas map[string]any
	if err := json.Unmarshal([]byte(toolDeltas), &fromDeltas); err != nil {
		t.Fatalf("deltas do not parse: %v", err)
	}
	if !reflect.DeepEqual(fromDeltas, endedCall.Arguments) {
		t.Errorf("delta args %v != end args %v", fromDeltas, endedCall.Arguments)
	}
	if endedCall.ID != "call_1|fc_1" {
		t.Errorf("tool id should combine call and item ids, got %q", endedCall.ID)
	}

	result, err := stream.Result(context.Background())
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.StopReason != ai.StopReasonToolUse {
		t.Errorf("stop reason = %s (tool calls present)", result.StopReason)
	}
	if result.Usage.Input != 15 || result.Usage.CacheRead != 5 || result.Usage.Output != 12 {
		t.Errorf("usage = %+v", result.Usage)
	}

	// Thinking blocks capture the raw reasoning item for replay.
	thinking, ok := result.Content[0].(*ai.ThinkingContent)
	if !ok || thinking.ThinkingSignature == "" {
		t.Fatalf("content[0] = %#v", result.Content[0])
	}
	var item map[string]any
	if err := json.Unmarshal([]byte(thinking.ThinkingSignature), &item); err != nil || item["type"] != "reasoning" {
		t.Errorf("thinking signature should hold the reasoning item: %v", thinking.ThinkingSignature)
	}

	// Request body assertions.
	if gotBody["model"] != "gpt-5.1" || gotBody["store"] != false {
		t.Errorf("body = %v", gotBody)
	}
	reasoning, _ := gotBody["reasoning"].(map[string]any)
	if reasoning["effort"] != "high" {
		t.Errorf("reasoning = %v", reasoning)
	}
	if gotBody["prompt_cache_key"] != "sess-1" {
		t.Errorf("prompt_cache_key = %v", gotBody["prompt_cache_key"])
	}
}

func TestConvertResponsesMessagesRoundTripsHistory(t *testing.T) {
	model := responsesTestModel("")
	reasoningItem := `{"type":"reasoning","id":"rs_1","summary":[{"type":"summary_text","text":"hm"}]}`
	llmCtx := &ai.Context{
		SystemPrompt: "sys",
		Messages: []ai.Message{
			ai.NewUserMessage("q", 0),
			&ai.AssistantMessage{Model: "gpt-5.1", Provider: "openai", API: "openai-responses",
				Content: []ai.AssistantContent{
					&ai.ThinkingContent{Thinking: "hm", ThinkingSignature: reasoningItem},
					&ai.TextContent{Text: "answer", TextSignature: "msg_1"},
					&ai.ToolCall{ID: "call_1|fc_1", Name: "search", Arguments: map[string]any{"q": "x"}},
				}},
			&ai.ToolResultMessage{ToolCallID: "call_1|fc_1", ToolName: "search",
				Content: []ai.ToolResultContent{&ai.TextContent{Text: "res"}}},
		},
	}
	items := convertResponsesMessages(model, llmCtx, openaiToolCallProviders, true)

	// developer prompt (reasoning model), user, reasoning, message, function_call, function_call_output
	if len(items) != 6 {
		t.Fatalf("got %d items: %v", len(items), items)
	}
	if items[0]["role"] != "developer" {
		t.Errorf("system role = %v (reasoning models use developer)", items[0]["role"])
	}
	if items[2]["type"] != "reasoning" {
		t.Errorf("items[2] = %v", items[2])
	}
	fc := items[4]
	if fc["type"] != "function_call" || fc["call_id"] != "call_1" || fc["id"] != "fc_1" {
		t.Errorf("function_call item = %v", fc)
	}
	out := items[5]
	if out["type"] != "function_call_output" || out["call_id"] != "call_1" || out["output"] != "res" {
		t.Errorf("function_call_output item = %v", out)
	}
}

func TestMapResponsesStatus(t *testing.T) {
	cases := map[string]ai.StopReason{
		"completed":  ai.StopReasonStop,
		"incomplete": ai.StopReasonLength,
		"failed":     ai.StopReasonError,
		"cancelled":  ai.StopReasonError,
		"":           ai.StopReasonStop,
	}
	for status, want := range cases {
		if got := mapResponsesStatus(status); got != want {
			t.Errorf("status %q -> %s, want %s", status, got, want)
		}
	}
}

func TestApplyServiceTierPricing(t *testing.T) {
	usage := ai.Usage{Cost: ai.UsageCost{Input: 1, Output: 2, Total: 3}}
	applyServiceTierPricing(&usage, "flex")
	if usage.Cost.Input != 0.5 || usage.Cost.Output != 1 || usage.Cost.Total != 1.5 {
		t.Errorf("flex pricing = %+v", usage.Cost)
	}
	usage = ai.Usage{Cost: ai.UsageCost{Input: 1, Total: 1}}
	applyServiceTierPricing(&usage, "")
	if usage.Cost.Input != 1 {
		t.Error("default tier should not change pricing")
	}
}
