package providers

import (
	"testing"

	"github.com/vamsi/pi/pkg/ai"
)

func TestMapBedrockStopReason(t *testing.T) {
	cases := map[string]ai.StopReason{
		"end_turn":                      ai.StopReasonStop,
		"stop_sequence":                 ai.StopReasonStop,
		"max_tokens":                    ai.StopReasonLength,
		"model_context_window_exceeded": ai.StopReasonLength,
		"tool_use":                      ai.StopReasonToolUse,
		"guardrail_intervened":          ai.StopReasonError,
	}
	for reason, want := range cases {
		if got := mapBedrockStopReason(reason); got != want {
			t.Errorf("%s -> %s, want %s", reason, got, want)
		}
	}
}

func TestBuildBedrockThinkingFields(t *testing.T) {
	claude := &ai.Model{ID: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", Reasoning: true}
	fields := buildBedrockThinkingFields(claude, &BedrockOptions{Reasoning: ai.ThinkingHigh})
	thinking, ok := fields["thinking"].(map[string]any)
	if !ok || thinking["type"] != "enabled" || thinking["budget_tokens"] != 8192 {
		t.Errorf("thinking fields = %v", fields)
	}

	// xhigh clamps to high for Bedrock Claude.
	fields = buildBedrockThinkingFields(claude, &BedrockOptions{Reasoning: ai.ThinkingXHigh})
	if fields["thinking"].(map[string]any)["budget_tokens"] != 8192 {
		t.Errorf("xhigh fields = %v", fields)
	}

	nova := &ai.Model{ID: "us.amazon.nova-pro-v1:0", Reasoning: false}
	if buildBedrockThinkingFields(nova, &BedrockOptions{Reasoning: ai.ThinkingHigh}) != nil {
		t.Error("non-reasoning model should carry no thinking fields")
	}
	if buildBedrockThinkingFields(claude, &BedrockOptions{}) != nil {
		t.Error("no reasoning level means no thinking fields")
	}
}

func TestBedrockSupportsPromptCaching(t *testing.T) {
	if !bedrockSupportsPromptCaching(&ai.Model{ID: "us.anthropic.claude-sonnet-4-5-20250929-v1:0"}) {
		t.Error("claude 4.x supports caching")
	}
	if !bedrockSupportsPromptCaching(&ai.Model{ID: "m", Cost: ai.ModelCost{CacheRead: 0.1}}) {
		t.Error("cache pricing implies caching support")
	}
	if bedrockSupportsPromptCaching(&ai.Model{ID: "us.amazon.nova-pro-v1:0"}) {
		t.Error("nova does not cache")
	}
}

func TestBuildBedrockInput(t *testing.T) {
	model := &ai.Model{
		ID: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", Reasoning: true,
		Input: []ai.Modality{ai.ModalityText},
	}
	llmCtx := &ai.Context{
		SystemPrompt: "sys",
		Messages:     []ai.Message{ai.NewUserMessage("hi", 0)},
		Tools: []ai.Tool{{Name: "search", Description: "find things",
			Parameters: map[string]any{"type": "object"}}},
	}
	input, err := buildBedrockInput(model, llmCtx, &BedrockOptions{
		StreamOptions: ai.StreamOptions{MaxTokens: 1000},
		Reasoning:     ai.ThinkingLow,
	})
	if err != nil {
		t.Fatalf("buildBedrockInput: %v", err)
	}
	if *input.ModelId != model.ID {
		t.Errorf("model id = %s", *input.ModelId)
	}
	if *input.InferenceConfig.MaxTokens != 1000 {
		t.Errorf("max tokens = %d", *input.InferenceConfig.MaxTokens)
	}
	// System prompt plus a cache point (claude 4.x caches by default).
	if len(input.System) != 2 {
		t.Errorf("system blocks = %d", len(input.System))
	}
	if len(input.ToolConfig.Tools) != 1 {
		t.Errorf("tools = %d", len(input.ToolConfig.Tools))
	}
	if input.AdditionalModelRequestFields == nil {
		t.Error("thinking fields missing")
	}
}
