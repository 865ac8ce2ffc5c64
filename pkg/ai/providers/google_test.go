package providers

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/vamsi/pi/pkg/ai"
)

func googleTestModel(id string) *ai.Model {
	return &ai.Model{
		ID: id, Name: id, API: "google-generative-ai", Provider: "google",
		Reasoning: true,
		Input:     []ai.Modality{ai.ModalityText, ai.ModalityImage},
	}
}

func TestConvertGoogleMessages(t *testing.T) {
	model := googleTestModel("gemini-2.5-pro")
	sig := base64.StdEncoding.EncodeToString([]byte("signature"))
	llmCtx := &ai.Context{
		Messages: []ai.Message{
			ai.NewUserMessage("hi", 0),
			&ai.AssistantMessage{Model: "gemini-2.5-pro", Provider: "google",
				Content: []ai.AssistantContent{
					&ai.ThinkingContent{Thinking: "let me think", ThinkingSignature: sig},
					&ai.TextContent{Text: "calling tool"},
					&ai.ToolCall{ID: "tc_1", Name: "search", Arguments: map[string]any{"q": "x"}},
				}},
			&ai.ToolResultMessage{ToolCallID: "tc_1", ToolName: "search",
				Content: []ai.ToolResultContent{&ai.TextContent{Text: "found"}}},
			&ai.ToolResultMessage{ToolCallID: "tc_2", ToolName: "other",
				Content: []ai.ToolResultContent{&ai.TextContent{Text: "too"}}, IsError: true},
		},
	}
	contents := convertGoogleMessages(model, llmCtx)

	// user, model, user(two function responses merged)
	if len(contents) != 3 {
		t.Fatalf("got %d contents", len(contents))
	}
	modelParts := contents[1].Parts
	if len(modelParts) != 3 {
		t.Fatalf("model parts = %d", len(modelParts))
	}
	if !modelParts[0].Thought || string(modelParts[0].ThoughtSignature) != "signature" {
		t.Errorf("thinking part = %+v", modelParts[0])
	}
	if modelParts[2].FunctionCall == nil || modelParts[2].FunctionCall.Name != "search" {
		t.Errorf("function call part = %+v", modelParts[2])
	}

	responses := contents[2].Parts
	if len(responses) != 2 {
		t.Fatalf("consecutive tool results should merge, got %d parts", len(responses))
	}
	if responses[0].FunctionResponse.Response["output"] != "found" {
		t.Errorf("response[0] = %+v", responses[0].FunctionResponse)
	}
	if _, hasErr := responses[1].FunctionResponse.Response["error"]; !hasErr {
		t.Errorf("error result should use the error key: %+v", responses[1].FunctionResponse)
	}
}

func TestConvertGoogleMessagesForeignThinkingBecomesText(t *testing.T) {
	model := googleTestModel("gemini-2.5-pro")
	llmCtx := &ai.Context{Messages: []ai.Message{
		&ai.AssistantMessage{Model: "other", Provider: "google",
			Content: []ai.AssistantContent{&ai.ThinkingContent{Thinking: "foreign reasoning"}}},
	}}
	contents := convertGoogleMessages(model, llmCtx)
	if len(contents) != 1 || contents[0].Parts[0].Thought {
		t.Errorf("foreign thinking should flatten to text: %+v", contents)
	}
}

func TestConvertGoogleMessagesGemini3UnsignedCalls(t *testing.T) {
	model := googleTestModel("gemini-3-pro-preview")
	llmCtx := &ai.Context{Messages: []ai.Message{
		&ai.AssistantMessage{Model: "claude-x", Provider: "anthropic",
			Content: []ai.AssistantContent{&ai.ToolCall{ID: "a", Name: "search", Arguments: map[string]any{}}}},
	}}
	contents := convertGoogleMessages(model, llmCtx)
	part := contents[0].Parts[0]
	if part.FunctionCall != nil || !strings.Contains(part.Text, "Historical context") {
		t.Errorf("unsigned foreign call on gemini-3 should become text, got %+v", part)
	}
}

func TestIsValidThoughtSignature(t *testing.T) {
	if !isValidThoughtSignature("QUJDRA==") {
		t.Error("valid base64 rejected")
	}
	for _, bad := range []string{"", "abc", "not base64!!", "a==="} {
		if isValidThoughtSignature(bad) {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestGoogleThinkingLevel(t *testing.T) {
	if googleThinkingLevel(ai.ThinkingLow, "gemini-3-pro-preview") != "LOW" {
		t.Error("3-pro low")
	}
	if googleThinkingLevel(ai.ThinkingMedium, "gemini-3-pro-preview") != "HIGH" {
		t.Error("3-pro has no medium; maps to HIGH")
	}
	if googleThinkingLevel(ai.ThinkingMedium, "gemini-3-flash-preview") != "MEDIUM" {
		t.Error("flash medium")
	}
	if googleThinkingLevel(ai.ThinkingMinimal, "gemini-3-flash-preview") != "MINIMAL" {
		t.Error("flash minimal")
	}
}

func TestSimpleGoogleThinkingMapping(t *testing.T) {
	// 2.x models: token budgets from the shared table.
	budget := simpleGoogleThinking(googleTestModel("gemini-2.5-flash"), &ai.SimpleStreamOptions{Reasoning: ai.ThinkingHigh})
	if !budget.Enabled || budget.BudgetTokens != 16384 || budget.Level != "" {
		t.Errorf("2.x thinking = %+v", budget)
	}
	// xhigh keeps its larger budget on 2.x.
	budget = simpleGoogleThinking(googleTestModel("gemini-2.5-flash"), &ai.SimpleStreamOptions{Reasoning: ai.ThinkingXHigh})
	if budget.BudgetTokens != 24576 {
		t.Errorf("xhigh budget = %d", budget.BudgetTokens)
	}
	// Gemini 3: levels.
	level := simpleGoogleThinking(googleTestModel("gemini-3-flash-preview"), &ai.SimpleStreamOptions{Reasoning: ai.ThinkingMedium})
	if !level.Enabled || level.Level != "MEDIUM" {
		t.Errorf("gemini-3 thinking = %+v", level)
	}
	// Reasoning off.
	off := simpleGoogleThinking(googleTestModel("gemini-2.5-flash"), nil)
	if off.Enabled {
		t.Error("nil options should disable thinking")
	}
	// Non-reasoning model ignores the level.
	plain := googleTestModel("gemini-2.0-flash")
	plain.Reasoning = false
	if simpleGoogleThinking(plain, &ai.SimpleStreamOptions{Reasoning: ai.ThinkingHigh}).Enabled {
		t.Error("non-reasoning model must ignore the level")
	}
}

func TestNewGoogleToolCallIDUnique(t *testing.T) {
	a, b := newGoogleToolCallID("search"), newGoogleToolCallID("search")
	if a == b {
		t.Error("ids should be unique")
	}
	if !strings.HasPrefix(a, "search_") {
		t.Errorf("id = %q", a)
	}
}
