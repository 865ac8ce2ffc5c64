package ai

import (
	"context"
	"strings"
	"testing"
	"time"
)

// echoStream builds a stream that echoes the last user message with an
// "Echo: " prefix, synthesizing the usual start/delta/end shape.
func echoStream(model *Model, llmCtx *Context) *AssistantMessageEventStream {
	stream := NewAssistantMessageEventStream()
	go func() {
		output := &AssistantMessage{
			API:        model.API,
			Provider:   model.Provider,
			Model:      model.ID,
			StopReason: StopReasonStop,
			Timestamp:  time.Now().UnixMilli(),
		}
		last := ""
		for _, msg := range llmCtx.Messages {
			if um, ok := msg.(*UserMessage); ok {
				last = um.Text()
			}
		}
		text := "Echo: " + last

		stream.Push(&StartEvent{Partial: output})
		output.Content = append(output.Content, &TextContent{})
		stream.Push(&TextStartEvent{ContentIndex: 0, Partial: output})
		for _, word := range strings.SplitAfter(text, " ") {
			block := output.Content[0].(*TextContent)
			block.Text += word
			stream.Push(&TextDeltaEvent{ContentIndex: 0, Delta: word, Partial: output})
		}
		stream.Push(&TextEndEvent{ContentIndex: 0, Content: text, Partial: output})

		output.Usage = Usage{Input: len(last), Output: len(text), TotalTokens: len(last) + len(text)}
		CalculateCost(model, &output.Usage)
		stream.Push(&DoneEvent{Reason: StopReasonStop, Message: output})
		stream.End()
	}()
	return stream
}

func registerEchoProvider(t *testing.T) *Model {
	t.Helper()
	provider := &APIProvider{
		API: "echo",
		Stream: func(ctx context.Context, model *Model, llmCtx *Context, opts *StreamOptions) (*AssistantMessageEventStream, error) {
			return echoStream(model, llmCtx), nil
		},
		StreamSimple: func(ctx context.Context, model *Model, llmCtx *Context, opts *SimpleStreamOptions) (*AssistantMessageEventStream, error) {
			return echoStream(model, llmCtx), nil
		},
	}
	RegisterAPIProviderScoped(provider, t.Name())
	t.Cleanup(func() { UnregisterAPIProviders(t.Name()) })
	return &Model{
		ID: "echo-1", Name: "Echo", API: "echo", Provider: "echo",
		Cost: ModelCost{Input: 1, Output: 2},
	}
}

func TestCompleteSimpleWithEchoProvider(t *testing.T) {
	model := registerEchoProvider(t)

	result, err := CompleteSimple(context.Background(), model, &Context{
		Messages: []Message{NewUserMessage("hello world", 0)},
	}, nil)
	if err != nil {
		t.Fatalf("CompleteSimple: %v", err)
	}

	text, ok := result.Content[0].(*TextContent)
	if !ok || text.Text != "Echo: hello world" {
		t.Fatalf("content[0] = %#v, want Echo: hello world", result.Content[0])
	}
	if result.Usage.Output <= 0 {
		t.Error("usage.output should be positive")
	}
	if result.StopReason != StopReasonStop {
		t.Errorf("stop reason = %s, want stop", result.StopReason)
	}
	if result.Usage.Cost.Total <= 0 {
		t.Error("cost should be computed before done")
	}
}

func TestStreamPartialFidelity(t *testing.T) {
	model := registerEchoProvider(t)

	stream, err := StreamSimple(context.Background(), model, &Context{
		Messages: []Message{NewUserMessage("one two three", 0)},
	}, nil)
	if err != nil {
		t.Fatalf("StreamSimple: %v", err)
	}

	accumulated := ""
	for ev := range stream.Events() {
		switch e := ev.(type) {
		case *TextDeltaEvent:
			accumulated += e.Delta
			partial := e.Partial.Content[0].(*TextContent)
			if partial.Text != accumulated {
				t.Fatalf("partial %q does not match accumulated deltas %q", partial.Text, accumulated)
			}
		case *TextEndEvent:
			if e.Content != accumulated {
				t.Fatalf("end content %q != accumulated %q", e.Content, accumulated)
			}
		}
	}
}

func TestStreamUnknownAPI(t *testing.T) {
	model := &Model{ID: "x", API: "no-such-api", Provider: "x"}
	if _, err := Stream(context.Background(), model, &Context{}, nil); err == nil {
		t.Fatal("expected unknown-api error")
	}
	if _, err := StreamSimple(context.Background(), model, &Context{}, nil); err == nil {
		t.Fatal("expected unknown-api error")
	}
}

func TestScopedProviderRegistration(t *testing.T) {
	RegisterAPIProviderScoped(&APIProvider{API: "scoped-api"}, "scope-a")
	RegisterAPIProviderScoped(&APIProvider{API: "scoped-api-2"}, "scope-a")
	if GetAPIProvider("scoped-api") == nil {
		t.Fatal("scoped provider not registered")
	}
	UnregisterAPIProviders("scope-a")
	if GetAPIProvider("scoped-api") != nil || GetAPIProvider("scoped-api-2") != nil {
		t.Error("scoped providers should be removed")
	}
}
