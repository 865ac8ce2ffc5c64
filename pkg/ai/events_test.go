package ai

import (
	"context"
	"testing"
	"time"
)

func TestEventStreamDeliversInPushOrder(t *testing.T) {
	stream := NewAssistantMessageEventStream()
	msg := &AssistantMessage{}

	go func() {
		stream.Push(&StartEvent{Partial: msg})
		stream.Push(&TextStartEvent{ContentIndex: 0, Partial: msg})
		stream.Push(&TextDeltaEvent{ContentIndex: 0, Delta: "hel", Partial: msg})
		stream.Push(&TextDeltaEvent{ContentIndex: 0, Delta: "lo", Partial: msg})
		stream.Push(&TextEndEvent{ContentIndex: 0, Content: "hello", Partial: msg})
		stream.Push(&DoneEvent{Reason: StopReasonStop, Message: msg})
		stream.End()
	}()

	var types []string
	for ev := range stream.Events() {
		types = append(types, ev.Type())
	}
	want := []string{"start", "text_start", "text_delta", "text_delta", "text_end", "done"}
	if len(types) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(types), len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}

	result, err := stream.Result(context.Background())
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result != msg {
		t.Error("Result did not return the done message")
	}
}

func TestEventStreamPushNeverBlocksProducer(t *testing.T) {
	stream := NewAssistantMessageEventStream()
	msg := &AssistantMessage{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			stream.Push(&TextDeltaEvent{ContentIndex: 0, Delta: "x", Partial: msg})
		}
		stream.Push(&DoneEvent{Reason: StopReasonStop, Message: msg})
		stream.End()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked with a lagging consumer")
	}

	count := 0
	for range stream.Events() {
		count++
	}
	if count != 10_001 {
		t.Errorf("consumer saw %d events, want 10001", count)
	}
}

func TestEventStreamFirstTerminalEventWins(t *testing.T) {
	stream := NewAssistantMessageEventStream()
	first := &AssistantMessage{Model: "first"}
	second := &AssistantMessage{Model: "second"}

	stream.Push(&DoneEvent{Reason: StopReasonStop, Message: first})
	stream.Push(&DoneEvent{Reason: StopReasonStop, Message: second})
	stream.End()

	count := 0
	for range stream.Events() {
		count++
	}
	if count != 1 {
		t.Errorf("saw %d terminal events, want 1", count)
	}
	result, err := stream.Result(context.Background())
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Model != "first" {
		t.Errorf("latched %q, want first", result.Model)
	}
}

func TestEventStreamErrorEventFailsResult(t *testing.T) {
	stream := NewAssistantMessageEventStream()
	errMsg := &AssistantMessage{StopReason: StopReasonError, ErrorMessage: "boom"}
	stream.Push(&ErrorEvent{Reason: StopReasonError, Error: errMsg})
	stream.End()

	for range stream.Events() {
	}
	result, err := stream.Result(context.Background())
	if err == nil {
		t.Fatal("expected error from Result")
	}
	var streamErr *StreamError
	ok := false
	if se, isSE := err.(*StreamError); isSE {
		streamErr, ok = se, true
	}
	if !ok {
		t.Fatalf("error is %T, want *StreamError", err)
	}
	if streamErr.Message != errMsg || result != errMsg {
		t.Error("StreamError should carry the partial message")
	}
	if err.Error() != "boom" {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestEventStreamPushAfterEndIsDropped(t *testing.T) {
	stream := NewAssistantMessageEventStream()
	stream.Push(&DoneEvent{Reason: StopReasonStop, Message: &AssistantMessage{}})
	stream.End()
	stream.End() // idempotent
	stream.Push(&TextDeltaEvent{Delta: "late"})

	count := 0
	for range stream.Events() {
		count++
	}
	if count != 1 {
		t.Errorf("saw %d events, want 1", count)
	}
}

func TestEventStreamResultHonorsContext(t *testing.T) {
	stream := NewAssistantMessageEventStream()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := stream.Result(ctx); err == nil {
		t.Fatal("expected context error for unresolved stream")
	}
}
