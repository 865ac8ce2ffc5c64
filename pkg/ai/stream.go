package ai

import (
	"context"
	"fmt"
)

func resolveAPIProvider(api string) (*APIProvider, error) {
	provider := GetAPIProvider(api)
	if provider == nil {
		return nil, fmt.Errorf("no API provider registered for api: %s", api)
	}
	return provider, nil
}

// Stream opens an event stream for the model using the provider registered
// for its api tag. Invalid input (unknown api, missing credentials) fails
// synchronously; everything after that arrives as stream events.
func Stream(ctx context.Context, model *Model, llmCtx *Context, opts *StreamOptions) (*AssistantMessageEventStream, error) {
	provider, err := resolveAPIProvider(model.API)
	if err != nil {
		return nil, err
	}
	return provider.Stream(ctx, model, llmCtx, opts)
}

// StreamSimple opens an event stream using the simple API: a reasoning level
// mapped per-provider to its native thinking configuration.
func StreamSimple(ctx context.Context, model *Model, llmCtx *Context, opts *SimpleStreamOptions) (*AssistantMessageEventStream, error) {
	provider, err := resolveAPIProvider(model.API)
	if err != nil {
		return nil, err
	}
	return provider.StreamSimple(ctx, model, llmCtx, opts)
}

// Complete drains a full-API stream and returns the final message.
func Complete(ctx context.Context, model *Model, llmCtx *Context, opts *StreamOptions) (*AssistantMessage, error) {
	stream, err := Stream(ctx, model, llmCtx, opts)
	if err != nil {
		return nil, err
	}
	return drain(ctx, stream)
}

// CompleteSimple drains a simple-API stream and returns the final message.
func CompleteSimple(ctx context.Context, model *Model, llmCtx *Context, opts *SimpleStreamOptions) (*AssistantMessage, error) {
	stream, err := StreamSimple(ctx, model, llmCtx, opts)
	if err != nil {
		return nil, err
	}
	return drain(ctx, stream)
}

func drain(ctx context.Context, stream *AssistantMessageEventStream) (*AssistantMessage, error) {
	for range stream.Events() {
	}
	return stream.Result(ctx)
}
