package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vamsi/pi/pkg/ai"
)

// OpenAIResponsesOptions are the full options for the OpenAI Responses
// adapter.
type OpenAIResponsesOptions struct {
	ai.StreamOptions
	ReasoningEffort  string
	ReasoningSummary string
	ServiceTier      string
}

var openaiToolCallProviders = map[string]bool{"openai": true, "openai-codex": true, "opencode": true}

// StreamOpenAIResponses streams a response from the OpenAI Responses API.
func StreamOpenAIResponses(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *OpenAIResponsesOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &OpenAIResponsesOptions{}
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = ai.GetEnvAPIKey(model.Provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider: %s", model.Provider)
	}

	stream := ai.NewAssistantMessageEventStream()
	go runOpenAIResponses(ctx, stream, model, llmCtx, opts, apiKey)
	return stream, nil
}

func runOpenAIResponses(ctx context.Context, stream *ai.AssistantMessageEventStream, model *ai.Model, llmCtx *ai.Context, opts *OpenAIResponsesOptions, apiKey string) {
	output := newOutputMessage(model)

	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	body := buildResponsesBody(model, llmCtx, opts)
	if opts.OnPayload != nil {
		opts.OnPayload(body)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}

	headers := map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Content-Type":  "application/json",
		"Accept":        "text/event-stream",
	}
	for k, v := range model.Headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	url := strings.TrimRight(model.BaseURL, "/") + "/responses"
	resp, err := postWithRetry(ctx, url, headers, payload, opts.MaxRetryDelayMS)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}
	defer resp.Body.Close()

	stream.Push(&ai.StartEvent{Partial: output})

	processor := &responsesProcessor{model: model, output: output, stream: stream, serviceTier: opts.ServiceTier}
	err = parseSSEStream(resp.Body, func(_, data string) error {
		if data == "" || data == "[DONE]" {
			return nil
		}
		var event responsesEvent
		if json.Unmarshal([]byte(data), &event) != nil {
			return nil // malformed lines are skipped
		}
		return processor.handle(&event)
	})
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}
	if ctx.Err() != nil {
		failStream(ctx, stream, output, ctx.Err())
		return
	}
	if output.StopReason == ai.StopReasonError || output.StopReason == ai.StopReasonAborted {
		failStream(ctx, stream, output, fmt.Errorf("an unknown error occurred"))
		return
	}

	stream.Push(&ai.DoneEvent{Reason: output.StopReason, Message: output})
	stream.End()
}

// StreamSimpleOpenAIResponses streams with a reasoning level mapped to a
// reasoning effort string.
func StreamSimpleOpenAIResponses(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	responsesOpts := &OpenAIResponsesOptions{StreamOptions: base}
	if opts != nil && opts.Reasoning.Enabled() {
		level := opts.Reasoning
		if !ai.SupportsXHigh(model) {
			level = clampThinkingLevel(level)
		}
		responsesOpts.ReasoningEffort = string(level)
	}
	return StreamOpenAIResponses(ctx, model, llmCtx, responsesOpts)
}

func resolveCacheRetention(retention ai.CacheRetention) ai.CacheRetention {
	if retention != "" {
		return retention
	}
	if os.Getenv("PI_CACHE_RETENTION") == "long" {
		return ai.CacheRetentionLong
	}
	return ai.CacheRetentionShort
}

func buildResponsesBody(model *ai.Model, llmCtx *ai.Context, opts *OpenAIResponsesOptions) map[string]any {
	input := convertResponsesMessages(model, llmCtx, openaiToolCallProviders, true)
	retention := resolveCacheRetention(opts.CacheRetention)

	body := map[string]any{
		"model":  model.ID,
		"input":  input,
		"stream": true,
		"store":  false,
	}
	if retention != ai.CacheRetentionNone && opts.SessionID != "" {
		body["prompt_cache_key"] = opts.SessionID
	}
	if retention == ai.CacheRetentionLong && strings.Contains(model.BaseURL, "api.openai.com") {
		body["prompt_cache_retention"] = "24h"
	}
	if opts.MaxTokens > 0 {
		body["max_output_tokens"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.ServiceTier != "" {
		body["service_tier"] = opts.ServiceTier
	}
	if len(llmCtx.Tools) > 0 {
		strict := false
		body["tools"] = convertResponsesTools(llmCtx.Tools, &strict)
	}

	if model.Reasoning {
		if opts.ReasoningEffort != "" || opts.ReasoningSummary != "" {
			effort := opts.ReasoningEffort
			if effort == "" {
				effort = "medium"
			}
			summary := opts.ReasoningSummary
			if summary == "" {
				summary = "auto"
			}
			body["reasoning"] = map[string]any{"effort": effort, "summary": summary}
			body["include"] = []string{"reasoning.encrypted_content"}
		} else if strings.HasPrefix(model.Name, "gpt-5") || strings.HasPrefix(model.ID, "gpt-5") {
			// Suppress default reasoning burn when thinking is off.
			input = append(input, map[string]any{
				"role":    "developer",
				"content": []map[string]any{{"type": "input_text", "text": "# Juice: 0 !important"}},
			})
			body["input"] = input
		}
	}
	return body
}
