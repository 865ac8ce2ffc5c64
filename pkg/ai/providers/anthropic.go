package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vamsi/pi/internal/jsonx"
	"github.com/vamsi/pi/pkg/ai"
)

// AnthropicOptions are the full options for the Anthropic Messages adapter.
type AnthropicOptions struct {
	ai.StreamOptions
	ThinkingEnabled      bool
	ThinkingBudgetTokens int
	// InterleavedThinking requests the interleaved-thinking beta. On by
	// default in the simple API.
	InterleavedThinking bool
	ToolChoice          string
}

// StreamAnthropic streams a response from the Anthropic Messages API.
func StreamAnthropic(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *AnthropicOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &AnthropicOptions{InterleavedThinking: true}
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = ai.GetEnvAPIKey(model.Provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider: %s", model.Provider)
	}

	stream := ai.NewAssistantMessageEventStream()
	go runAnthropic(ctx, stream, model, llmCtx, opts, apiKey)
	return stream, nil
}

func runAnthropic(ctx context.Context, stream *ai.AssistantMessageEventStream, model *ai.Model, llmCtx *ai.Context, opts *AnthropicOptions, apiKey string) {
	output := newOutputMessage(model)

	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	cacheControl := anthropicCacheControl(model.BaseURL, opts.CacheRetention)

	betas := []string{"fine-grained-tool-streaming-2025-05-14"}
	if opts.InterleavedThinking {
		betas = append(betas, "interleaved-thinking-2025-05-14")
	}

	clientOpts := []option.RequestOption{option.WithBaseURL(model.BaseURL)}
	if strings.Contains(apiKey, "sk-ant-oat") {
		clientOpts = append(clientOpts, option.WithAuthToken(apiKey))
	} else {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	clientOpts = append(clientOpts, option.WithHeader("anthropic-beta", strings.Join(betas, ",")))
	for k, v := range model.Headers {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	for k, v := range opts.Headers {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	client := anthropic.NewClient(clientOpts...)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens / 3
		if maxTokens <= 0 {
			maxTokens = 4096
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.ID),
		Messages:  convertAnthropicMessages(llmCtx.Messages, model, cacheControl),
		MaxTokens: int64(maxTokens),
	}

	if llmCtx.SystemPrompt != "" {
		block := anthropic.TextBlockParam{Text: llmCtx.SystemPrompt}
		if cacheControl != nil {
			block.CacheControl = *cacheControl
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if len(llmCtx.Tools) > 0 {
		tools, err := convertAnthropicTools(llmCtx.Tools)
		if err != nil {
			failStream(ctx, stream, output, err)
			return
		}
		params.Tools = tools
	}
	if opts.ThinkingEnabled && model.Reasoning {
		budget := opts.ThinkingBudgetTokens
		if budget < 1024 {
			budget = 1024
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}
	if opts.ToolChoice != "" {
		switch opts.ToolChoice {
		case "any":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case "none":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}
	if opts.OnPayload != nil {
		opts.OnPayload(params)
	}

	stream.Push(&ai.StartEvent{Partial: output})

	sse := client.Messages.NewStreaming(ctx, params)
	defer sse.Close()

	// Maps the API's block index to our content index.
	blockIndex := map[int64]int{}
	partialJSON := map[int]string{}

	for sse.Next() {
		event := sse.Current()
		switch event.Type {
		case "message_start":
			u := event.AsMessageStart().Message.Usage
			output.Usage.Input = int(u.InputTokens)
			output.Usage.Output = int(u.OutputTokens)
			output.Usage.CacheRead = int(u.CacheReadInputTokens)
			output.Usage.CacheWrite = int(u.CacheCreationInputTokens)
			finishUsage(model, output)

		case "content_block_start":
			start := event.AsContentBlockStart()
			switch start.ContentBlock.Type {
			case "text":
				output.Content = append(output.Content, &ai.TextContent{})
				blockIndex[start.Index] = len(output.Content) - 1
				stream.Push(&ai.TextStartEvent{ContentIndex: len(output.Content) - 1, Partial: output})
			case "thinking":
				output.Content = append(output.Content, &ai.ThinkingContent{})
				blockIndex[start.Index] = len(output.Content) - 1
				stream.Push(&ai.ThinkingStartEvent{ContentIndex: len(output.Content) - 1, Partial: output})
			case "tool_use":
				toolUse := start.ContentBlock.AsToolUse()
				output.Content = append(output.Content, &ai.ToolCall{ID: toolUse.ID, Name: toolUse.Name, Arguments: map[string]any{}})
				idx := len(output.Content) - 1
				blockIndex[start.Index] = idx
				partialJSON[idx] = ""
				stream.Push(&ai.ToolCallStartEvent{ContentIndex: idx, Partial: output})
			}

		case "content_block_delta":
			deltaEvent := event.AsContentBlockDelta()
			idx, ok := blockIndex[deltaEvent.Index]
			if !ok {
				continue
			}
			delta := deltaEvent.Delta
			switch delta.Type {
			case "text_delta":
				if block, ok := output.Content[idx].(*ai.TextContent); ok && delta.Text != "" {
					block.Text += delta.Text
					stream.Push(&ai.TextDeltaEvent{ContentIndex: idx, Delta: delta.Text, Partial: output})
				}
			case "thinking_delta":
				if block, ok := output.Content[idx].(*ai.ThinkingContent); ok && delta.Thinking != "" {
					block.Thinking += delta.Thinking
					stream.Push(&ai.ThinkingDeltaEvent{ContentIndex: idx, Delta: delta.Thinking, Partial: output})
				}
			case "signature_delta":
				if block, ok := output.Content[idx].(*ai.ThinkingContent); ok {
					block.ThinkingSignature += delta.Signature
				}
			case "input_json_delta":
				if block, ok := output.Content[idx].(*ai.ToolCall); ok && delta.PartialJSON != "" {
					partialJSON[idx] += delta.PartialJSON
					block.Arguments = jsonx.Parse(partialJSON[idx])
					stream.Push(&ai.ToolCallDeltaEvent{ContentIndex: idx, Delta: delta.PartialJSON, Partial: output})
				}
			}

		case "content_block_stop":
			stop := event.AsContentBlockStop()
			idx, ok := blockIndex[stop.Index]
			if !ok {
				continue
			}
			switch block := output.Content[idx].(type) {
			case *ai.TextContent:
				stream.Push(&ai.TextEndEvent{ContentIndex: idx, Content: block.Text, Partial: output})
			case *ai.ThinkingContent:
				stream.Push(&ai.ThinkingEndEvent{ContentIndex: idx, Content: block.Thinking, Signature: block.ThinkingSignature, Partial: output})
			case *ai.ToolCall:
				if raw, ok := partialJSON[idx]; ok && raw != "" {
					block.Arguments = jsonx.Parse(raw)
				}
				stream.Push(&ai.ToolCallEndEvent{ContentIndex: idx, ToolCall: block, Partial: output})
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Delta.StopReason != "" {
				output.StopReason = mapAnthropicStopReason(string(md.Delta.StopReason))
			}
			if md.Usage.OutputTokens > 0 {
				output.Usage.Output = int(md.Usage.OutputTokens)
			}
			if md.Usage.InputTokens > 0 {
				output.Usage.Input = int(md.Usage.InputTokens)
			}
			finishUsage(model, output)

		case "error":
			failStream(ctx, stream, output, errors.New("anthropic stream error"))
			return
		}
	}

	if err := sse.Err(); err != nil {
		failStream(ctx, stream, output, wrapAnthropicError(err, model.ID))
		return
	}
	if ctx.Err() != nil {
		failStream(ctx, stream, output, ctx.Err())
		return
	}

	stream.Push(&ai.DoneEvent{Reason: output.StopReason, Message: output})
	stream.End()
}

// StreamSimpleAnthropic streams with a reasoning level mapped to a thinking
// token budget per the shared budget table.
func StreamSimpleAnthropic(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)

	anthropicOpts := &AnthropicOptions{StreamOptions: base, InterleavedThinking: true}
	if opts != nil && opts.Reasoning.Enabled() && model.Reasoning {
		level := opts.Reasoning
		if level == ai.ThinkingXHigh && !ai.SupportsXHigh(model) {
			level = ai.ThinkingHigh
		}
		maxTokens, budget := adjustMaxTokensForThinking(base.MaxTokens, level, budgetOverrides(opts.ThinkingBudgets))
		if model.MaxTokens > 0 && maxTokens > model.MaxTokens {
			maxTokens = model.MaxTokens
		}
		anthropicOpts.MaxTokens = maxTokens
		anthropicOpts.ThinkingEnabled = true
		anthropicOpts.ThinkingBudgetTokens = budget
	}
	return StreamAnthropic(ctx, model, llmCtx, anthropicOpts)
}

func anthropicCacheControl(baseURL string, retention ai.CacheRetention) *anthropic.CacheControlEphemeralParam {
	if retention == "" {
		retention = ai.CacheRetentionShort
	}
	if retention == ai.CacheRetentionNone {
		return nil
	}
	control := anthropic.NewCacheControlEphemeralParam()
	if retention == ai.CacheRetentionLong && strings.Contains(baseURL, "api.anthropic.com") {
		control.TTL = "1h"
	}
	return &control
}

var anthropicToolIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func normalizeAnthropicToolID(id string) string {
	normalized := anthropicToolIDPattern.ReplaceAllString(id, "_")
	if len(normalized) > 64 {
		normalized = normalized[:64]
	}
	return normalized
}

func convertAnthropicMessages(messages []ai.Message, model *ai.Model, cacheControl *anthropic.CacheControlEphemeralParam) []anthropic.MessageParam {
	transformed := transformMessages(messages, transformOptions{
		currentModel:    model.ID,
		normalizeToolID: normalizeAnthropicToolID,
	})

	var params []anthropic.MessageParam
	for i := 0; i < len(transformed); i++ {
		switch msg := transformed[i].(type) {
		case *ai.UserMessage:
			var blocks []anthropic.ContentBlockParamUnion
			for _, item := range msg.Content {
				switch c := item.(type) {
				case *ai.TextContent:
					if strings.TrimSpace(c.Text) != "" {
						blocks = append(blocks, anthropic.NewTextBlock(c.Text))
					}
				case *ai.ImageContent:
					if model.SupportsImageInput() {
						blocks = append(blocks, anthropic.NewImageBlockBase64(c.MimeType, c.Data))
					}
				}
			}
			if len(blocks) > 0 {
				params = append(params, anthropic.NewUserMessage(blocks...))
			}

		case *ai.AssistantMessage:
			var blocks []anthropic.ContentBlockParamUnion
			for _, item := range msg.Content {
				switch c := item.(type) {
				case *ai.TextContent:
					if strings.TrimSpace(c.Text) != "" {
						blocks = append(blocks, anthropic.NewTextBlock(c.Text))
					}
				case *ai.ThinkingContent:
					if strings.TrimSpace(c.Thinking) == "" {
						continue
					}
					if strings.TrimSpace(c.ThinkingSignature) != "" {
						blocks = append(blocks, anthropic.NewThinkingBlock(c.ThinkingSignature, c.Thinking))
					} else {
						blocks = append(blocks, anthropic.NewTextBlock(c.Thinking))
					}
				case *ai.ToolCall:
					args := c.Arguments
					if args == nil {
						args = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, args, c.Name))
				}
			}
			if len(blocks) > 0 {
				params = append(params, anthropic.NewAssistantMessage(blocks...))
			}

		case *ai.ToolResultMessage:
			// Consecutive tool results share one user message.
			var blocks []anthropic.ContentBlockParamUnion
			for ; i < len(transformed); i++ {
				tr, ok := transformed[i].(*ai.ToolResultMessage)
				if !ok {
					break
				}
				blocks = append(blocks, anthropicToolResultBlock(tr, model))
			}
			i--
			params = append(params, anthropic.NewUserMessage(blocks...))
		}
	}

	// Cache control goes on the last block of the last user message.
	if cacheControl != nil && len(params) > 0 {
		last := &params[len(params)-1]
		if last.Role == anthropic.MessageParamRoleUser && len(last.Content) > 0 {
			applyCacheControl(&last.Content[len(last.Content)-1], cacheControl)
		}
	}
	return params
}

func applyCacheControl(block *anthropic.ContentBlockParamUnion, control *anthropic.CacheControlEphemeralParam) {
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = *control
	case block.OfImage != nil:
		block.OfImage.CacheControl = *control
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = *control
	}
}

func anthropicToolResultBlock(tr *ai.ToolResultMessage, model *ai.Model) anthropic.ContentBlockParamUnion {
	var content []anthropic.ToolResultBlockParamContentUnion
	for _, item := range tr.Content {
		switch c := item.(type) {
		case *ai.TextContent:
			if c.Text != "" {
				content = append(content, anthropic.ToolResultBlockParamContentUnion{
					OfText: &anthropic.TextBlockParam{Text: c.Text},
				})
			}
		case *ai.ImageContent:
			if model.SupportsImageInput() {
				content = append(content, anthropic.ToolResultBlockParamContentUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfBase64: &anthropic.Base64ImageSourceParam{
								MediaType: anthropic.Base64ImageSourceMediaType(c.MimeType),
								Data:      c.Data,
							},
						},
					},
				})
			}
		}
	}
	block := anthropic.ToolResultBlockParam{ToolUseID: tr.ToolCallID, Content: content}
	if tr.IsError {
		block.IsError = anthropic.Bool(true)
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func convertAnthropicTools(tools []ai.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		raw, err := json.Marshal(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func mapAnthropicStopReason(reason string) ai.StopReason {
	switch reason {
	case "end_turn", "pause_turn", "stop_sequence":
		return ai.StopReasonStop
	case "max_tokens":
		return ai.StopReasonLength
	case "tool_use":
		return ai.StopReasonToolUse
	case "refusal", "sensitive":
		return ai.StopReasonError
	default:
		slog.Debug("unhandled anthropic stop reason", "reason", reason)
		return ai.StopReasonStop
	}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func wrapAnthropicError(err error, model string) error {
	if err == nil || IsProviderError(err) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr := &ProviderError{Provider: "anthropic", Model: model, Cause: err, Reason: FailoverUnknown}
		perr = perr.WithStatus(apiErr.StatusCode)
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					perr = perr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					perr = perr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					perr = perr.WithRequestID(payload.RequestID)
				}
			}
		}
		if perr.Message == "" {
			perr.Message = "anthropic request failed"
		}
		return perr
	}
	return NewProviderError("anthropic", model, err)
}

// finishUsage recomputes the total token count and cost.
func finishUsage(model *ai.Model, output *ai.AssistantMessage) {
	u := &output.Usage
	u.TotalTokens = u.Input + u.Output + u.CacheRead + u.CacheWrite
	ai.CalculateCost(model, u)
}
