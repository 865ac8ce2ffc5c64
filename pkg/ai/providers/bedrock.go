package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/vamsi/pi/internal/jsonx"
	"github.com/vamsi/pi/pkg/ai"
)

// BedrockOptions are the full options for the Amazon Bedrock Converse
// Stream adapter. Authentication runs through the AWS credential chain.
type BedrockOptions struct {
	ai.StreamOptions
	Region              string
	Profile             string
	ToolChoice          string
	Reasoning           ai.ThinkingLevel
	ThinkingBudgets     *ai.ThinkingBudgets
	InterleavedThinking bool
}

// StreamBedrock streams a response from the Bedrock Converse Stream API.
func StreamBedrock(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *BedrockOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &BedrockOptions{}
	}
	stream := ai.NewAssistantMessageEventStream()
	go runBedrock(ctx, stream, model, llmCtx, opts)
	return stream, nil
}

func runBedrock(ctx context.Context, stream *ai.AssistantMessageEventStream, model *ai.Model, llmCtx *ai.Context, opts *BedrockOptions) {
	output := newOutputMessage(model)

	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	region := firstNonEmpty(opts.Region, os.Getenv("AWS_REGION"), os.Getenv("AWS_DEFAULT_REGION"), "us-east-1")
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}
	client := bedrockruntime.NewFromConfig(cfg)

	input, err := buildBedrockInput(model, llmCtx, opts)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}
	if opts.OnPayload != nil {
		opts.OnPayload(input)
	}

	resp, err := client.ConverseStream(ctx, input)
	if err != nil {
		failStream(ctx, stream, output, NewProviderError("amazon-bedrock", model.ID, err))
		return
	}
	eventStream := resp.GetStream()
	defer eventStream.Close()

	blockIndex := map[int32]int{} // API block index -> content index
	partialJSON := map[int]string{}
	started := false
	ensureStarted := func() {
		if !started {
			stream.Push(&ai.StartEvent{Partial: output})
			started = true
		}
	}

	for event := range eventStream.Events() {
		switch e := event.(type) {
		case *types.ConverseStreamOutputMemberMessageStart:
			ensureStarted()

		case *types.ConverseStreamOutputMemberContentBlockStart:
			ensureStarted()
			apiIndex := aws.ToInt32(e.Value.ContentBlockIndex)
			if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				tc := &ai.ToolCall{
					ID:        aws.ToString(start.Value.ToolUseId),
					Name:      aws.ToString(start.Value.Name),
					Arguments: map[string]any{},
				}
				output.Content = append(output.Content, tc)
				ci := len(output.Content) - 1
				blockIndex[apiIndex] = ci
				partialJSON[ci] = ""
				stream.Push(&ai.ToolCallStartEvent{ContentIndex: ci, Partial: output})
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			ensureStarted()
			apiIndex := aws.ToInt32(e.Value.ContentBlockIndex)
			switch delta := e.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				ci, ok := blockIndex[apiIndex]
				if !ok {
					output.Content = append(output.Content, &ai.TextContent{})
					ci = len(output.Content) - 1
					blockIndex[apiIndex] = ci
					stream.Push(&ai.TextStartEvent{ContentIndex: ci, Partial: output})
				}
				if block, ok := output.Content[ci].(*ai.TextContent); ok {
					block.Text += delta.Value
					stream.Push(&ai.TextDeltaEvent{ContentIndex: ci, Delta: delta.Value, Partial: output})
				}

			case *types.ContentBlockDeltaMemberToolUse:
				ci, ok := blockIndex[apiIndex]
				if !ok {
					continue
				}
				if block, ok := output.Content[ci].(*ai.ToolCall); ok {
					fragment := aws.ToString(delta.Value.Input)
					if fragment != "" {
						partialJSON[ci] += fragment
						block.Arguments = jsonx.Parse(partialJSON[ci])
						stream.Push(&ai.ToolCallDeltaEvent{ContentIndex: ci, Delta: fragment, Partial: output})
					}
				}

			case *types.ContentBlockDeltaMemberReasoningContent:
				ci, ok := blockIndex[apiIndex]
				if !ok {
					output.Content = append(output.Content, &ai.ThinkingContent{})
					ci = len(output.Content) - 1
					blockIndex[apiIndex] = ci
					stream.Push(&ai.ThinkingStartEvent{ContentIndex: ci, Partial: output})
				}
				block, ok := output.Content[ci].(*ai.ThinkingContent)
				if !ok {
					continue
				}
				switch rc := delta.Value.(type) {
				case *types.ReasoningContentBlockDeltaMemberText:
					if rc.Value != "" {
						block.Thinking += rc.Value
						stream.Push(&ai.ThinkingDeltaEvent{ContentIndex: ci, Delta: rc.Value, Partial: output})
					}
				case *types.ReasoningContentBlockDeltaMemberSignature:
					block.ThinkingSignature += rc.Value
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			apiIndex := aws.ToInt32(e.Value.ContentBlockIndex)
			ci, ok := blockIndex[apiIndex]
			if !ok {
				continue
			}
			switch block := output.Content[ci].(type) {
			case *ai.TextContent:
				stream.Push(&ai.TextEndEvent{ContentIndex: ci, Content: block.Text, Partial: output})
			case *ai.ThinkingContent:
				stream.Push(&ai.ThinkingEndEvent{ContentIndex: ci, Content: block.Thinking, Signature: block.ThinkingSignature, Partial: output})
			case *ai.ToolCall:
				if raw, ok := partialJSON[ci]; ok && raw != "" {
					block.Arguments = jsonx.Parse(raw)
				}
				stream.Push(&ai.ToolCallEndEvent{ContentIndex: ci, ToolCall: block, Partial: output})
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			output.StopReason = mapBedrockStopReason(string(e.Value.StopReason))

		case *types.ConverseStreamOutputMemberMetadata:
			if u := e.Value.Usage; u != nil {
				output.Usage.Input = int(aws.ToInt32(u.InputTokens))
				output.Usage.Output = int(aws.ToInt32(u.OutputTokens))
				output.Usage.CacheRead = int(aws.ToInt32(u.CacheReadInputTokens))
				output.Usage.CacheWrite = int(aws.ToInt32(u.CacheWriteInputTokens))
				output.Usage.TotalTokens = int(aws.ToInt32(u.TotalTokens))
				ai.CalculateCost(model, &output.Usage)
			}
		}
	}

	if err := eventStream.Err(); err != nil {
		failStream(ctx, stream, output, NewProviderError("amazon-bedrock", model.ID, err))
		return
	}
	ensureStarted()
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

// StreamSimpleBedrock streams with a reasoning level mapped onto the Claude
// thinking fields carried in additionalModelRequestFields.
func StreamSimpleBedrock(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	bedrockOpts := &BedrockOptions{StreamOptions: base}
	if opts != nil && opts.Reasoning.Enabled() && model.Reasoning {
		bedrockOpts.Reasoning = opts.Reasoning
		bedrockOpts.ThinkingBudgets = opts.ThinkingBudgets
		if isBedrockClaude(model.ID) {
			level := clampThinkingLevel(opts.Reasoning)
			maxTokens, budget := adjustMaxTokensForThinking(base.MaxTokens, level, budgetOverrides(opts.ThinkingBudgets))
			if model.MaxTokens > 0 && maxTokens > model.MaxTokens {
				maxTokens = model.MaxTokens
			}
			bedrockOpts.MaxTokens = maxTokens
			overrides := budgetOverrides(opts.ThinkingBudgets)
			if overrides == nil {
				overrides = map[ai.ThinkingLevel]int{}
			}
			overrides[level] = budget
			bedrockOpts.ThinkingBudgets = budgetsFromOverrides(overrides)
		}
	}
	return StreamBedrock(ctx, model, llmCtx, bedrockOpts)
}

func budgetsFromOverrides(overrides map[ai.ThinkingLevel]int) *ai.ThinkingBudgets {
	return &ai.ThinkingBudgets{
		Minimal: overrides[ai.ThinkingMinimal],
		Low:     overrides[ai.ThinkingLow],
		Medium:  overrides[ai.ThinkingMedium],
		High:    overrides[ai.ThinkingHigh],
	}
}

func isBedrockClaude(modelID string) bool {
	return strings.Contains(modelID, "anthropic.claude") || strings.Contains(modelID, "anthropic/claude")
}

func bedrockSupportsPromptCaching(model *ai.Model) bool {
	if model.Cost.CacheRead > 0 || model.Cost.CacheWrite > 0 {
		return true
	}
	mid := strings.ToLower(model.ID)
	if strings.Contains(mid, "claude") && (strings.Contains(mid, "-4-") || strings.Contains(mid, "-4.")) {
		return true
	}
	return strings.Contains(mid, "claude-3-7-sonnet") || strings.Contains(mid, "claude-3-5-haiku")
}

func bedrockImageBlock(c *ai.ImageContent) (types.ContentBlock, error) {
	formats := map[string]types.ImageFormat{
		"image/jpeg": types.ImageFormatJpeg,
		"image/jpg":  types.ImageFormatJpeg,
		"image/png":  types.ImageFormatPng,
		"image/gif":  types.ImageFormatGif,
		"image/webp": types.ImageFormatWebp,
	}
	format, ok := formats[strings.ToLower(c.MimeType)]
	if !ok {
		return nil, fmt.Errorf("unknown image type: %s", c.MimeType)
	}
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid image data: %w", err)
	}
	return &types.ContentBlockMemberImage{Value: types.ImageBlock{
		Format: format,
		Source: &types.ImageSourceMemberBytes{Value: data},
	}}, nil
}

func bedrockCachePoint() types.ContentBlock {
	return &types.ContentBlockMemberCachePoint{Value: types.CachePointBlock{Type: types.CachePointTypeDefault}}
}

func buildBedrockInput(model *ai.Model, llmCtx *ai.Context, opts *BedrockOptions) (*bedrockruntime.ConverseStreamInput, error) {
	retention := resolveCacheRetention(opts.CacheRetention)
	caching := retention != ai.CacheRetentionNone && bedrockSupportsPromptCaching(model)

	messages, err := convertBedrockMessages(model, llmCtx, caching)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model.ID),
		Messages:        messages,
		InferenceConfig: &types.InferenceConfiguration{},
	}
	if opts.MaxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		input.InferenceConfig.Temperature = aws.Float32(float32(*opts.Temperature))
	}

	if llmCtx.SystemPrompt != "" {
		system := []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: llmCtx.SystemPrompt},
		}
		if caching {
			system = append(system, &types.SystemContentBlockMemberCachePoint{Value: types.CachePointBlock{Type: types.CachePointTypeDefault}})
		}
		input.System = system
	}

	if len(llmCtx.Tools) > 0 && opts.ToolChoice != "none" {
		toolConfig := &types.ToolConfiguration{}
		for _, tool := range llmCtx.Tools {
			toolConfig.Tools = append(toolConfig.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(tool.Name),
					Description: aws.String(tool.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(tool.Parameters)},
				},
			})
		}
		switch opts.ToolChoice {
		case "auto":
			toolConfig.ToolChoice = &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
		case "any":
			toolConfig.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
		}
		input.ToolConfig = toolConfig
	}

	if additional := buildBedrockThinkingFields(model, opts); additional != nil {
		input.AdditionalModelRequestFields = document.NewLazyDocument(additional)
	}
	return input, nil
}

func convertBedrockMessages(model *ai.Model, llmCtx *ai.Context, caching bool) ([]types.Message, error) {
	transformed := transformMessages(llmCtx.Messages, transformOptions{
		currentModel:    model.ID,
		normalizeToolID: normalizeAnthropicToolID,
	})
	supportsSignature := isBedrockClaude(model.ID)

	var result []types.Message
	for i := 0; i < len(transformed); i++ {
		switch msg := transformed[i].(type) {
		case *ai.UserMessage:
			var blocks []types.ContentBlock
			for _, item := range msg.Content {
				switch c := item.(type) {
				case *ai.TextContent:
					blocks = append(blocks, &types.ContentBlockMemberText{Value: c.Text})
				case *ai.ImageContent:
					if model.SupportsImageInput() {
						block, err := bedrockImageBlock(c)
						if err != nil {
							return nil, err
						}
						blocks = append(blocks, block)
					}
				}
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: blocks})

		case *ai.AssistantMessage:
			var blocks []types.ContentBlock
			for _, item := range msg.Content {
				switch c := item.(type) {
				case *ai.TextContent:
					if strings.TrimSpace(c.Text) == "" {
						continue
					}
					blocks = append(blocks, &types.ContentBlockMemberText{Value: c.Text})
				case *ai.ThinkingContent:
					if strings.TrimSpace(c.Thinking) == "" {
						continue
					}
					reasoning := types.ReasoningTextBlock{Text: aws.String(c.Thinking)}
					if supportsSignature && c.ThinkingSignature != "" {
						reasoning.Signature = aws.String(c.ThinkingSignature)
					}
					blocks = append(blocks, &types.ContentBlockMemberReasoningContent{
						Value: &types.ReasoningContentBlockMemberReasoningText{Value: reasoning},
					})
				case *ai.ToolCall:
					blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
						ToolUseId: aws.String(c.ID),
						Name:      aws.String(c.Name),
						Input:     document.NewLazyDocument(c.Arguments),
					}})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})

		case *ai.ToolResultMessage:
			var blocks []types.ContentBlock
			for ; i < len(transformed); i++ {
				tr, ok := transformed[i].(*ai.ToolResultMessage)
				if !ok {
					break
				}
				var content []types.ToolResultContentBlock
				for _, item := range tr.Content {
					switch c := item.(type) {
					case *ai.TextContent:
						content = append(content, &types.ToolResultContentBlockMemberText{Value: c.Text})
					case *ai.ImageContent:
						if model.SupportsImageInput() {
							block, err := bedrockImageBlock(c)
							if err != nil {
								return nil, err
							}
							if img, ok := block.(*types.ContentBlockMemberImage); ok {
								content = append(content, &types.ToolResultContentBlockMemberImage{Value: img.Value})
							}
						}
					}
				}
				status := types.ToolResultStatusSuccess
				if tr.IsError {
					status = types.ToolResultStatusError
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   content,
					Status:    status,
				}})
			}
			i--
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: blocks})
		}
	}

	// Cache point on the last user message.
	if caching && len(result) > 0 {
		last := &result[len(result)-1]
		if last.Role == types.ConversationRoleUser && len(last.Content) > 0 {
			last.Content = append(last.Content, bedrockCachePoint())
		}
	}
	return result, nil
}

func buildBedrockThinkingFields(model *ai.Model, opts *BedrockOptions) map[string]any {
	if !opts.Reasoning.Enabled() || !model.Reasoning || !isBedrockClaude(model.ID) {
		return nil
	}
	level := clampThinkingLevel(opts.Reasoning)
	budget := thinkingBudget(level, defaultThinkingBudgets, budgetOverrides(opts.ThinkingBudgets))
	fields := map[string]any{
		"thinking": map[string]any{"type": "enabled", "budget_tokens": budget},
	}
	if opts.InterleavedThinking {
		fields["anthropic_beta"] = []string{"interleaved-thinking-2025-05-14"}
	}
	return fields
}

func mapBedrockStopReason(reason string) ai.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return ai.StopReasonStop
	case "max_tokens", "model_context_window_exceeded":
		return ai.StopReasonLength
	case "tool_use":
		return ai.StopReasonToolUse
	default:
		return ai.StopReasonError
	}
}
