package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vamsi/pi/internal/jsonx"
	"github.com/vamsi/pi/pkg/ai"
)

// OpenAICompletionsOptions are the full options for the Chat Completions
// adapter. It serves OpenAI itself plus the OpenAI-compatible providers
// (groq, xai, mistral, cerebras, zai, github-copilot, openrouter) via the
// per-model compat table.
type OpenAICompletionsOptions struct {
	ai.StreamOptions
	ReasoningEffort string
	ToolChoice      string
}

// StreamOpenAICompletions streams a response from an OpenAI-compatible Chat
// Completions API.
func StreamOpenAICompletions(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *OpenAICompletionsOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &OpenAICompletionsOptions{}
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = ai.GetEnvAPIKey(model.Provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider: %s", model.Provider)
	}

	stream := ai.NewAssistantMessageEventStream()
	go runOpenAICompletions(ctx, stream, model, llmCtx, opts, apiKey)
	return stream, nil
}

// headerTransport injects static headers into every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func newOpenAIClient(model *ai.Model, llmCtx *ai.Context, apiKey string, extraHeaders map[string]string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if model.BaseURL != "" {
		cfg.BaseURL = model.BaseURL
	}

	headers := map[string]string{}
	for k, v := range model.Headers {
		headers[k] = v
	}
	if model.Provider == "github-copilot" {
		headers["X-Initiator"] = copilotInitiator(llmCtx.Messages)
		headers["Openai-Intent"] = "conversation-edits"
		if historyHasImages(llmCtx.Messages) {
			headers["Copilot-Vision-Request"] = "true"
		}
	}
	for k, v := range extraHeaders {
		headers[k] = v
	}
	if len(headers) > 0 {
		cfg.HTTPClient = &http.Client{
			Timeout:   httpTimeout,
			Transport: &headerTransport{headers: headers},
		}
	}
	return openai.NewClientWithConfig(cfg)
}

func copilotInitiator(messages []ai.Message) string {
	if len(messages) == 0 {
		return "user"
	}
	if messages[len(messages)-1].Role() != "user" {
		return "agent"
	}
	return "user"
}

func historyHasImages(messages []ai.Message) bool {
	for _, msg := range messages {
		switch m := msg.(type) {
		case *ai.UserMessage:
			for _, c := range m.Content {
				if _, ok := c.(*ai.ImageContent); ok {
					return true
				}
			}
		case *ai.ToolResultMessage:
			for _, c := range m.Content {
				if _, ok := c.(*ai.ImageContent); ok {
					return true
				}
			}
		}
	}
	return false
}

func runOpenAICompletions(ctx context.Context, stream *ai.AssistantMessageEventStream, model *ai.Model, llmCtx *ai.Context, opts *OpenAICompletionsOptions, apiKey string) {
	output := newOutputMessage(model)

	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	client := newOpenAIClient(model, llmCtx, apiKey, opts.Headers)
	compat := completionsCompat(model)
	req := buildCompletionsRequest(model, llmCtx, opts, compat)
	if opts.OnPayload != nil {
		opts.OnPayload(req)
	}

	sse, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		failStream(ctx, stream, output, wrapOpenAIError(err, model))
		return
	}
	defer sse.Close()

	stream.Push(&ai.StartEvent{Partial: output})

	// The completions protocol interleaves one implicit block at a time:
	// text, reasoning, or a tool call identified by its id.
	type openBlock struct {
		kind        string // text, thinking, toolCall
		toolID      string
		partialJSON string
	}
	var current *openBlock

	finishCurrent := func() {
		if current == nil {
			return
		}
		idx := len(output.Content) - 1
		switch block := output.Content[idx].(type) {
		case *ai.TextContent:
			stream.Push(&ai.TextEndEvent{ContentIndex: idx, Content: block.Text, Partial: output})
		case *ai.ThinkingContent:
			stream.Push(&ai.ThinkingEndEvent{ContentIndex: idx, Content: block.Thinking, Partial: output})
		case *ai.ToolCall:
			args, err := jsonx.ParseStrict(current.partialJSON)
			if err != nil {
				args = map[string]any{}
			}
			block.Arguments = args
			stream.Push(&ai.ToolCallEndEvent{ContentIndex: idx, ToolCall: block, Partial: output})
		}
		current = nil
	}

	for {
		chunk, err := sse.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			failStream(ctx, stream, output, wrapOpenAIError(err, model))
			return
		}

		if chunk.Usage != nil {
			cached := 0
			if chunk.Usage.PromptTokensDetails != nil {
				cached = chunk.Usage.PromptTokensDetails.CachedTokens
			}
			reasoning := 0
			if chunk.Usage.CompletionTokensDetails != nil {
				reasoning = chunk.Usage.CompletionTokensDetails.ReasoningTokens
			}
			output.Usage.Input = chunk.Usage.PromptTokens - cached
			output.Usage.Output = chunk.Usage.CompletionTokens + reasoning
			output.Usage.CacheRead = cached
			output.Usage.CacheWrite = 0
			finishUsage(model, output)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.FinishReason != "" {
			output.StopReason = mapCompletionsFinishReason(choice.FinishReason)
		}

		delta := choice.Delta

		if delta.Content != "" {
			if current == nil || current.kind != "text" {
				finishCurrent()
				current = &openBlock{kind: "text"}
				output.Content = append(output.Content, &ai.TextContent{})
				stream.Push(&ai.TextStartEvent{ContentIndex: len(output.Content) - 1, Partial: output})
			}
			idx := len(output.Content) - 1
			block := output.Content[idx].(*ai.TextContent)
			block.Text += delta.Content
			stream.Push(&ai.TextDeltaEvent{ContentIndex: idx, Delta: delta.Content, Partial: output})
		}

		if delta.ReasoningContent != "" {
			if current == nil || current.kind != "thinking" {
				finishCurrent()
				current = &openBlock{kind: "thinking"}
				output.Content = append(output.Content, &ai.ThinkingContent{ThinkingSignature: "reasoning_content"})
				stream.Push(&ai.ThinkingStartEvent{ContentIndex: len(output.Content) - 1, Partial: output})
			}
			idx := len(output.Content) - 1
			block := output.Content[idx].(*ai.ThinkingContent)
			block.Thinking += delta.ReasoningContent
			stream.Push(&ai.ThinkingDeltaEvent{ContentIndex: idx, Delta: delta.ReasoningContent, Partial: output})
		}

		for _, tc := range delta.ToolCalls {
			name := tc.Function.Name
			args := tc.Function.Arguments

			if current == nil || current.kind != "toolCall" || (tc.ID != "" && current.toolID != tc.ID) {
				finishCurrent()
				current = &openBlock{kind: "toolCall", toolID: tc.ID}
				output.Content = append(output.Content, &ai.ToolCall{ID: tc.ID, Name: name, Arguments: map[string]any{}})
				stream.Push(&ai.ToolCallStartEvent{ContentIndex: len(output.Content) - 1, Partial: output})
			}
			idx := len(output.Content) - 1
			block := output.Content[idx].(*ai.ToolCall)
			if tc.ID != "" {
				current.toolID = tc.ID
				block.ID = tc.ID
			}
			if name != "" {
				block.Name = name
			}
			if args != "" {
				current.partialJSON += args
				block.Arguments = jsonx.Parse(current.partialJSON)
				stream.Push(&ai.ToolCallDeltaEvent{ContentIndex: idx, Delta: args, Partial: output})
			}
		}
	}

	finishCurrent()

	if ctx.Err() != nil {
		failStream(ctx, stream, output, ctx.Err())
		return
	}
	if output.StopReason == ai.StopReasonError || output.StopReason == ai.StopReasonAborted {
		failStream(ctx, stream, output, errors.New("an unknown error occurred"))
		return
	}

	stream.Push(&ai.DoneEvent{Reason: output.StopReason, Message: output})
	stream.End()
}

// StreamSimpleOpenAICompletions streams with a reasoning level mapped to a
// reasoning_effort string.
func StreamSimpleOpenAICompletions(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	completionsOpts := &OpenAICompletionsOptions{StreamOptions: base}
	if opts != nil && opts.Reasoning.Enabled() {
		level := opts.Reasoning
		if !ai.SupportsXHigh(model) {
			level = clampThinkingLevel(level)
		}
		completionsOpts.ReasoningEffort = string(level)
	}
	return StreamOpenAICompletions(ctx, model, llmCtx, completionsOpts)
}

// completionsCompat resolves compatibility settings from the model's compat
// block, falling back to detection from provider and base URL.
func completionsCompat(model *ai.Model) ai.CompletionsCompat {
	if model.Compat != nil {
		return *model.Compat
	}

	provider := model.Provider
	baseURL := model.BaseURL
	isZai := provider == "zai" || strings.Contains(baseURL, "api.z.ai")
	isNonStandard := isZai
	for _, p := range []string{"cerebras", "xai", "mistral", "opencode"} {
		if provider == p {
			isNonStandard = true
		}
	}
	for _, s := range []string{"cerebras.ai", "api.x.ai", "mistral.ai", "chutes.ai", "deepseek.com"} {
		if strings.Contains(baseURL, s) {
			isNonStandard = true
		}
	}
	isGrok := provider == "xai" || strings.Contains(baseURL, "api.x.ai")
	isMistral := provider == "mistral" || strings.Contains(baseURL, "mistral.ai")

	maxTokensField := "max_completion_tokens"
	if isMistral || strings.Contains(baseURL, "chutes.ai") {
		maxTokensField = "max_tokens"
	}

	return ai.CompletionsCompat{
		SupportsStore:            !isNonStandard,
		SupportsDeveloperRole:    !isNonStandard,
		SupportsReasoningEffort:  !isGrok && !isZai,
		SupportsUsageInStreaming: true,
		SupportsStrictMode:       !isNonStandard,
		MaxTokensField:           maxTokensField,
		RequiresToolResultName:   isMistral,
		RequiresMistralToolIDs:   isMistral,
		RequiresThinkingAsText:   isZai,
	}
}

func buildCompletionsRequest(model *ai.Model, llmCtx *ai.Context, opts *OpenAICompletionsOptions, compat ai.CompletionsCompat) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model.ID,
		Messages: convertCompletionsMessages(model, llmCtx, compat),
		Stream:   true,
	}
	if compat.SupportsUsageInStreaming {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if opts.MaxTokens > 0 {
		if compat.MaxTokensField == "max_tokens" {
			req.MaxTokens = opts.MaxTokens
		} else {
			req.MaxCompletionTokens = opts.MaxTokens
		}
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if len(llmCtx.Tools) > 0 {
		req.Tools = convertCompletionsTools(llmCtx.Tools, compat)
	} else if hasToolHistory(llmCtx.Messages) {
		req.Tools = []openai.Tool{}
	}
	if opts.ToolChoice != "" {
		req.ToolChoice = opts.ToolChoice
	}
	if opts.ReasoningEffort != "" && model.Reasoning && compat.SupportsReasoningEffort {
		req.ReasoningEffort = opts.ReasoningEffort
	}
	return req
}

var mistralToolIDPattern = regexp.MustCompile(`[^a-zA-Z0-9]`)

// normalizeMistralToolID rewrites an id to exactly nine alphanumerics.
func normalizeMistralToolID(id string) string {
	normalized := mistralToolIDPattern.ReplaceAllString(id, "")
	const padding = "ABCDEFGHI"
	if len(normalized) < 9 {
		normalized += padding[:9-len(normalized)]
	}
	return normalized[:9]
}

func completionsToolIDNormalizer(model *ai.Model, compat ai.CompletionsCompat) func(string) string {
	return func(id string) string {
		if compat.RequiresMistralToolIDs {
			return normalizeMistralToolID(id)
		}
		if idx := strings.Index(id, "|"); idx >= 0 {
			callID := anthropicToolIDPattern.ReplaceAllString(id[:idx], "_")
			if len(callID) > 40 {
				callID = callID[:40]
			}
			return callID
		}
		if model.Provider == "openai" && len(id) > 40 {
			return id[:40]
		}
		if model.Provider == "github-copilot" && strings.Contains(strings.ToLower(model.ID), "claude") {
			return normalizeAnthropicToolID(id)
		}
		return id
	}
}

func convertCompletionsMessages(model *ai.Model, llmCtx *ai.Context, compat ai.CompletionsCompat) []openai.ChatCompletionMessage {
	transformed := transformMessages(llmCtx.Messages, transformOptions{
		currentModel:          model.ID,
		normalizeToolID:       completionsToolIDNormalizer(model, compat),
		convertThinkingToText: compat.RequiresThinkingAsText,
	})

	var params []openai.ChatCompletionMessage
	if llmCtx.SystemPrompt != "" {
		role := openai.ChatMessageRoleSystem
		if model.Reasoning && compat.SupportsDeveloperRole {
			role = "developer"
		}
		params = append(params, openai.ChatCompletionMessage{Role: role, Content: llmCtx.SystemPrompt})
	}

	lastRole := ""
	for i := 0; i < len(transformed); i++ {
		msg := transformed[i]

		if compat.RequiresAssistantAfterToolResult && lastRole == "tool_result" && msg.Role() == "user" {
			params = append(params, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: "I have processed the tool results.",
			})
		}

		switch m := msg.(type) {
		case *ai.UserMessage:
			var parts []openai.ChatMessagePart
			for _, item := range m.Content {
				switch c := item.(type) {
				case *ai.TextContent:
					parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: c.Text})
				case *ai.ImageContent:
					if model.SupportsImageInput() {
						parts = append(parts, openai.ChatMessagePart{
							Type:     openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{URL: dataURL(c.MimeType, c.Data)},
						})
					}
				}
			}
			if len(parts) == 0 {
				continue
			}
			if len(parts) == 1 && parts[0].Type == openai.ChatMessagePartTypeText {
				params = append(params, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: parts[0].Text})
			} else {
				params = append(params, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
			}

		case *ai.AssistantMessage:
			assistantMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var texts []string
			for _, item := range m.Content {
				if c, ok := item.(*ai.TextContent); ok && strings.TrimSpace(c.Text) != "" {
					texts = append(texts, c.Text)
				}
			}
			assistantMsg.Content = strings.Join(texts, "\n")
			for _, tc := range m.ToolCalls() {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			if assistantMsg.Content == "" && len(assistantMsg.ToolCalls) == 0 {
				continue
			}
			params = append(params, assistantMsg)

		case *ai.ToolResultMessage:
			var imageParts []openai.ChatMessagePart
			for ; i < len(transformed); i++ {
				tr, ok := transformed[i].(*ai.ToolResultMessage)
				if !ok {
					break
				}
				text := tr.Text()
				if text == "" {
					text = "(see attached image)"
				}
				toolMsg := openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    text,
					ToolCallID: tr.ToolCallID,
				}
				if compat.RequiresToolResultName && tr.ToolName != "" {
					toolMsg.Name = tr.ToolName
				}
				params = append(params, toolMsg)

				if model.SupportsImageInput() {
					for _, item := range tr.Content {
						if c, ok := item.(*ai.ImageContent); ok {
							imageParts = append(imageParts, openai.ChatMessagePart{
								Type:     openai.ChatMessagePartTypeImageURL,
								ImageURL: &openai.ChatMessageImageURL{URL: dataURL(c.MimeType, c.Data)},
							})
						}
					}
				}
			}
			i--
			if len(imageParts) > 0 {
				if compat.RequiresAssistantAfterToolResult {
					params = append(params, openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleAssistant,
						Content: "I have processed the tool results.",
					})
				}
				parts := append([]openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Attached image(s) from tool result:"},
				}, imageParts...)
				params = append(params, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
				lastRole = "user"
			} else {
				lastRole = "tool_result"
			}
			continue
		}
		lastRole = msg.Role()
	}
	return params
}

func convertCompletionsTools(tools []ai.Tool, compat ai.CompletionsCompat) []openai.Tool {
	var result []openai.Tool
	for _, tool := range tools {
		fn := &openai.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		}
		if compat.SupportsStrictMode {
			fn.Strict = false
		}
		result = append(result, openai.Tool{Type: openai.ToolTypeFunction, Function: fn})
	}
	return result
}

func dataURL(mimeType, data string) string {
	return "data:" + mimeType + ";base64," + data
}

func mapCompletionsFinishReason(reason openai.FinishReason) ai.StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return ai.StopReasonStop
	case openai.FinishReasonLength:
		return ai.StopReasonLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return ai.StopReasonToolUse
	case openai.FinishReasonContentFilter:
		return ai.StopReasonError
	default:
		return ai.StopReasonStop
	}
}

func wrapOpenAIError(err error, model *ai.Model) error {
	if err == nil || IsProviderError(err) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr := &ProviderError{Provider: model.Provider, Model: model.ID, Cause: err, Reason: FailoverUnknown}
		perr = perr.WithStatus(apiErr.HTTPStatusCode).WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			perr = perr.WithCode(code)
		}
		return perr
	}
	return NewProviderError(model.Provider, model.ID, err)
}
