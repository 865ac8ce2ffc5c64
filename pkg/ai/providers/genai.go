package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/vamsi/pi/pkg/ai"
)

// GoogleThinking configures reasoning for the Google adapters. Gemini 3
// models take a level; 2.x models take a token budget.
type GoogleThinking struct {
	Enabled      bool
	BudgetTokens int
	Level        string
}

// GoogleOptions are the full options for the Google GenAI adapter.
type GoogleOptions struct {
	ai.StreamOptions
	Thinking   *GoogleThinking
	ToolChoice string
}

// GoogleVertexOptions are the full options for the Vertex adapter, which
// authenticates via Application Default Credentials.
type GoogleVertexOptions struct {
	ai.StreamOptions
	Thinking   *GoogleThinking
	ToolChoice string
	Project    string
	Location   string
}

// StreamGoogle streams a response from the Google Generative AI API.
func StreamGoogle(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *GoogleOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &GoogleOptions{}
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = ai.GetEnvAPIKey(model.Provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider: %s", model.Provider)
	}

	stream := ai.NewAssistantMessageEventStream()
	go func() {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		output := newOutputMessage(model)
		if err != nil {
			failStream(ctx, stream, output, err)
			return
		}
		runGenAI(ctx, stream, client, model, llmCtx, &opts.StreamOptions, opts.Thinking, opts.ToolChoice, output)
	}()
	return stream, nil
}

// StreamGoogleVertex streams a response from Vertex AI.
func StreamGoogleVertex(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *GoogleVertexOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &GoogleVertexOptions{}
	}
	project := opts.Project
	if project == "" {
		project = firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"))
	}
	if project == "" {
		return nil, fmt.Errorf("google vertex requires a project (GOOGLE_CLOUD_PROJECT)")
	}
	location := opts.Location
	if location == "" {
		location = os.Getenv("GOOGLE_CLOUD_LOCATION")
	}
	if location == "" {
		location = "us-central1"
	}

	stream := ai.NewAssistantMessageEventStream()
	go func() {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  project,
			Location: location,
		})
		output := newOutputMessage(model)
		if err != nil {
			failStream(ctx, stream, output, err)
			return
		}
		runGenAI(ctx, stream, client, model, llmCtx, &opts.StreamOptions, opts.Thinking, opts.ToolChoice, output)
	}()
	return stream, nil
}

func buildGenAIConfig(model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions, thinking *GoogleThinking, toolChoice string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		config.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if llmCtx.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: llmCtx.SystemPrompt}}}
	}
	if tools := convertGoogleTools(llmCtx.Tools); tools != nil {
		config.Tools = tools
		if toolChoice != "" {
			mode := genai.FunctionCallingConfigModeAuto
			switch toolChoice {
			case "none":
				mode = genai.FunctionCallingConfigModeNone
			case "any":
				mode = genai.FunctionCallingConfigModeAny
			}
			config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
		}
	}
	if thinking != nil && thinking.Enabled && model.Reasoning {
		tc := &genai.ThinkingConfig{IncludeThoughts: true}
		if thinking.Level != "" {
			tc.ThinkingLevel = genai.ThinkingLevel(thinking.Level)
		} else {
			budget := int32(thinking.BudgetTokens)
			tc.ThinkingBudget = &budget
		}
		config.ThinkingConfig = tc
	} else if thinking != nil && !thinking.Enabled && model.Reasoning && !isGemini3(model.ID) {
		budget := int32(0)
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	return config
}

func runGenAI(ctx context.Context, stream *ai.AssistantMessageEventStream, client *genai.Client, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions, thinking *GoogleThinking, toolChoice string, output *ai.AssistantMessage) {
	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	contents := convertGoogleMessages(model, llmCtx)
	config := buildGenAIConfig(model, llmCtx, opts, thinking, toolChoice)
	if opts.OnPayload != nil {
		opts.OnPayload(struct {
			Contents []*genai.Content
			Config   *genai.GenerateContentConfig
		}{contents, config})
	}

	stream.Push(&ai.StartEvent{Partial: output})

	acc := googleAccumulator{stream: stream, output: output}
	for resp, err := range client.Models.GenerateContentStream(ctx, model.ID, contents, config) {
		if err != nil {
			failStream(ctx, stream, output, err)
			return
		}
		acc.chunk(model, resp)
	}
	acc.finish()

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

// googleAccumulator folds streamed Gemini parts into the output message.
// Text and thinking stream as deltas; function calls arrive whole, so a
// single start+delta+end triple is synthesized per call.
type googleAccumulator struct {
	stream *ai.AssistantMessageEventStream
	output *ai.AssistantMessage

	currentKind string // "", text, thinking
}

func (a *googleAccumulator) blockIndex() int {
	return len(a.output.Content) - 1
}

func (a *googleAccumulator) finish() {
	if a.currentKind == "" {
		return
	}
	idx := a.blockIndex()
	switch block := a.output.Content[idx].(type) {
	case *ai.TextContent:
		a.stream.Push(&ai.TextEndEvent{ContentIndex: idx, Content: block.Text, Partial: a.output})
	case *ai.ThinkingContent:
		a.stream.Push(&ai.ThinkingEndEvent{ContentIndex: idx, Content: block.Thinking, Signature: block.ThinkingSignature, Partial: a.output})
	}
	a.currentKind = ""
}

func (a *googleAccumulator) textDelta(text string, thought bool, signature []byte) {
	kind := "text"
	if thought {
		kind = "thinking"
	}
	if a.currentKind != kind {
		a.finish()
		a.currentKind = kind
		if thought {
			a.output.Content = append(a.output.Content, &ai.ThinkingContent{})
			a.stream.Push(&ai.ThinkingStartEvent{ContentIndex: a.blockIndex(), Partial: a.output})
		} else {
			a.output.Content = append(a.output.Content, &ai.TextContent{})
			a.stream.Push(&ai.TextStartEvent{ContentIndex: a.blockIndex(), Partial: a.output})
		}
	}
	idx := a.blockIndex()
	switch block := a.output.Content[idx].(type) {
	case *ai.ThinkingContent:
		block.Thinking += text
		if len(signature) > 0 {
			block.ThinkingSignature = base64.StdEncoding.EncodeToString(signature)
		}
		a.stream.Push(&ai.ThinkingDeltaEvent{ContentIndex: idx, Delta: text, Partial: a.output})
	case *ai.TextContent:
		block.Text += text
		if len(signature) > 0 {
			block.TextSignature = base64.StdEncoding.EncodeToString(signature)
		}
		a.stream.Push(&ai.TextDeltaEvent{ContentIndex: idx, Delta: text, Partial: a.output})
	}
}

func (a *googleAccumulator) functionCall(fc *genai.FunctionCall, signature []byte) {
	a.finish()

	id := fc.ID
	if id == "" || a.hasToolCallID(id) {
		id = newGoogleToolCallID(fc.Name)
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	tc := &ai.ToolCall{ID: id, Name: fc.Name, Arguments: args}
	if len(signature) > 0 {
		tc.ThoughtSignature = base64.StdEncoding.EncodeToString(signature)
	}
	a.output.Content = append(a.output.Content, tc)
	idx := a.blockIndex()

	serialized, err := json.Marshal(args)
	if err != nil {
		serialized = []byte("{}")
	}
	a.stream.Push(&ai.ToolCallStartEvent{ContentIndex: idx, Partial: a.output})
	a.stream.Push(&ai.ToolCallDeltaEvent{ContentIndex: idx, Delta: string(serialized), Partial: a.output})
	a.stream.Push(&ai.ToolCallEndEvent{ContentIndex: idx, ToolCall: tc, Partial: a.output})
}

func (a *googleAccumulator) hasToolCallID(id string) bool {
	for _, tc := range a.output.ToolCalls() {
		if tc.ID == id {
			return true
		}
	}
	return false
}

func (a *googleAccumulator) chunk(model *ai.Model, resp *genai.GenerateContentResponse) {
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					a.textDelta(part.Text, part.Thought, part.ThoughtSignature)
				}
				if part.FunctionCall != nil {
					a.functionCall(part.FunctionCall, part.ThoughtSignature)
				}
			}
		}
		if candidate.FinishReason != "" {
			a.output.StopReason = mapGoogleFinishReason(string(candidate.FinishReason))
			if len(a.output.ToolCalls()) > 0 {
				a.output.StopReason = ai.StopReasonToolUse
			}
		}
	}

	if um := resp.UsageMetadata; um != nil {
		cacheRead := int(um.CachedContentTokenCount)
		a.output.Usage.Input = int(um.PromptTokenCount) - cacheRead
		a.output.Usage.Output = int(um.CandidatesTokenCount) + int(um.ThoughtsTokenCount)
		a.output.Usage.CacheRead = cacheRead
		a.output.Usage.TotalTokens = int(um.TotalTokenCount)
		ai.CalculateCost(model, &a.output.Usage)
	}
}

// StreamSimpleGoogle streams via GenAI with a reasoning level mapped to a
// thinking level (Gemini 3) or a token budget (2.x).
func StreamSimpleGoogle(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	thinking := simpleGoogleThinking(model, opts)
	return StreamGoogle(ctx, model, llmCtx, &GoogleOptions{StreamOptions: base, Thinking: thinking})
}

// StreamSimpleGoogleVertex streams via Vertex with the same reasoning
// mapping as the GenAI adapter.
func StreamSimpleGoogleVertex(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	thinking := simpleGoogleThinking(model, opts)
	return StreamGoogleVertex(ctx, model, llmCtx, &GoogleVertexOptions{StreamOptions: base, Thinking: thinking})
}

func simpleGoogleThinking(model *ai.Model, opts *ai.SimpleStreamOptions) *GoogleThinking {
	if opts == nil || !opts.Reasoning.Enabled() || !model.Reasoning {
		return &GoogleThinking{Enabled: false}
	}
	if isGemini3(model.ID) {
		return &GoogleThinking{
			Enabled: true,
			Level:   googleThinkingLevel(clampThinkingLevel(opts.Reasoning), model.ID),
		}
	}
	budget := thinkingBudget(opts.Reasoning, googleThinkingBudgets, budgetOverrides(opts.ThinkingBudgets))
	return &GoogleThinking{Enabled: true, BudgetTokens: budget}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
