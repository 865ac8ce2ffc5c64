package providers

import (
	"context"

	"github.com/vamsi/pi/pkg/ai"
)

// RegisterBuiltinProviders registers every builtin API provider. Call once
// at process start, before the first Stream call.
func RegisterBuiltinProviders() {
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "anthropic-messages",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamAnthropic(ctx, model, llmCtx, &AnthropicOptions{StreamOptions: orDefault(opts), InterleavedThinking: true})
		},
		StreamSimple: StreamSimpleAnthropic,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "openai-completions",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamOpenAICompletions(ctx, model, llmCtx, &OpenAICompletionsOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleOpenAICompletions,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "openai-responses",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamOpenAIResponses(ctx, model, llmCtx, &OpenAIResponsesOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleOpenAIResponses,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "azure-openai-responses",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamAzureOpenAIResponses(ctx, model, llmCtx, &AzureOpenAIResponsesOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleAzureOpenAIResponses,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "openai-codex-responses",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamOpenAICodexResponses(ctx, model, llmCtx, &OpenAICodexResponsesOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleOpenAICodexResponses,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "google-generative-ai",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamGoogle(ctx, model, llmCtx, &GoogleOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleGoogle,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "google-vertex",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamGoogleVertex(ctx, model, llmCtx, &GoogleVertexOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleGoogleVertex,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "google-gemini-cli",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamGoogleGeminiCli(ctx, model, llmCtx, &GoogleGeminiCliOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleGoogleGeminiCli,
	})
	ai.RegisterAPIProvider(&ai.APIProvider{
		API: "bedrock-converse-stream",
		Stream: func(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.StreamOptions) (*ai.AssistantMessageEventStream, error) {
			return StreamBedrock(ctx, model, llmCtx, &BedrockOptions{StreamOptions: orDefault(opts)})
		},
		StreamSimple: StreamSimpleBedrock,
	})
}

func orDefault(opts *ai.StreamOptions) ai.StreamOptions {
	if opts == nil {
		return ai.StreamOptions{}
	}
	return *opts
}
