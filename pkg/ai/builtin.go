package ai

// Builtin model catalog. Covers the commonly used models per provider; the
// YAML catalog overlay (LoadCatalog) extends or replaces entries at runtime.

const (
	anthropicBase  = "https://api.anthropic.com"
	openaiBase     = "https://api.openai.com/v1"
	googleBase     = "https://generativelanguage.googleapis.com/v1beta"
	bedrockBase    = "https://bedrock-runtime.us-east-1.amazonaws.com"
	codexBase      = "https://chatgpt.com/backend-api"
	copilotBase    = "https://api.individual.githubcopilot.com"
	geminiCliBase  = "https://cloudcode-pa.googleapis.com"
	groqBase       = "https://api.groq.com/openai/v1"
	xaiBase        = "https://api.x.ai/v1"
	mistralBase    = "https://api.mistral.ai/v1"
	cerebrasBase   = "https://api.cerebras.ai/v1"
	zaiBase        = "https://api.z.ai/api/paas/v4"
	openrouterBase = "https://openrouter.ai/api/v1"
)

var copilotHeaders = map[string]string{
	"User-Agent":             "GitHubCopilotChat/0.35.0",
	"Editor-Version":         "vscode/1.107.0",
	"Editor-Plugin-Version":  "copilot-chat/0.35.0",
	"Copilot-Integration-Id": "vscode-chat",
}

type modelSpec struct {
	id            string
	name          string
	reasoning     bool
	image         bool
	costIn        float64
	costOut       float64
	cacheRead     float64
	cacheWrite    float64
	contextWindow int
	maxTokens     int
}

func buildModels(api, provider, baseURL string, specs []modelSpec, headers map[string]string, compat *CompletionsCompat) map[string]*Model {
	models := make(map[string]*Model, len(specs))
	for _, s := range specs {
		input := []Modality{ModalityText}
		if s.image {
			input = append(input, ModalityImage)
		}
		models[s.id] = &Model{
			ID:            s.id,
			Name:          s.name,
			API:           api,
			Provider:      provider,
			BaseURL:       baseURL,
			Reasoning:     s.reasoning,
			Input:         input,
			Cost:          ModelCost{Input: s.costIn, Output: s.costOut, CacheRead: s.cacheRead, CacheWrite: s.cacheWrite},
			ContextWindow: s.contextWindow,
			MaxTokens:     s.maxTokens,
			Headers:       headers,
			Compat:        compat,
		}
	}
	return models
}

// RegisterBuiltinModels registers the builtin catalog for every provider
// family. Call once at process start; later RegisterModels calls replace
// individual provider entries.
func RegisterBuiltinModels() {
	RegisterModels("anthropic", buildModels("anthropic-messages", "anthropic", anthropicBase, []modelSpec{
		{"claude-opus-4-6", "Claude Opus 4.6", true, true, 5, 25, 0.5, 6.25, 200000, 128000},
		{"claude-opus-4-5", "Claude Opus 4.5 (latest)", true, true, 5, 25, 0.5, 6.25, 200000, 64000},
		{"claude-opus-4-1", "Claude Opus 4.1 (latest)", true, true, 15, 75, 1.5, 18.75, 200000, 32000},
		{"claude-sonnet-4-5", "Claude Sonnet 4.5 (latest)", true, true, 3, 15, 0.3, 3.75, 200000, 64000},
		{"claude-sonnet-4-0", "Claude Sonnet 4 (latest)", true, true, 3, 15, 0.3, 3.75, 200000, 64000},
		{"claude-3-7-sonnet-20250219", "Claude Sonnet 3.7", true, true, 3, 15, 0.3, 3.75, 200000, 64000},
		{"claude-3-5-sonnet-20241022", "Claude Sonnet 3.5 v2", false, true, 3, 15, 0.3, 3.75, 200000, 8192},
		{"claude-haiku-4-5", "Claude Haiku 4.5 (latest)", true, true, 1, 5, 0.1, 1.25, 200000, 64000},
		{"claude-3-5-haiku-20241022", "Claude Haiku 3.5", false, true, 0.8, 4, 0.08, 1, 200000, 8192},
	}, nil, nil))

	RegisterModels("openai", buildModels("openai-responses", "openai", openaiBase, []modelSpec{
		{"gpt-5.2", "GPT-5.2", true, true, 1.75, 14, 0.175, 0, 400000, 128000},
		{"gpt-5.1", "GPT-5.1", true, true, 1.25, 10, 0.13, 0, 400000, 128000},
		{"gpt-4.1", "GPT-4.1", false, true, 2, 8, 0.5, 0, 1047576, 32768},
		{"gpt-4.1-mini", "GPT-4.1 mini", false, true, 0.4, 1.6, 0.1, 0, 1047576, 32768},
		{"o4-mini", "o4-mini", true, true, 1.1, 4.4, 0.28, 0, 200000, 100000},
		{"o3", "o3", true, true, 2, 8, 0.5, 0, 200000, 100000},
		{"gpt-4o", "GPT-4o", false, true, 2.5, 10, 1.25, 0, 128000, 16384},
		{"gpt-4o-mini", "GPT-4o mini", false, true, 0.15, 0.6, 0.08, 0, 128000, 16384},
	}, nil, nil))

	RegisterModels("openai-codex", buildModels("openai-codex-responses", "openai-codex", codexBase, []modelSpec{
		{"gpt-5.2", "GPT-5.2 Codex", true, true, 0, 0, 0, 0, 400000, 128000},
		{"gpt-5.1-codex", "GPT-5.1 Codex", true, true, 0, 0, 0, 0, 400000, 128000},
		{"gpt-5.1-codex-mini", "GPT-5.1 Codex mini", true, true, 0, 0, 0, 0, 400000, 128000},
	}, nil, nil))

	RegisterModels("azure-openai-responses", buildModels("azure-openai-responses", "azure-openai-responses", "", []modelSpec{
		{"gpt-5.1", "GPT-5.1 (Azure)", true, true, 1.25, 10, 0.13, 0, 400000, 128000},
		{"gpt-4.1", "GPT-4.1 (Azure)", false, true, 2, 8, 0.5, 0, 1047576, 32768},
		{"o4-mini", "o4-mini (Azure)", true, true, 1.1, 4.4, 0.28, 0, 200000, 100000},
	}, nil, nil))

	RegisterModels("google", buildModels("google-generative-ai", "google", googleBase, []modelSpec{
		{"gemini-3-pro-preview", "Gemini 3 Pro", true, true, 2, 12, 0.2, 0, 1048576, 65536},
		{"gemini-3-flash-preview", "Gemini 3 Flash", true, true, 0.3, 2.5, 0.03, 0, 1048576, 65536},
		{"gemini-2.5-pro", "Gemini 2.5 Pro", true, true, 1.25, 10, 0.31, 0, 1048576, 65536},
		{"gemini-2.5-flash", "Gemini 2.5 Flash", true, true, 0.3, 2.5, 0.075, 0, 1048576, 65536},
		{"gemini-2.5-flash-lite", "Gemini 2.5 Flash Lite", true, true, 0.1, 0.4, 0.025, 0, 1048576, 65536},
		{"gemini-2.0-flash", "Gemini 2.0 Flash", false, true, 0.1, 0.4, 0.025, 0, 1048576, 8192},
	}, nil, nil))

	RegisterModels("google-vertex", buildModels("google-vertex", "google-vertex", "", []modelSpec{
		{"gemini-3-pro-preview", "Gemini 3 Pro (Vertex)", true, true, 2, 12, 0.2, 0, 1048576, 65536},
		{"gemini-2.5-pro", "Gemini 2.5 Pro (Vertex)", true, true, 1.25, 10, 0.31, 0, 1048576, 65536},
		{"gemini-2.5-flash", "Gemini 2.5 Flash (Vertex)", true, true, 0.3, 2.5, 0.075, 0, 1048576, 65536},
	}, nil, nil))

	RegisterModels("google-gemini-cli", buildModels("google-gemini-cli", "google-gemini-cli", geminiCliBase, []modelSpec{
		{"gemini-3-pro-preview", "Gemini 3 Pro (CLI)", true, true, 0, 0, 0, 0, 1048576, 65536},
		{"gemini-2.5-pro", "Gemini 2.5 Pro (CLI)", true, true, 0, 0, 0, 0, 1048576, 65536},
		{"gemini-2.5-flash", "Gemini 2.5 Flash (CLI)", true, true, 0, 0, 0, 0, 1048576, 65536},
	}, nil, nil))

	RegisterModels("amazon-bedrock", buildModels("bedrock-converse-stream", "amazon-bedrock", bedrockBase, []modelSpec{
		{"us.anthropic.claude-opus-4-5-20251101-v1:0", "Claude Opus 4.5 (Bedrock)", true, true, 5, 25, 0.5, 6.25, 200000, 64000},
		{"us.anthropic.claude-sonnet-4-5-20250929-v1:0", "Claude Sonnet 4.5 (Bedrock)", true, true, 3, 15, 0.3, 3.75, 200000, 64000},
		{"us.anthropic.claude-haiku-4-5-20251001-v1:0", "Claude Haiku 4.5 (Bedrock)", true, true, 1, 5, 0.1, 1.25, 200000, 64000},
		{"us.amazon.nova-pro-v1:0", "Amazon Nova Pro", false, true, 0.8, 3.2, 0.2, 0, 300000, 10000},
	}, nil, nil))

	compatNonStandard := &CompletionsCompat{
		SupportsUsageInStreaming: true,
		SupportsStrictMode:       true,
		MaxTokensField:           "max_completion_tokens",
	}
	RegisterModels("groq", buildModels("openai-completions", "groq", groqBase, []modelSpec{
		{"llama-3.3-70b-versatile", "Llama 3.3 70B", false, false, 0.59, 0.79, 0, 0, 131072, 32768},
		{"moonshotai/kimi-k2-instruct", "Kimi K2", false, false, 1, 3, 0, 0, 131072, 16384},
		{"qwen/qwen3-32b", "Qwen3 32B", true, false, 0.29, 0.59, 0, 0, 131072, 40960},
	}, nil, compatNonStandard))

	RegisterModels("xai", buildModels("openai-completions", "xai", xaiBase, []modelSpec{
		{"grok-4", "Grok 4", true, true, 3, 15, 0.75, 0, 256000, 64000},
		{"grok-code-fast-1", "Grok Code Fast", true, false, 0.2, 1.5, 0.02, 0, 256000, 32000},
	}, nil, compatNonStandard))

	RegisterModels("mistral", buildModels("openai-completions", "mistral", mistralBase, []modelSpec{
		{"mistral-large-latest", "Mistral Large", false, true, 2, 6, 0, 0, 131072, 32768},
		{"devstral-medium-latest", "Devstral Medium", false, false, 0.4, 2, 0, 0, 131072, 32768},
	}, nil, &CompletionsCompat{
		SupportsUsageInStreaming: true,
		MaxTokensField:           "max_tokens",
		RequiresToolResultName:   true,
		RequiresMistralToolIDs:   true,
	}))

	RegisterModels("cerebras", buildModels("openai-completions", "cerebras", cerebrasBase, []modelSpec{
		{"qwen-3-coder-480b", "Qwen3 Coder 480B", false, false, 2, 2, 0, 0, 131072, 32768},
		{"gpt-oss-120b", "GPT-OSS 120B", true, false, 0.35, 0.75, 0, 0, 131072, 32768},
	}, nil, compatNonStandard))

	RegisterModels("zai", buildModels("openai-completions", "zai", zaiBase, []modelSpec{
		{"glm-4.6", "GLM-4.6", true, false, 0.6, 2.2, 0.11, 0, 200000, 98304},
	}, nil, &CompletionsCompat{
		SupportsUsageInStreaming: true,
		MaxTokensField:           "max_tokens",
		RequiresThinkingAsText:   true,
	}))

	RegisterModels("openrouter", buildModels("openai-completions", "openrouter", openrouterBase, []modelSpec{
		{"anthropic/claude-sonnet-4.5", "Claude Sonnet 4.5 (OpenRouter)", true, true, 3, 15, 0.3, 3.75, 200000, 64000},
		{"openai/gpt-5.1", "GPT-5.1 (OpenRouter)", true, true, 1.25, 10, 0.13, 0, 400000, 128000},
		{"google/gemini-2.5-flash", "Gemini 2.5 Flash (OpenRouter)", true, true, 0.3, 2.5, 0.075, 0, 1048576, 65536},
		{"deepseek/deepseek-chat-v3.1", "DeepSeek V3.1", false, false, 0.27, 1.1, 0.07, 0, 163840, 65536},
		{"meta-llama/llama-3.3-70b-instruct", "Llama 3.3 70B (OpenRouter)", false, false, 0.3, 0.4, 0, 0, 131072, 32768},
	}, nil, &CompletionsCompat{
		SupportsUsageInStreaming: true,
		SupportsStrictMode:       true,
		MaxTokensField:           "max_tokens",
	}))

	RegisterModels("github-copilot", buildModels("openai-completions", "github-copilot", copilotBase, []modelSpec{
		{"gpt-5.1", "GPT-5.1 (Copilot)", true, true, 0, 0, 0, 0, 264000, 64000},
		{"claude-sonnet-4.5", "Claude Sonnet 4.5 (Copilot)", true, true, 0, 0, 0, 0, 144000, 16384},
		{"gemini-2.5-pro", "Gemini 2.5 Pro (Copilot)", true, true, 0, 0, 0, 0, 128000, 64000},
	}, copilotHeaders, &CompletionsCompat{
		SupportsUsageInStreaming: true,
		MaxTokensField:           "max_tokens",
	}))
}
