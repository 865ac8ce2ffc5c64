package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vamsi/pi/pkg/ai"
)

// AzureOpenAIResponsesOptions are the full options for the Azure Responses
// adapter. Azure routes by deployment name rather than model id.
type AzureOpenAIResponsesOptions struct {
	ai.StreamOptions
	ReasoningEffort  string
	ReasoningSummary string
	APIVersion       string
	ResourceName     string
	BaseURL          string
	DeploymentName   string
}

const defaultAzureAPIVersion = "v1"

var azureToolCallProviders = map[string]bool{
	"openai": true, "openai-codex": true, "opencode": true, "azure-openai-responses": true,
}

// StreamAzureOpenAIResponses streams a response from the Azure OpenAI
// Responses API.
func StreamAzureOpenAIResponses(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *AzureOpenAIResponsesOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &AzureOpenAIResponsesOptions{}
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = ai.GetEnvAPIKey(model.Provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider: %s", model.Provider)
	}
	baseURL, err := resolveAzureBaseURL(model, opts)
	if err != nil {
		return nil, err
	}

	stream := ai.NewAssistantMessageEventStream()
	go runAzureResponses(ctx, stream, model, llmCtx, opts, apiKey, baseURL)
	return stream, nil
}

func runAzureResponses(ctx context.Context, stream *ai.AssistantMessageEventStream, model *ai.Model, llmCtx *ai.Context, opts *AzureOpenAIResponsesOptions, apiKey, baseURL string) {
	output := newOutputMessage(model)
	output.API = "azure-openai-responses"

	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	body := buildAzureBody(model, llmCtx, opts)
	if opts.OnPayload != nil {
		opts.OnPayload(body)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}

	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}

	headers := map[string]string{
		"api-key":      apiKey,
		"Content-Type": "application/json",
		"Accept":       "text/event-stream",
	}
	for k, v := range model.Headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	url := baseURL + "/responses?api-version=" + apiVersion
	resp, err := postWithRetry(ctx, url, headers, payload, opts.MaxRetryDelayMS)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}
	defer resp.Body.Close()

	stream.Push(&ai.StartEvent{Partial: output})

	processor := &responsesProcessor{model: model, output: output, stream: stream}
	err = parseSSEStream(resp.Body, func(_, data string) error {
		if data == "" || data == "[DONE]" {
			return nil
		}
		var event responsesEvent
		if json.Unmarshal([]byte(data), &event) != nil {
			return nil
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

// StreamSimpleAzureOpenAIResponses streams with a reasoning level mapped to
// a reasoning effort string.
func StreamSimpleAzureOpenAIResponses(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	azureOpts := &AzureOpenAIResponsesOptions{StreamOptions: base}
	if opts != nil && opts.Reasoning.Enabled() {
		level := opts.Reasoning
		if !ai.SupportsXHigh(model) {
			level = clampThinkingLevel(level)
		}
		azureOpts.ReasoningEffort = string(level)
	}
	return StreamAzureOpenAIResponses(ctx, model, llmCtx, azureOpts)
}

// parseDeploymentNameMap parses "model=deployment,model2=deployment2".
func parseDeploymentNameMap(value string) map[string]string {
	result := map[string]string{}
	for _, entry := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if key != "" && val != "" {
			result[key] = val
		}
	}
	return result
}

func resolveAzureDeploymentName(model *ai.Model, opts *AzureOpenAIResponsesOptions) string {
	if opts.DeploymentName != "" {
		return opts.DeploymentName
	}
	mapping := parseDeploymentNameMap(os.Getenv("AZURE_OPENAI_DEPLOYMENT_NAME_MAP"))
	if name, ok := mapping[model.ID]; ok {
		return name
	}
	return model.ID
}

func resolveAzureBaseURL(model *ai.Model, opts *AzureOpenAIResponsesOptions) (string, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("AZURE_OPENAI_BASE_URL"))
	}
	if baseURL == "" {
		resource := opts.ResourceName
		if resource == "" {
			resource = os.Getenv("AZURE_OPENAI_RESOURCE_NAME")
		}
		if resource != "" {
			baseURL = "https://" + resource + ".openai.azure.com/openai/v1"
		}
	}
	if baseURL == "" {
		baseURL = model.BaseURL
	}
	if baseURL == "" {
		return "", fmt.Errorf("azure OpenAI base URL is required")
	}
	return strings.TrimRight(baseURL, "/"), nil
}

func buildAzureBody(model *ai.Model, llmCtx *ai.Context, opts *AzureOpenAIResponsesOptions) map[string]any {
	input := convertResponsesMessages(model, llmCtx, azureToolCallProviders, true)

	body := map[string]any{
		"model":  resolveAzureDeploymentName(model, opts),
		"input":  input,
		"stream": true,
	}
	if opts.SessionID != "" {
		body["prompt_cache_key"] = opts.SessionID
	}
	if opts.MaxTokens > 0 {
		body["max_output_tokens"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
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
		} else if strings.HasPrefix(strings.ToLower(model.Name), "gpt-5") {
			input = append(input, map[string]any{
				"role":    "developer",
				"content": []map[string]any{{"type": "input_text", "text": "# Juice: 0 !important"}},
			})
			body["input"] = input
		}
	}
	return body
}
