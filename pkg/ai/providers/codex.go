package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vamsi/pi/pkg/ai"
)

// OpenAICodexResponsesOptions are the full options for the Codex backend,
// which speaks the Responses protocol over the ChatGPT backend API with a
// JWT access token.
type OpenAICodexResponsesOptions struct {
	ai.StreamOptions
	ReasoningEffort  string
	ReasoningSummary string
	TextVerbosity    string
}

const (
	defaultCodexBaseURL = "https://chatgpt.com/backend-api"
	codexJWTClaimPath   = "https://api.openai.com/auth"
)

// StreamOpenAICodexResponses streams a response from the OpenAI Codex
// Responses API.
func StreamOpenAICodexResponses(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *OpenAICodexResponsesOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &OpenAICodexResponsesOptions{}
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = ai.GetEnvAPIKey(model.Provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key for provider: %s", model.Provider)
	}
	accountID, err := extractCodexAccountID(apiKey)
	if err != nil {
		return nil, err
	}

	stream := ai.NewAssistantMessageEventStream()
	go runCodexResponses(ctx, stream, model, llmCtx, opts, apiKey, accountID)
	return stream, nil
}

func runCodexResponses(ctx context.Context, stream *ai.AssistantMessageEventStream, model *ai.Model, llmCtx *ai.Context, opts *OpenAICodexResponsesOptions, token, accountID string) {
	output := newOutputMessage(model)
	output.API = "openai-codex-responses"

	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	body := buildCodexBody(model, llmCtx, opts)
	if opts.OnPayload != nil {
		opts.OnPayload(body)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}

	headers := map[string]string{
		"Authorization":      "Bearer " + token,
		"chatgpt-account-id": accountID,
		"OpenAI-Beta":        "responses=experimental",
		"originator":         "pi",
		"User-Agent":         fmt.Sprintf("pi (%s; %s)", runtime.GOOS, runtime.GOARCH),
		"Accept":             "text/event-stream",
		"Content-Type":       "application/json",
	}
	for k, v := range model.Headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if opts.SessionID != "" {
		headers["session_id"] = opts.SessionID
	}

	resp, err := postWithRetry(ctx, resolveCodexURL(model.BaseURL), headers, payload, opts.MaxRetryDelayMS)
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
		// Codex emits response.done; normalize onto response.completed and
		// drop statuses the protocol does not define.
		if event.Type == "response.done" {
			event.Type = "response.completed"
			if event.Response != nil {
				switch event.Response.Status {
				case "completed", "incomplete", "failed", "cancelled", "queued", "in_progress":
				default:
					event.Response.Status = ""
				}
			}
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

// StreamSimpleOpenAICodexResponses streams with a reasoning level mapped to
// a reasoning effort string.
func StreamSimpleOpenAICodexResponses(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	codexOpts := &OpenAICodexResponsesOptions{StreamOptions: base}
	if opts != nil && opts.Reasoning.Enabled() {
		level := opts.Reasoning
		if !ai.SupportsXHigh(model) {
			level = clampThinkingLevel(level)
		}
		codexOpts.ReasoningEffort = string(level)
	}
	return StreamOpenAICodexResponses(ctx, model, llmCtx, codexOpts)
}

// extractCodexAccountID pulls the ChatGPT account id out of the JWT access
// token. The token is not verified here; the backend rejects bad ones.
func extractCodexAccountID(token string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to extract accountId from token: %w", err)
	}
	auth, ok := claims[codexJWTClaimPath].(map[string]any)
	if !ok {
		return "", fmt.Errorf("failed to extract accountId from token: no auth claim")
	}
	accountID, ok := auth["chatgpt_account_id"].(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("failed to extract accountId from token: no account ID in token")
	}
	return accountID, nil
}

func resolveCodexURL(baseURL string) string {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = defaultCodexBaseURL
	}
	normalized := strings.TrimRight(raw, "/")
	switch {
	case strings.HasSuffix(normalized, "/codex/responses"):
		return normalized
	case strings.HasSuffix(normalized, "/codex"):
		return normalized + "/responses"
	default:
		return normalized + "/codex/responses"
	}
}

// clampCodexReasoningEffort applies per-model effort limits.
func clampCodexReasoningEffort(modelID, effort string) string {
	mid := modelID
	if idx := strings.LastIndex(mid, "/"); idx >= 0 {
		mid = mid[idx+1:]
	}
	if (strings.HasPrefix(mid, "gpt-5.2") || strings.HasPrefix(mid, "gpt-5.3")) && effort == "minimal" {
		return "low"
	}
	if mid == "gpt-5.1" && effort == "xhigh" {
		return "high"
	}
	if mid == "gpt-5.1-codex-mini" {
		if effort == "high" || effort == "xhigh" {
			return "high"
		}
		return "medium"
	}
	return effort
}

func buildCodexBody(model *ai.Model, llmCtx *ai.Context, opts *OpenAICodexResponsesOptions) map[string]any {
	input := convertResponsesMessages(model, llmCtx, openaiToolCallProviders, false)

	verbosity := opts.TextVerbosity
	if verbosity == "" {
		verbosity = "medium"
	}
	body := map[string]any{
		"model":               model.ID,
		"store":               false,
		"stream":              true,
		"instructions":        llmCtx.SystemPrompt,
		"input":               input,
		"text":                map[string]any{"verbosity": verbosity},
		"include":             []string{"reasoning.encrypted_content"},
		"prompt_cache_key":    opts.SessionID,
		"tool_choice":         "auto",
		"parallel_tool_calls": true,
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if len(llmCtx.Tools) > 0 {
		body["tools"] = convertResponsesTools(llmCtx.Tools, nil)
	}
	if opts.ReasoningEffort != "" {
		summary := opts.ReasoningSummary
		if summary == "" {
			summary = "auto"
		}
		body["reasoning"] = map[string]any{
			"effort":  clampCodexReasoningEffort(model.ID, opts.ReasoningEffort),
			"summary": summary,
		}
	}
	return body
}
