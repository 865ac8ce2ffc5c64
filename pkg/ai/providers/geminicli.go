package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/genai"

	"github.com/vamsi/pi/pkg/ai"
)

// The Gemini CLI backend speaks the Cloud Code Assist API: Gemini requests
// wrapped in a project/request envelope, authenticated with an OAuth access
// token instead of an API key.

const geminiCliEndpoint = "https://cloudcode-pa.googleapis.com"

var geminiCliHeaders = map[string]string{
	"User-Agent":        "google-cloud-sdk vscode_cloudshelleditor/0.1",
	"X-Goog-Api-Client": "gl-node/22.17.0",
	"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
}

// Gemini CLI OAuth client (public installed-app credentials).
var geminiCliOAuthConfig = &oauth2.Config{
	ClientID:     "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com",
	ClientSecret: "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",
	Endpoint: oauth2.Endpoint{
		AuthURL:  "https://accounts.google.com/o/oauth2/auth",
		TokenURL: "https://oauth2.googleapis.com/token",
	},
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	},
}

// GeminiCliCredentials is the JSON shape passed as the adapter's API key:
// an OAuth access token plus the Code Assist project.
type GeminiCliCredentials struct {
	Token     string `json:"token"`
	ProjectID string `json:"projectId"`
}

// GoogleGeminiCliOptions are the full options for the Gemini CLI adapter.
type GoogleGeminiCliOptions struct {
	ai.StreamOptions
	Thinking   *GoogleThinking
	ToolChoice string
	ProjectID  string
}

// LoadGeminiCliCredentials reads and refreshes the cached Gemini CLI OAuth
// credentials (~/.gemini/oauth_creds.json), returning the adapter's
// JSON-encoded credentials. The cache is rewritten when the token was
// refreshed.
func LoadGeminiCliCredentials(ctx context.Context, projectID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(home, ".gemini", "oauth_creds.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("gemini CLI credentials not found: %w", err)
	}
	var cached struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiryDate   int64  `json:"expiry_date"` // unix ms
	}
	if err := json.Unmarshal(raw, &cached); err != nil {
		return "", fmt.Errorf("invalid gemini CLI credentials: %w", err)
	}

	token := &oauth2.Token{
		AccessToken:  cached.AccessToken,
		RefreshToken: cached.RefreshToken,
		Expiry:       time.UnixMilli(cached.ExpiryDate),
	}
	refreshed, err := geminiCliOAuthConfig.TokenSource(ctx, token).Token()
	if err != nil {
		return "", fmt.Errorf("gemini CLI token refresh failed: %w", err)
	}
	if refreshed.AccessToken != cached.AccessToken {
		cached.AccessToken = refreshed.AccessToken
		cached.ExpiryDate = refreshed.Expiry.UnixMilli()
		if updated, err := json.Marshal(cached); err == nil {
			_ = os.WriteFile(path, updated, 0o600)
		}
	}

	creds, err := json.Marshal(GeminiCliCredentials{Token: refreshed.AccessToken, ProjectID: projectID})
	if err != nil {
		return "", err
	}
	return string(creds), nil
}

// StreamGoogleGeminiCli streams a response from the Cloud Code Assist API.
// The API key must be JSON-encoded GeminiCliCredentials.
func StreamGoogleGeminiCli(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *GoogleGeminiCliOptions) (*ai.AssistantMessageEventStream, error) {
	if opts == nil {
		opts = &GoogleGeminiCliOptions{}
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("google Cloud Code Assist requires OAuth authentication")
	}
	var creds GeminiCliCredentials
	if err := json.Unmarshal([]byte(opts.APIKey), &creds); err != nil || creds.Token == "" || creds.ProjectID == "" {
		return nil, fmt.Errorf("invalid google Cloud Code Assist credentials")
	}

	stream := ai.NewAssistantMessageEventStream()
	go runGeminiCli(ctx, stream, model, llmCtx, opts, &creds)
	return stream, nil
}

func runGeminiCli(ctx context.Context, stream *ai.AssistantMessageEventStream, model *ai.Model, llmCtx *ai.Context, opts *GoogleGeminiCliOptions, creds *GeminiCliCredentials) {
	output := newOutputMessage(model)
	output.API = "google-gemini-cli"

	defer func() {
		if r := recover(); r != nil {
			failStream(ctx, stream, output, fmt.Errorf("panic: %v", r))
		}
	}()

	body := buildGeminiCliBody(model, llmCtx, creds.ProjectID, opts)
	if opts.OnPayload != nil {
		opts.OnPayload(body)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}

	headers := map[string]string{
		"Authorization": "Bearer " + creds.Token,
		"Content-Type":  "application/json",
		"Accept":        "text/event-stream",
	}
	for k, v := range geminiCliHeaders {
		headers[k] = v
	}
	for k, v := range model.Headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	endpoint := model.BaseURL
	if endpoint == "" {
		endpoint = geminiCliEndpoint
	}
	url := endpoint + "/v1internal:streamGenerateContent?alt=sse"

	resp, err := postWithRetry(ctx, url, headers, payload, opts.MaxRetryDelayMS)
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}
	defer resp.Body.Close()

	stream.Push(&ai.StartEvent{Partial: output})

	// Cloud Code Assist wraps each chunk in a {"response": ...} envelope.
	acc := googleAccumulator{stream: stream, output: output}
	hasContent := false
	err = parseSSEStream(resp.Body, func(_, data string) error {
		if data == "" {
			return nil
		}
		var envelope struct {
			Response *genai.GenerateContentResponse `json:"response"`
		}
		if json.Unmarshal([]byte(data), &envelope) != nil || envelope.Response == nil {
			return nil
		}
		if len(envelope.Response.Candidates) > 0 && envelope.Response.Candidates[0].Content != nil {
			if len(envelope.Response.Candidates[0].Content.Parts) > 0 {
				hasContent = true
			}
		}
		acc.chunk(model, envelope.Response)
		return nil
	})
	if err != nil {
		failStream(ctx, stream, output, err)
		return
	}
	acc.finish()

	if !hasContent {
		failStream(ctx, stream, output, fmt.Errorf("cloud Code Assist API returned an empty response"))
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

// StreamSimpleGoogleGeminiCli streams with a reasoning level mapped like
// the GenAI adapter, capped to the model's output window.
func StreamSimpleGoogleGeminiCli(ctx context.Context, model *ai.Model, llmCtx *ai.Context, opts *ai.SimpleStreamOptions) (*ai.AssistantMessageEventStream, error) {
	base := buildBaseOptions(model, opts)
	cliOpts := &GoogleGeminiCliOptions{StreamOptions: base, Thinking: &GoogleThinking{Enabled: false}}

	if opts != nil && opts.Reasoning.Enabled() && model.Reasoning {
		level := clampThinkingLevel(opts.Reasoning)
		if isGemini3(model.ID) {
			cliOpts.Thinking = &GoogleThinking{Enabled: true, Level: googleThinkingLevel(level, model.ID)}
		} else {
			budget := thinkingBudget(opts.Reasoning, googleThinkingBudgets, budgetOverrides(opts.ThinkingBudgets))
			maxTokens := base.MaxTokens + budget
			if model.MaxTokens > 0 && maxTokens > model.MaxTokens {
				maxTokens = model.MaxTokens
			}
			if maxTokens <= budget {
				budget = maxTokens - minOutputTokens
				if budget < 0 {
					budget = 0
				}
			}
			cliOpts.MaxTokens = maxTokens
			cliOpts.Thinking = &GoogleThinking{Enabled: true, BudgetTokens: budget}
		}
	}
	return StreamGoogleGeminiCli(ctx, model, llmCtx, cliOpts)
}

func newGeminiCliRequestID() string {
	return fmt.Sprintf("pi-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func buildGeminiCliBody(model *ai.Model, llmCtx *ai.Context, projectID string, opts *GoogleGeminiCliOptions) map[string]any {
	request := map[string]any{
		"contents": convertGoogleMessages(model, llmCtx),
	}
	if opts.SessionID != "" {
		request["sessionId"] = opts.SessionID
	}
	if llmCtx.SystemPrompt != "" {
		request["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": llmCtx.SystemPrompt}},
		}
	}

	generationConfig := map[string]any{}
	if opts.Temperature != nil {
		generationConfig["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = opts.MaxTokens
	}
	if opts.Thinking != nil && opts.Thinking.Enabled && model.Reasoning {
		thinkingConfig := map[string]any{"includeThoughts": true}
		if opts.Thinking.Level != "" {
			thinkingConfig["thinkingLevel"] = opts.Thinking.Level
		} else {
			thinkingConfig["thinkingBudget"] = opts.Thinking.BudgetTokens
		}
		generationConfig["thinkingConfig"] = thinkingConfig
	}
	if len(generationConfig) > 0 {
		request["generationConfig"] = generationConfig
	}

	if len(llmCtx.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(llmCtx.Tools))
		for _, tool := range llmCtx.Tools {
			declarations = append(declarations, map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			})
		}
		request["tools"] = []map[string]any{{"functionDeclarations": declarations}}
		if opts.ToolChoice != "" {
			mode := "AUTO"
			switch opts.ToolChoice {
			case "none":
				mode = "NONE"
			case "any":
				mode = "ANY"
			}
			request["toolConfig"] = map[string]any{"functionCallingConfig": map[string]any{"mode": mode}}
		}
	}

	return map[string]any{
		"project":   projectID,
		"model":     model.ID,
		"request":   request,
		"userAgent": "pi",
		"requestId": newGeminiCliRequestID(),
	}
}
