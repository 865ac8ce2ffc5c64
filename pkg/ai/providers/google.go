package providers

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/vamsi/pi/pkg/ai"
)

// Shared conversion between the unified message model and the Gemini
// Content/Part shapes, used by the GenAI, Vertex, and Gemini CLI adapters.

var base64SignaturePattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)

// Thought signatures must be base64 (TYPE_BYTES) for Google APIs.
func isValidThoughtSignature(signature string) bool {
	if signature == "" || len(signature)%4 != 0 {
		return false
	}
	return base64SignaturePattern.MatchString(signature)
}

func resolveThoughtSignature(samProviderAndModel bool, signature string) []byte {
	if !samProviderAndModel || !isValidThoughtSignature(signature) {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil
	}
	return decoded
}

// googleRequiresToolCallID reports whether the model needs explicit ids on
// function calls (Claude and gpt-oss models served through Google APIs).
func googleRequiresToolCallID(modelID string) bool {
	return strings.HasPrefix(modelID, "claude-") || strings.HasPrefix(modelID, "gpt-oss-")
}

func googleToolIDNormalizer(modelID string) func(string) string {
	if !googleRequiresToolCallID(modelID) {
		return nil
	}
	return normalizeAnthropicToolID
}

// newGoogleToolCallID synthesizes a unique id for function calls on models
// that do not provide one.
func newGoogleToolCallID(name string) string {
	return name + "_" + uuid.NewString()
}

func isGemini3(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "gemini-3")
}

// convertGoogleMessages converts a history into Gemini Content values.
func convertGoogleMessages(model *ai.Model, llmCtx *ai.Context) []*genai.Content {
	transformed := transformMessages(llmCtx.Messages, transformOptions{
		currentModel:    model.ID,
		normalizeToolID: googleToolIDNormalizer(model.ID),
	})

	var contents []*genai.Content
	for _, msg := range transformed {
		switch m := msg.(type) {
		case *ai.UserMessage:
			var parts []*genai.Part
			for _, item := range m.Content {
				switch c := item.(type) {
				case *ai.TextContent:
					parts = append(parts, &genai.Part{Text: c.Text})
				case *ai.ImageContent:
					if model.SupportsImageInput() {
						if data, err := base64.StdEncoding.DecodeString(c.Data); err == nil {
							parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: c.MimeType, Data: data}})
						}
					}
				}
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})

		case *ai.AssistantMessage:
			isSame := m.Provider == model.Provider && m.Model == model.ID
			var parts []*genai.Part
			for _, block := range m.Content {
				switch c := block.(type) {
				case *ai.TextContent:
					if strings.TrimSpace(c.Text) == "" {
						continue
					}
					parts = append(parts, &genai.Part{
						Text:             c.Text,
						ThoughtSignature: resolveThoughtSignature(isSame, c.TextSignature),
					})
				case *ai.ThinkingContent:
					if strings.TrimSpace(c.Thinking) == "" {
						continue
					}
					if isSame {
						parts = append(parts, &genai.Part{
							Text:             c.Thinking,
							Thought:          true,
							ThoughtSignature: resolveThoughtSignature(isSame, c.ThinkingSignature),
						})
					} else {
						parts = append(parts, &genai.Part{Text: c.Thinking})
					}
				case *ai.ToolCall:
					sig := resolveThoughtSignature(isSame, c.ThoughtSignature)
					if isGemini3(model.ID) && sig == nil {
						// Gemini 3 rejects unsigned function calls from other
						// models; describe the call as history instead.
						parts = append(parts, &genai.Part{Text: fmt.Sprintf(
							"[Historical context: a different model called tool %q with arguments: %v. Do not mimic this format - use proper function calling.]",
							c.Name, c.Arguments)})
						continue
					}
					fc := &genai.FunctionCall{Name: c.Name, Args: c.Arguments}
					if googleRequiresToolCallID(model.ID) {
						fc.ID = c.ID
					}
					parts = append(parts, &genai.Part{FunctionCall: fc, ThoughtSignature: sig})
				}
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case *ai.ToolResultMessage:
			text := m.Text()
			var imageParts []*genai.Part
			if model.SupportsImageInput() {
				for _, item := range m.Content {
					if c, ok := item.(*ai.ImageContent); ok {
						if data, err := base64.StdEncoding.DecodeString(c.Data); err == nil {
							imageParts = append(imageParts, &genai.Part{InlineData: &genai.Blob{MIMEType: c.MimeType, Data: data}})
						}
					}
				}
			}
			if text == "" && len(imageParts) > 0 {
				text = "(see attached image)"
			}
			response := map[string]any{"output": text}
			if m.IsError {
				response = map[string]any{"error": text}
			}
			fr := &genai.FunctionResponse{Name: m.ToolName, Response: response}
			if googleRequiresToolCallID(model.ID) {
				fr.ID = m.ToolCallID
			}
			part := &genai.Part{FunctionResponse: fr}

			// Consecutive function responses share one user content.
			if last := lastContent(contents); last != nil && last.Role == genai.RoleUser && hasFunctionResponse(last) {
				last.Parts = append(last.Parts, part)
			} else {
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
			}

			if len(imageParts) > 0 {
				parts := append([]*genai.Part{{Text: "Tool result image:"}}, imageParts...)
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
			}
		}
	}
	return contents
}

func lastContent(contents []*genai.Content) *genai.Content {
	if len(contents) == 0 {
		return nil
	}
	return contents[len(contents)-1]
}

func hasFunctionResponse(content *genai.Content) bool {
	for _, part := range content.Parts {
		if part.FunctionResponse != nil {
			return true
		}
	}
	return false
}

// convertGoogleTools converts the tool catalog to Gemini function
// declarations, passing the JSON-Schema parameter objects through.
func convertGoogleTools(tools []ai.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func mapGoogleFinishReason(reason string) ai.StopReason {
	switch reason {
	case "STOP":
		return ai.StopReasonStop
	case "MAX_TOKENS":
		return ai.StopReasonLength
	default:
		return ai.StopReasonError
	}
}

// googleThinkingLevel maps a level to the Gemini 3 thinkingLevel enum.
// 3-pro models only accept LOW and HIGH.
func googleThinkingLevel(level ai.ThinkingLevel, modelID string) string {
	if strings.Contains(modelID, "3-pro") {
		if level == ai.ThinkingMinimal || level == ai.ThinkingLow {
			return "LOW"
		}
		return "HIGH"
	}
	switch level {
	case ai.ThinkingMinimal:
		return "MINIMAL"
	case ai.ThinkingLow:
		return "LOW"
	case ai.ThinkingMedium:
		return "MEDIUM"
	case ai.ThinkingHigh, ai.ThinkingXHigh:
		return "HIGH"
	default:
		return "MEDIUM"
	}
}
