package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vamsi/pi/internal/jsonx"
	"github.com/vamsi/pi/pkg/ai"
)

// Shared machinery for the OpenAI Responses wire protocol, used by the
// OpenAI, Azure, and Codex Responses adapters. All three speak raw SSE; the
// event JSON decodes into responsesEvent.

type responsesItem struct {
	Type      string              `json:"type,omitempty"`
	ID        string              `json:"id,omitempty"`
	CallID    string              `json:"call_id,omitempty"`
	Name      string              `json:"name,omitempty"`
	Arguments string              `json:"arguments,omitempty"`
	Role      string              `json:"role,omitempty"`
	Status    string              `json:"status,omitempty"`
	Content   []responsesItemPart `json:"content,omitempty"`
	Summary   []responsesItemPart `json:"summary,omitempty"`
}

type responsesItemPart struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Refusal     string `json:"refusal,omitempty"`
	Annotations []any  `json:"annotations,omitempty"`
}

type responsesUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	TotalTokens        int `json:"total_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

type responsesResponse struct {
	Status      string          `json:"status"`
	ServiceTier string          `json:"service_tier"`
	Usage       *responsesUsage `json:"usage"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type responsesEvent struct {
	Type      string             `json:"type"`
	Item      *responsesItem     `json:"item"`
	Part      *responsesItemPart `json:"part"`
	Delta     string             `json:"delta"`
	Arguments string             `json:"arguments"`
	Response  *responsesResponse `json:"response"`
	Code      any                `json:"code"`
	Message   string             `json:"message"`
}

// responsesProcessor folds Responses SSE events into the output message,
// pushing normalized events as blocks open, stream, and close.
type responsesProcessor struct {
	model       *ai.Model
	output      *ai.AssistantMessage
	stream      *ai.AssistantMessageEventStream
	serviceTier string // caller-requested tier, overridden by the response

	currentKind string // "", reasoning, message, function_call
	partialJSON string
}

func (p *responsesProcessor) blockIndex() int {
	return len(p.output.Content) - 1
}

// handle processes one SSE event. A returned error terminates the stream.
func (p *responsesProcessor) handle(ev *responsesEvent) error {
	switch ev.Type {
	case "response.output_item.added":
		if ev.Item == nil {
			return nil
		}
		switch ev.Item.Type {
		case "reasoning":
			p.currentKind = "reasoning"
			p.output.Content = append(p.output.Content, &ai.ThinkingContent{})
			p.stream.Push(&ai.ThinkingStartEvent{ContentIndex: p.blockIndex(), Partial: p.output})
		case "message":
			p.currentKind = "message"
			p.output.Content = append(p.output.Content, &ai.TextContent{TextSignature: ev.Item.ID})
			p.stream.Push(&ai.TextStartEvent{ContentIndex: p.blockIndex(), Partial: p.output})
		case "function_call":
			p.currentKind = "function_call"
			p.partialJSON = ev.Item.Arguments
			p.output.Content = append(p.output.Content, &ai.ToolCall{
				ID:        ev.Item.CallID + "|" + ev.Item.ID,
				Name:      ev.Item.Name,
				Arguments: map[string]any{},
			})
			p.stream.Push(&ai.ToolCallStartEvent{ContentIndex: p.blockIndex(), Partial: p.output})
		}

	case "response.reasoning_summary_text.delta":
		if p.currentKind != "reasoning" || ev.Delta == "" {
			return nil
		}
		if block, ok := p.output.Content[p.blockIndex()].(*ai.ThinkingContent); ok {
			block.Thinking += ev.Delta
			p.stream.Push(&ai.ThinkingDeltaEvent{ContentIndex: p.blockIndex(), Delta: ev.Delta, Partial: p.output})
		}

	case "response.reasoning_summary_part.done":
		if p.currentKind != "reasoning" {
			return nil
		}
		if block, ok := p.output.Content[p.blockIndex()].(*ai.ThinkingContent); ok {
			block.Thinking += "\n\n"
			p.stream.Push(&ai.ThinkingDeltaEvent{ContentIndex: p.blockIndex(), Delta: "\n\n", Partial: p.output})
		}

	case "response.output_text.delta", "response.refusal.delta":
		if p.currentKind != "message" || ev.Delta == "" {
			return nil
		}
		if block, ok := p.output.Content[p.blockIndex()].(*ai.TextContent); ok {
			block.Text += ev.Delta
			p.stream.Push(&ai.TextDeltaEvent{ContentIndex: p.blockIndex(), Delta: ev.Delta, Partial: p.output})
		}

	case "response.function_call_arguments.delta":
		if p.currentKind != "function_call" || ev.Delta == "" {
			return nil
		}
		if block, ok := p.output.Content[p.blockIndex()].(*ai.ToolCall); ok {
			p.partialJSON += ev.Delta
			block.Arguments = jsonx.Parse(p.partialJSON)
			p.stream.Push(&ai.ToolCallDeltaEvent{ContentIndex: p.blockIndex(), Delta: ev.Delta, Partial: p.output})
		}

	case "response.function_call_arguments.done":
		if p.currentKind != "function_call" {
			return nil
		}
		if block, ok := p.output.Content[p.blockIndex()].(*ai.ToolCall); ok {
			p.partialJSON = ev.Arguments
			block.Arguments = jsonx.Parse(ev.Arguments)
		}

	case "response.output_item.done":
		if ev.Item == nil {
			return nil
		}
		idx := p.blockIndex()
		switch {
		case ev.Item.Type == "reasoning" && p.currentKind == "reasoning":
			var texts []string
			for _, part := range ev.Item.Summary {
				texts = append(texts, part.Text)
			}
			thinking := strings.Join(texts, "\n\n")
			if block, ok := p.output.Content[idx].(*ai.ThinkingContent); ok {
				block.Thinking = thinking
				if sig, err := json.Marshal(ev.Item); err == nil {
					block.ThinkingSignature = string(sig)
				}
				p.stream.Push(&ai.ThinkingEndEvent{ContentIndex: idx, Content: thinking, Signature: block.ThinkingSignature, Partial: p.output})
			}
			p.currentKind = ""

		case ev.Item.Type == "message" && p.currentKind == "message":
			var text string
			for _, part := range ev.Item.Content {
				if part.Type == "output_text" {
					text += part.Text
				} else {
					text += part.Refusal
				}
			}
			if block, ok := p.output.Content[idx].(*ai.TextContent); ok {
				block.Text = text
				block.TextSignature = ev.Item.ID
				p.stream.Push(&ai.TextEndEvent{ContentIndex: idx, Content: text, Partial: p.output})
			}
			p.currentKind = ""

		case ev.Item.Type == "function_call":
			args, err := jsonx.ParseStrict(p.partialJSON)
			if err != nil {
				if args, err = jsonx.ParseStrict(ev.Item.Arguments); err != nil {
					args = map[string]any{}
				}
			}
			if block, ok := p.output.Content[idx].(*ai.ToolCall); ok {
				block.ID = ev.Item.CallID + "|" + ev.Item.ID
				block.Name = ev.Item.Name
				block.Arguments = args
				p.stream.Push(&ai.ToolCallEndEvent{ContentIndex: idx, ToolCall: block, Partial: p.output})
			}
			p.currentKind = ""
			p.partialJSON = ""
		}

	case "response.completed", "response.done":
		if ev.Response == nil {
			return nil
		}
		if u := ev.Response.Usage; u != nil {
			p.output.Usage.Input = u.InputTokens - u.InputTokensDetails.CachedTokens
			p.output.Usage.Output = u.OutputTokens
			p.output.Usage.CacheRead = u.InputTokensDetails.CachedTokens
			p.output.Usage.TotalTokens = u.TotalTokens
			ai.CalculateCost(p.model, &p.output.Usage)
		}
		tier := ev.Response.ServiceTier
		if tier == "" {
			tier = p.serviceTier
		}
		applyServiceTierPricing(&p.output.Usage, tier)

		p.output.StopReason = mapResponsesStatus(ev.Response.Status)
		if p.output.StopReason == ai.StopReasonStop && len(p.output.ToolCalls()) > 0 {
			p.output.StopReason = ai.StopReasonToolUse
		}

	case "error":
		code := ""
		switch c := ev.Code.(type) {
		case string:
			code = c
		case float64:
			code = strconv.Itoa(int(c))
		}
		if ev.Message != "" {
			return fmt.Errorf("error code %s: %s", code, ev.Message)
		}
		return errors.New("unknown error")

	case "response.failed":
		if ev.Response != nil && ev.Response.Error != nil && ev.Response.Error.Message != "" {
			return errors.New(ev.Response.Error.Message)
		}
		return errors.New("response failed")
	}
	return nil
}

func mapResponsesStatus(status string) ai.StopReason {
	switch status {
	case "", "completed", "in_progress", "queued":
		return ai.StopReasonStop
	case "incomplete":
		return ai.StopReasonLength
	case "failed", "cancelled":
		return ai.StopReasonError
	default:
		return ai.StopReasonStop
	}
}

func serviceTierMultiplier(tier string) float64 {
	switch tier {
	case "flex":
		return 0.5
	case "priority":
		return 2.0
	default:
		return 1.0
	}
}

func applyServiceTierPricing(usage *ai.Usage, tier string) {
	multiplier := serviceTierMultiplier(tier)
	if multiplier == 1.0 {
		return
	}
	usage.Cost.Input *= multiplier
	usage.Cost.Output *= multiplier
	usage.Cost.CacheRead *= multiplier
	usage.Cost.CacheWrite *= multiplier
	usage.Cost.Total = usage.Cost.Input + usage.Cost.Output + usage.Cost.CacheRead + usage.Cost.CacheWrite
}

// --- Message conversion ---

var responsesIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// splitResponsesToolID splits the combined "callID|itemID" tool id this
// adapter family uses to carry both identifiers.
func splitResponsesToolID(id string) (callID, itemID string) {
	if idx := strings.Index(id, "|"); idx >= 0 {
		return id[:idx], id[idx+1:]
	}
	return id, ""
}

func responsesToolIDNormalizer(model *ai.Model, allowedProviders map[string]bool) func(string) string {
	return func(id string) string {
		if !allowedProviders[model.Provider] {
			return id
		}
		callID, itemID := splitResponsesToolID(id)
		if itemID == "" {
			return id
		}
		callID = responsesIDPattern.ReplaceAllString(callID, "_")
		itemID = responsesIDPattern.ReplaceAllString(itemID, "_")
		if !strings.HasPrefix(itemID, "fc") {
			itemID = "fc_" + itemID
		}
		if len(callID) > 64 {
			callID = callID[:64]
		}
		if len(itemID) > 64 {
			itemID = itemID[:64]
		}
		return strings.TrimRight(callID, "_") + "|" + strings.TrimRight(itemID, "_")
	}
}

// shortHash is a small deterministic hash used to shorten over-long
// Responses item ids.
func shortHash(s string) string {
	var h1, h2 uint32 = 0xDEADBEEF, 0x41C6CE57
	for _, ch := range s {
		c := uint32(ch)
		h1 = (h1 ^ c) * 2654435761
		h2 = (h2 ^ c) * 1597334677
	}
	h1 = ((h1 ^ (h1 >> 16)) * 2246822507) ^ ((h2 ^ (h2 >> 13)) * 3266489909)
	h2 = ((h2 ^ (h2 >> 16)) * 2246822507) ^ ((h1 ^ (h1 >> 13)) * 3266489909)
	return strconv.FormatUint(uint64(h2), 36) + strconv.FormatUint(uint64(h1), 36)
}

// convertResponsesMessages converts a history into Responses API input
// items. Reasoning items replay via their recorded signatures; tool calls
// and results use the call/item id pair.
func convertResponsesMessages(model *ai.Model, llmCtx *ai.Context, allowedProviders map[string]bool, includeSystemPrompt bool) []map[string]any {
	transformed := transformMessages(llmCtx.Messages, transformOptions{
		currentModel:    model.ID,
		normalizeToolID: responsesToolIDNormalizer(model, allowedProviders),
	})

	var items []map[string]any
	if includeSystemPrompt && llmCtx.SystemPrompt != "" {
		role := "system"
		if model.Reasoning {
			role = "developer"
		}
		items = append(items, map[string]any{"role": role, "content": llmCtx.SystemPrompt})
	}

	msgIndex := 0
	for _, msg := range transformed {
		switch m := msg.(type) {
		case *ai.UserMessage:
			var content []map[string]any
			for _, item := range m.Content {
				switch c := item.(type) {
				case *ai.TextContent:
					content = append(content, map[string]any{"type": "input_text", "text": c.Text})
				case *ai.ImageContent:
					if model.SupportsImageInput() {
						content = append(content, map[string]any{
							"type": "input_image", "detail": "auto", "image_url": dataURL(c.MimeType, c.Data),
						})
					}
				}
			}
			if len(content) == 0 {
				continue
			}
			items = append(items, map[string]any{"role": "user", "content": content})

		case *ai.AssistantMessage:
			isDifferentModel := m.Model != model.ID && m.Provider == model.Provider && m.API == model.API
			var outputItems []map[string]any
			for _, block := range m.Content {
				switch c := block.(type) {
				case *ai.ThinkingContent:
					if c.ThinkingSignature == "" {
						continue
					}
					var reasoningItem map[string]any
					if json.Unmarshal([]byte(c.ThinkingSignature), &reasoningItem) == nil {
						outputItems = append(outputItems, reasoningItem)
					}
				case *ai.TextContent:
					msgID := c.TextSignature
					if msgID == "" {
						msgID = "msg_" + strconv.Itoa(msgIndex)
					} else if len(msgID) > 64 {
						msgID = "msg_" + shortHash(msgID)
					}
					outputItems = append(outputItems, map[string]any{
						"type": "message",
						"role": "assistant",
						"content": []map[string]any{
							{"type": "output_text", "text": c.Text, "annotations": []any{}},
						},
						"status": "completed",
						"id":     msgID,
					})
				case *ai.ToolCall:
					callID, itemID := splitResponsesToolID(c.ID)
					args, err := json.Marshal(c.Arguments)
					if err != nil {
						args = []byte("{}")
					}
					item := map[string]any{
						"type":      "function_call",
						"call_id":   callID,
						"name":      c.Name,
						"arguments": string(args),
					}
					if itemID != "" && !(isDifferentModel && strings.HasPrefix(itemID, "fc_")) {
						item["id"] = itemID
					}
					outputItems = append(outputItems, item)
				}
			}
			items = append(items, outputItems...)

		case *ai.ToolResultMessage:
			text := m.Text()
			hasImages := false
			for _, c := range m.Content {
				if _, ok := c.(*ai.ImageContent); ok {
					hasImages = true
				}
			}
			if text == "" {
				text = "(see attached image)"
			}
			callID, _ := splitResponsesToolID(m.ToolCallID)
			items = append(items, map[string]any{
				"type":    "function_call_output",
				"call_id": callID,
				"output":  text,
			})
			if hasImages && model.SupportsImageInput() {
				content := []map[string]any{{"type": "input_text", "text": "Attached image(s) from tool result:"}}
				for _, item := range m.Content {
					if c, ok := item.(*ai.ImageContent); ok {
						content = append(content, map[string]any{
							"type": "input_image", "detail": "auto", "image_url": dataURL(c.MimeType, c.Data),
						})
					}
				}
				items = append(items, map[string]any{"role": "user", "content": content})
			}
		}
		msgIndex++
	}
	return items
}

// convertResponsesTools converts tools to the Responses function format.
// strict is a tri-state: nil omits the field.
func convertResponsesTools(tools []ai.Tool, strict *bool) []map[string]any {
	var result []map[string]any
	for _, tool := range tools {
		item := map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.Parameters,
		}
		if strict != nil {
			item["strict"] = *strict
		}
		result = append(result, item)
	}
	return result
}
