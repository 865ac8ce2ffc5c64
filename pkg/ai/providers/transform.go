package providers

import (
	"github.com/vamsi/pi/pkg/ai"
)

// transformOptions configures cross-provider message normalization.
type transformOptions struct {
	// currentModel strips thought signatures from blocks produced by a
	// different model.
	currentModel string
	// normalizeToolID rewrites tool-call IDs into the provider's accepted
	// alphabet. Applied to both calls and results.
	normalizeToolID func(string) string
	// convertThinkingToText rewrites thinking blocks into delimited text for
	// providers that reject thinking blocks in history.
	convertThinkingToText bool
}

// transformMessages normalizes a message history for a provider:
//
//   - errored/aborted assistant messages are skipped
//   - tool-result messages that precede any tool-call assistant message are
//     elided (they reference calls outside the window)
//   - adjacent user messages are concatenated
//   - tool-call IDs are normalized when the provider requires it
//   - empty thinking blocks are dropped; thinking is converted to text when
//     the provider cannot replay it
//   - thought signatures from other models are stripped
//   - tool calls left without a result before a user message get a synthetic
//     "Interrupted by user message" result
//
// Input messages are never mutated; blocks that change are copied.
func transformMessages(messages []ai.Message, opts transformOptions) []ai.Message {
	var result []ai.Message
	pending := map[string]string{} // tool call id -> name, awaiting a result
	var pendingOrder []string
	seenToolCall := false

	for _, msg := range messages {
		switch m := msg.(type) {
		case *ai.AssistantMessage:
			if m.StopReason == ai.StopReasonError || m.StopReason == ai.StopReasonAborted {
				continue
			}
			copied := *m
			copied.Content = nil
			for _, block := range m.Content {
				switch b := block.(type) {
				case *ai.ToolCall:
					tc := *b
					if opts.normalizeToolID != nil {
						tc.ID = opts.normalizeToolID(tc.ID)
					}
					if opts.currentModel != "" && m.Model != opts.currentModel {
						tc.ThoughtSignature = ""
					}
					if _, ok := pending[tc.ID]; !ok {
						pendingOrder = append(pendingOrder, tc.ID)
					}
					pending[tc.ID] = tc.Name
					seenToolCall = true
					copied.Content = append(copied.Content, &tc)
				case *ai.ThinkingContent:
					if opts.convertThinkingToText {
						if b.Thinking != "" {
							copied.Content = append(copied.Content, &ai.TextContent{Text: "<thinking>\n" + b.Thinking + "\n</thinking>"})
						}
					} else if b.Thinking != "" || b.ThinkingSignature != "" {
						copied.Content = append(copied.Content, b)
					}
				default:
					copied.Content = append(copied.Content, block)
				}
			}
			result = append(result, &copied)

		case *ai.ToolResultMessage:
			if !seenToolCall {
				continue // result for a call outside the window
			}
			copied := *m
			if opts.normalizeToolID != nil {
				copied.ToolCallID = opts.normalizeToolID(copied.ToolCallID)
			}
			if _, ok := pending[copied.ToolCallID]; ok {
				delete(pending, copied.ToolCallID)
				pendingOrder = removeID(pendingOrder, copied.ToolCallID)
			}
			result = append(result, &copied)

		case *ai.UserMessage:
			// Close out orphaned tool calls before the interrupting message.
			for _, id := range pendingOrder {
				result = append(result, &ai.ToolResultMessage{
					ToolCallID: id,
					ToolName:   pending[id],
					Content:    []ai.ToolResultContent{&ai.TextContent{Text: "Interrupted by user message"}},
					Timestamp:  m.Timestamp,
				})
			}
			pending = map[string]string{}
			pendingOrder = nil

			// Adjacent user messages merge into one.
			if len(result) > 0 {
				if prev, ok := result[len(result)-1].(*ai.UserMessage); ok {
					merged := *prev
					merged.Content = append(append([]ai.UserContent{}, prev.Content...), m.Content...)
					if m.Timestamp > merged.Timestamp {
						merged.Timestamp = m.Timestamp
					}
					result[len(result)-1] = &merged
					continue
				}
			}
			result = append(result, m)

		default:
			result = append(result, msg)
		}
	}
	return result
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// hasToolHistory reports whether the history contains any tool activity.
// Some completions providers reject tool-result messages unless the request
// also declares tools.
func hasToolHistory(messages []ai.Message) bool {
	for _, msg := range messages {
		switch m := msg.(type) {
		case *ai.ToolResultMessage:
			return true
		case *ai.AssistantMessage:
			if len(m.ToolCalls()) > 0 {
				return true
			}
		}
	}
	return false
}
