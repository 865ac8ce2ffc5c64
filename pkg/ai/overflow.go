package ai

import "regexp"

// Context-overflow error phrasings seen across providers.
var overflowPatterns = []*regexp.Regexp{
	// Anthropic
	regexp.MustCompile(`(?i)prompt is too long`),
	regexp.MustCompile(`(?i)exceeds the model's maximum context`),
	// OpenAI
	regexp.MustCompile(`(?i)maximum context length`),
	regexp.MustCompile(`(?i)context_length_exceeded`),
	regexp.MustCompile(`(?i)max_tokens.*exceeds.*model maximum`),
	// Google
	regexp.MustCompile(`(?i)exceeds the maximum number of tokens`),
	regexp.MustCompile(`(?i)Request payload size exceeds the limit`),
	// xAI / Groq / general
	regexp.MustCompile(`(?i)token limit`),
	regexp.MustCompile(`(?i)too many tokens`),
	regexp.MustCompile(`(?i)rate_limit_exceeded.*tokens`),
	// Cerebras / Mistral
	regexp.MustCompile(`(?i)context window`),
	regexp.MustCompile(`(?i)input.*too long`),
}

// IsContextOverflow detects whether an assistant message failed because the
// request exceeded the model's context window. It checks the error message
// against known provider patterns, and catches silent overflow where the
// reported input usage exceeds the window.
func IsContextOverflow(message *AssistantMessage, model *Model) bool {
	if message == nil {
		return false
	}
	if (message.StopReason == StopReasonError || message.StopReason == StopReasonAborted) && message.ErrorMessage != "" {
		for _, pattern := range overflowPatterns {
			if pattern.MatchString(message.ErrorMessage) {
				return true
			}
		}
	}
	return model != nil && model.ContextWindow > 0 && message.Usage.Input > model.ContextWindow
}
