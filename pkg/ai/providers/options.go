// Package providers implements the per-backend adapters that translate the
// unified Context into each provider's wire protocol and normalize the wire
// events back into assistant-message events.
package providers

import (
	"github.com/vamsi/pi/pkg/ai"
)

// Default thinking token budgets for token-based providers (Anthropic,
// Bedrock Claude). xhigh applies on supported models only; elsewhere the
// level clamps to high first.
var defaultThinkingBudgets = map[ai.ThinkingLevel]int{
	ai.ThinkingMinimal: 1024,
	ai.ThinkingLow:     2048,
	ai.ThinkingMedium:  4096,
	ai.ThinkingHigh:    8192,
	ai.ThinkingXHigh:   16384,
}

// Google 2.x models take token budgets rather than levels.
var googleThinkingBudgets = map[ai.ThinkingLevel]int{
	ai.ThinkingMinimal: 512,
	ai.ThinkingLow:     2048,
	ai.ThinkingMedium:  8192,
	ai.ThinkingHigh:    16384,
	ai.ThinkingXHigh:   24576,
}

const defaultMaxTokens = 32000

// buildBaseOptions widens SimpleStreamOptions into StreamOptions, defaulting
// MaxTokens to min(model.MaxTokens, 32000).
func buildBaseOptions(model *ai.Model, opts *ai.SimpleStreamOptions) ai.StreamOptions {
	maxTokens := defaultMaxTokens
	if model.MaxTokens > 0 && model.MaxTokens < maxTokens {
		maxTokens = model.MaxTokens
	}
	if opts == nil {
		return ai.StreamOptions{MaxTokens: maxTokens}
	}
	base := opts.StreamOptions
	if base.MaxTokens == 0 {
		base.MaxTokens = maxTokens
	}
	return base
}

// clampThinkingLevel clamps xhigh down to high for providers and models
// without an xhigh notion.
func clampThinkingLevel(level ai.ThinkingLevel) ai.ThinkingLevel {
	if level == ai.ThinkingXHigh {
		return ai.ThinkingHigh
	}
	return level
}

func budgetOverrides(budgets *ai.ThinkingBudgets) map[ai.ThinkingLevel]int {
	if budgets == nil {
		return nil
	}
	out := map[ai.ThinkingLevel]int{}
	if budgets.Minimal > 0 {
		out[ai.ThinkingMinimal] = budgets.Minimal
	}
	if budgets.Low > 0 {
		out[ai.ThinkingLow] = budgets.Low
	}
	if budgets.Medium > 0 {
		out[ai.ThinkingMedium] = budgets.Medium
	}
	if budgets.High > 0 {
		out[ai.ThinkingHigh] = budgets.High
	}
	return out
}

// thinkingBudget resolves a level to a token budget, applying overrides.
func thinkingBudget(level ai.ThinkingLevel, defaults map[ai.ThinkingLevel]int, overrides map[ai.ThinkingLevel]int) int {
	if b, ok := overrides[clampThinkingLevel(level)]; ok {
		return b
	}
	if b, ok := defaults[level]; ok {
		return b
	}
	return defaults[ai.ThinkingMedium]
}

const minOutputTokens = 1024

// adjustMaxTokensForThinking grows maxTokens by the thinking budget while
// keeping room for at least 1024 output tokens. Returns the adjusted max
// and the budget actually granted.
func adjustMaxTokensForThinking(maxTokens int, level ai.ThinkingLevel, overrides map[ai.ThinkingLevel]int) (int, int) {
	budget := thinkingBudget(level, defaultThinkingBudgets, overrides)
	total := maxTokens + budget
	if maxTokens < minOutputTokens {
		budget = total - minOutputTokens
		if budget < 0 {
			budget = 0
		}
		return minOutputTokens, budget
	}
	return total, budget
}
