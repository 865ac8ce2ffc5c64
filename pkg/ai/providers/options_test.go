package providers

import (
	"testing"

	"github.com/vamsi/pi/pkg/ai"
)

func TestThinkingBudgetTables(t *testing.T) {
	anthropic := map[ai.ThinkingLevel]int{
		ai.ThinkingMinimal: 1024,
		ai.ThinkingLow:     2048,
		ai.ThinkingMedium:  4096,
		ai.ThinkingHigh:    8192,
		ai.ThinkingXHigh:   16384,
	}
	for level, want := range anthropic {
		if got := thinkingBudget(level, defaultThinkingBudgets, nil); got != want {
			t.Errorf("anthropic budget(%s) = %d, want %d", level, got, want)
		}
	}

	google := map[ai.ThinkingLevel]int{
		ai.ThinkingMinimal: 512,
		ai.ThinkingLow:     2048,
		ai.ThinkingMedium:  8192,
		ai.ThinkingHigh:    16384,
		ai.ThinkingXHigh:   24576,
	}
	for level, want := range google {
		if got := thinkingBudget(level, googleThinkingBudgets, nil); got != want {
			t.Errorf("google budget(%s) = %d, want %d", level, got, want)
		}
	}
}

func TestThinkingBudgetOverrides(t *testing.T) {
	overrides := budgetOverrides(&ai.ThinkingBudgets{High: 30000})
	if got := thinkingBudget(ai.ThinkingHigh, defaultThinkingBudgets, overrides); got != 30000 {
		t.Errorf("override ignored: %d", got)
	}
	if got := thinkingBudget(ai.ThinkingLow, defaultThinkingBudgets, overrides); got != 2048 {
		t.Errorf("unrelated level changed: %d", got)
	}
}

func TestClampThinkingLevel(t *testing.T) {
	if clampThinkingLevel(ai.ThinkingXHigh) != ai.ThinkingHigh {
		t.Error("xhigh should clamp to high")
	}
	if clampThinkingLevel(ai.ThinkingMedium) != ai.ThinkingMedium {
		t.Error("medium should pass through")
	}
}

func TestAdjustMaxTokensForThinking(t *testing.T) {
	maxTokens, budget := adjustMaxTokensForThinking(4096, ai.ThinkingHigh, nil)
	if budget != 8192 || maxTokens != 4096+8192 {
		t.Errorf("got max=%d budget=%d", maxTokens, budget)
	}

	// Tiny output windows keep at least 1024 tokens for output.
	maxTokens, budget = adjustMaxTokensForThinking(100, ai.ThinkingMinimal, nil)
	if maxTokens != 1024 {
		t.Errorf("max = %d, want 1024", maxTokens)
	}
	if budget != 100+1024-1024 {
		t.Errorf("budget = %d", budget)
	}
}

func TestBuildBaseOptionsDefaultsMaxTokens(t *testing.T) {
	model := &ai.Model{MaxTokens: 64000}
	base := buildBaseOptions(model, nil)
	if base.MaxTokens != 32000 {
		t.Errorf("default max tokens = %d, want 32000", base.MaxTokens)
	}

	small := &ai.Model{MaxTokens: 8192}
	base = buildBaseOptions(small, &ai.SimpleStreamOptions{})
	if base.MaxTokens != 8192 {
		t.Errorf("small model max tokens = %d, want 8192", base.MaxTokens)
	}

	explicit := buildBaseOptions(model, &ai.SimpleStreamOptions{StreamOptions: ai.StreamOptions{MaxTokens: 123}})
	if explicit.MaxTokens != 123 {
		t.Errorf("explicit max tokens = %d", explicit.MaxTokens)
	}
}
