package pricing

import (
	"math"
	"testing"

	cruise "github.com/cruisehq/cruise/internal"
)

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCostSonnetNativeMatchesDocumentedScenario(t *testing.T) {
	// Cold-start scenario: 10 input / 20 output tokens on a sonnet-class
	// primary model should cost about 0.00033 USD.
	got := Cost("primary", "sonnet-class-A", cruise.TokenUsage{InputTokens: 10, OutputTokens: 20})
	want := 0.00033
	if math.Abs(got-want) > 0.00001 {
		t.Errorf("cost = %v, want ~%v", got, want)
	}
}

func TestCostUnknownModelFallsBackToSonnet(t *testing.T) {
	got := Cost("primary", "some-unreleased-model", cruise.TokenUsage{InputTokens: 1_000_000})
	if !approxEqual(got, sonnetRate.input) {
		t.Errorf("cost = %v, want sonnet fallback rate %v", got, sonnetRate.input)
	}
}

func TestCostLocalChatIsFree(t *testing.T) {
	got := Cost("local-chat", "llama3.1", cruise.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if got != 0 {
		t.Errorf("cost = %v, want 0 for local-chat", got)
	}
}

func TestCostOpenAICompatHasNoCachePricing(t *testing.T) {
	got := Cost("openai-compatible", "anthropic/claude-sonnet-4.6", cruise.TokenUsage{CacheReadTokens: 1_000_000, CacheWriteTokens: 1_000_000})
	if got != 0 {
		t.Errorf("cost = %v, want 0: openai-compatible mirrors carry no cache pricing", got)
	}
}
