// Package pricing computes the USD cost of a TokenUsage against a static,
// per-million-token price table keyed by the effective target model. This
// mirrors the flat, hand-maintained price tables seen across the example
// providers' cost-reporting paths rather than a live pricing API, since none
// of the upstreams in this proxy's domain expose one.
package pricing

import (
	"strings"

	cruise "github.com/cruisehq/cruise/internal"
)

// rate holds USD-per-million-token prices for one model class.
type rate struct {
	input      float64
	output     float64
	cacheRead  float64
	cacheWrite float64
}

var (
	sonnetRate = rate{input: 3, output: 15, cacheRead: 0.3, cacheWrite: 3.75}
	haikuRate  = rate{input: 0.8, output: 4, cacheRead: 0.08, cacheWrite: 1}
	opusRate   = rate{input: 15, output: 75, cacheRead: 1.5, cacheWrite: 18.75}
	localRate  = rate{}

	// OpenAI-compatible mirrors carry no cache pricing: OpenRouter's chat
	// completions shape never reports cache token counts.
	openAISonnetRate = rate{input: 3.5, output: 16}
	openAIHaikuRate  = rate{input: 1, output: 5}
)

// classEntry matches a model name substring (case-insensitive) to a rate.
// Matched in order; the first hit wins.
type classEntry struct {
	substr string
	rate   rate
}

var openAIClasses = []classEntry{
	{"haiku", openAIHaikuRate},
	{"sonnet", openAISonnetRate},
}

var nativeClasses = []classEntry{
	{"opus", opusRate},
	{"haiku", haikuRate},
	{"sonnet", sonnetRate},
}

// Cost returns the USD cost of usage against model, priced under
// providerType ("primary", "openai-compatible", or "local-chat"). A model
// that matches no known class falls back to primary Sonnet-class pricing,
// the documented fallback for missing pricing entries.
func Cost(providerType, model string, usage cruise.TokenUsage) float64 {
	r := rateFor(providerType, model)
	return float64(usage.InputTokens)/1e6*r.input +
		float64(usage.OutputTokens)/1e6*r.output +
		float64(usage.CacheReadTokens)/1e6*r.cacheRead +
		float64(usage.CacheWriteTokens)/1e6*r.cacheWrite
}

func rateFor(providerType, model string) rate {
	if providerType == "local-chat" {
		return localRate
	}

	lower := strings.ToLower(model)
	classes := nativeClasses
	if providerType == "openai-compatible" {
		classes = openAIClasses
	}
	for _, c := range classes {
		if strings.Contains(lower, c.substr) {
			return c.rate
		}
	}
	return sonnetRate
}
