// Package usageparse implements the one usage extraction this proxy trusts:
// Anthropic's native /v1/messages usage block and its message_start/
// message_delta streaming equivalents. Per the Adapters module, this is the
// only schema usage is currently extracted from — an openai-compatible or
// local-chat response simply won't match these field names and ParseUsage
// falls back to its zero-usage, not-ok result, which is the documented
// behavior rather than an omission.
package usageparse

import (
	"encoding/json"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/provider/sseutil"
)

// anthropicUsage mirrors the subset of Anthropic's usage object this proxy
// cares about.
type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type anthropicMessageResponse struct {
	Usage anthropicUsage `json:"usage"`
}

// ParseUsage extracts usage from a complete, non-streaming response body,
// assuming Anthropic's /v1/messages usage shape. Responses in any other
// shape (OpenAI's prompt_tokens/completion_tokens, Ollama's eval_count, ...)
// simply fail to populate these fields and ParseUsage reports ok=false.
func ParseUsage(body []byte) (cruise.TokenUsage, bool) {
	var resp anthropicMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return cruise.TokenUsage{}, false
	}
	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		return cruise.TokenUsage{}, false
	}
	return cruise.TokenUsage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
	}, true
}

// Tracker accumulates usage across message_start/message_delta SSE events,
// the same two events internal/provider/anthropic/stream.go's
// onMessageStart/onMessageDelta read from. Fed lines from any other
// streaming format (no "event:" framing, different field names) simply
// never match these cases and Result returns the zero value.
type Tracker struct {
	usage     cruise.TokenUsage
	lastEvent string
}

// NewTracker returns a StreamUsageTracker that recognizes Anthropic's SSE
// event framing.
func NewTracker() cruise.StreamUsageTracker {
	return &Tracker{}
}

func (t *Tracker) Observe(line string) {
	event, data, ok := sseutil.ParseSSELine(line)
	if !ok {
		return
	}
	if event != "" {
		t.lastEvent = event
		return
	}
	switch t.lastEvent {
	case "message_start":
		var payload struct {
			Message struct {
				Usage anthropicUsage `json:"usage"`
			} `json:"message"`
		}
		if json.Unmarshal([]byte(data), &payload) == nil {
			t.usage.InputTokens = payload.Message.Usage.InputTokens
			t.usage.CacheReadTokens = payload.Message.Usage.CacheReadInputTokens
			t.usage.CacheWriteTokens = payload.Message.Usage.CacheCreationInputTokens
		}
	case "message_delta":
		var payload struct {
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if json.Unmarshal([]byte(data), &payload) == nil && payload.Usage.OutputTokens > 0 {
			t.usage.OutputTokens = payload.Usage.OutputTokens
		}
	}
}

func (t *Tracker) Result() cruise.TokenUsage { return t.usage }
