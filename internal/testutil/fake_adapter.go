package testutil

import (
	"context"
	"io"
	"strings"

	cruise "github.com/cruisehq/cruise/internal"
)

// FakeAdapter is a configurable cruise.Adapter for testing the Proxy Engine
// without a real upstream.
type FakeAdapter struct {
	AdapterName  string
	AdapterType  string
	ForwardFn    func(ctx context.Context, body []byte, model string) (*cruise.AdapterResponse, error)
	ParseUsageFn func(body []byte) (cruise.TokenUsage, bool)
}

func (f *FakeAdapter) Name() string { return f.AdapterName }
func (f *FakeAdapter) Type() string { return f.AdapterType }

func (f *FakeAdapter) Forward(ctx context.Context, body []byte, model string) (*cruise.AdapterResponse, error) {
	if f.ForwardFn != nil {
		return f.ForwardFn(ctx, body, model)
	}
	return &cruise.AdapterResponse{
		StatusCode: 200,
		Header:     map[string][]string{"Content-Type": {"application/json"}},
		Body:       []byte(`{"usage":{"input_tokens":10,"output_tokens":20}}`),
	}, nil
}

func (f *FakeAdapter) ParseUsage(body []byte) (cruise.TokenUsage, bool) {
	if f.ParseUsageFn != nil {
		return f.ParseUsageFn(body)
	}
	return cruise.TokenUsage{InputTokens: 10, OutputTokens: 20}, true
}

func (f *FakeAdapter) NewStreamUsageTracker() cruise.StreamUsageTracker {
	return &fakeStreamTracker{}
}

// fakeStreamTracker extracts input_tokens/output_tokens from any line that
// contains them, mirroring the shape of a real adapter's usage block scan
// without depending on one wire format.
type fakeStreamTracker struct {
	usage cruise.TokenUsage
}

func (t *fakeStreamTracker) Observe(line string) {
	if n, ok := extractIntField(line, `"input_tokens":`); ok {
		t.usage.InputTokens = n
	}
	if n, ok := extractIntField(line, `"output_tokens":`); ok {
		t.usage.OutputTokens = n
	}
}

func (t *fakeStreamTracker) Result() cruise.TokenUsage { return t.usage }

func extractIntField(line, key string) (int, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len(key):]
	end := 0
	for end < len(rest) && (rest[end] >= '0' && rest[end] <= '9') {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n := 0
	for _, c := range rest[:end] {
		n = n*10 + int(c-'0')
	}
	return n, true
}

// NewFakeStream builds a stream AdapterResponse from literal SSE lines.
func NewFakeStream(statusCode int, lines ...string) *cruise.AdapterResponse {
	return &cruise.AdapterResponse{
		StatusCode: statusCode,
		Header:     map[string][]string{"Content-Type": {"text/event-stream"}},
		Stream:     io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n")),
	}
}
