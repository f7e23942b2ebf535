// Package primary implements the primary Adapter: an Anthropic-native
// upstream reached with the client's own wire format, no translation. The
// HTTP plumbing (transport tuning, headers, SSE line scanning) is adapted
// from internal/provider/anthropic's client.go and stream.go, but this
// adapter forwards request and response bodies verbatim instead of
// translating them through gateway.ChatRequest/ChatResponse.
package primary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/adapter/usageparse"
	"github.com/cruisehq/cruise/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Adapter forwards requests to Anthropic's native /v1/messages API.
type Adapter struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a primary adapter. If baseURL is empty it defaults to
// Anthropic's public API.
func New(name, baseURL, apiKey string, client *http.Client) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
	}
}

func (a *Adapter) Name() string { return a.name }
func (a *Adapter) Type() string { return "primary" }

// Forward substitutes model into body's top-level "model" field and issues
// the request to /v1/messages, with the stream field preserved as the
// caller set it.
func (a *Adapter) Forward(ctx context.Context, body []byte, model string) (*cruise.AdapterResponse, error) {
	if a.apiKey == "" {
		return nil, cruise.ErrMissingCredential
	}

	patched, err := setModel(body, model)
	if err != nil {
		return nil, fmt.Errorf("primary: patch model: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(patched))
	if err != nil {
		return nil, fmt.Errorf("primary: create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("x-api-key", a.apiKey)
	if beta := cruise.BetaHeaderFromContext(ctx); beta != "" {
		req.Header.Set("anthropic-beta", beta)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cruise.ErrTransportError, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(a.name, resp)
	}

	header := map[string][]string(resp.Header)
	if isSSE(resp.Header.Get("Content-Type")) {
		return &cruise.AdapterResponse{StatusCode: resp.StatusCode, Header: header, Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("primary: read response: %w", err)
	}
	return &cruise.AdapterResponse{StatusCode: resp.StatusCode, Header: header, Body: data}, nil
}

func isSSE(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}

// setModel decodes body just enough to overwrite the top-level "model"
// field, preserving every other field byte-for-byte via json.RawMessage.
func setModel(body []byte, model string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	fields["model"] = encoded
	return json.Marshal(fields)
}

// ParseUsage extracts usage from a complete, non-streaming /v1/messages response.
func (a *Adapter) ParseUsage(body []byte) (cruise.TokenUsage, bool) {
	return usageparse.ParseUsage(body)
}

// NewStreamUsageTracker returns a tracker over message_start/message_delta
// events, the same two events internal/provider/anthropic/stream.go's
// onMessageStart/onMessageDelta read from.
func (a *Adapter) NewStreamUsageTracker() cruise.StreamUsageTracker {
	return usageparse.NewTracker()
}
