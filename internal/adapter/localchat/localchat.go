// Package localchat implements the local-chat Adapter: unauthenticated
// local inference servers reached via Ollama's native /api/chat endpoint.
// Grounded on internal/provider/ollama/client.go's transport tuning (HTTP/1.1
// preferred, no TLS handshake budget needed for a loopback peer) though this
// adapter talks to /api/chat directly instead of Ollama's OpenAI-compatible
// shim, since the client never needs an OpenAI-shaped response from it.
package localchat

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

const providerType = "local-chat"

// Adapter forwards requests to a local Ollama-compatible /api/chat endpoint.
type Adapter struct {
	name    string
	baseURL string
	http    *http.Client
}

// New creates a local-chat adapter. No credential is required.
func New(name, baseURL string, client *http.Client) *Adapter {
	return &Adapter{name: name, baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (a *Adapter) Name() string { return a.name }
func (a *Adapter) Type() string { return providerType }

type anthropicRequest struct {
	Messages []anthropicMessage `json:"messages"`
	System   json.RawMessage    `json:"system,omitempty"`
	Stream   bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// Forward translates body into Ollama's {model, messages, stream} shape and
// forwards it to /api/chat. No max_tokens field exists in this shape.
func (a *Adapter) Forward(ctx context.Context, body []byte, model string) (*cruise.AdapterResponse, error) {
	outBody, err := translateRequest(body, model)
	if err != nil {
		return nil, fmt.Errorf("localchat: translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(outBody))
	if err != nil {
		return nil, fmt.Errorf("localchat: create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cruise.ErrTransportError, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(a.name, resp)
	}

	header := map[string][]string(resp.Header)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return &cruise.AdapterResponse{StatusCode: resp.StatusCode, Header: header, Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("localchat: read response: %w", err)
	}
	return &cruise.AdapterResponse{StatusCode: resp.StatusCode, Header: header, Body: data}, nil
}

// translateRequest applies the same message flattening as the
// openai-compatible adapter: array-of-parts content is joined by its text
// fields with newlines, plain string content passes through unchanged, and
// a top-level system field is prepended as a system message.
func translateRequest(body []byte, model string) ([]byte, error) {
	var in anthropicRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, err
	}

	out := chatRequest{Model: model, Stream: in.Stream}

	if len(in.System) > 0 {
		if system, ok := flattenSystem(in.System); ok {
			out.Messages = append(out.Messages, chatMessage{Role: "system", Content: system})
		}
	}

	for _, m := range in.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: flattenContent(m.Content)})
	}

	return json.Marshal(out)
}

func flattenSystem(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	return "", false
}

func flattenContent(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ParseUsage always reports ok=false: the primary schema is the only one
// this proxy extracts per-request usage from.
func (a *Adapter) ParseUsage(body []byte) (cruise.TokenUsage, bool) {
	return usageparse.ParseUsage(body)
}

// NewStreamUsageTracker returns a tracker that recognizes only Anthropic's
// SSE framing, which this adapter's upstream never emits, so Result stays
// the zero value.
func (a *Adapter) NewStreamUsageTracker() cruise.StreamUsageTracker {
	return usageparse.NewTracker()
}
