// Package openaicompat implements the openai-compatible Adapter: upstreams
// that speak OpenAI's chat/completions shape, reached via OpenRouter's
// convention for advertising headers. Grounded on
// internal/provider/openai/client.go's transport and header setup, though
// usage extraction here simply falls through to usageparse's
// Anthropic-schema parser and comes back empty, per the Adapters module.
package openaicompat

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

const providerType = "openai-compatible"

// Adapter forwards requests to an OpenAI-compatible chat/completions
// endpoint, translating the client's Anthropic-shaped request body into
// OpenAI's {model, messages, max_tokens, stream} shape on the way out.
type Adapter struct {
	name      string
	baseURL   string
	apiKey    string
	siteURL   string
	siteTitle string
	http      *http.Client
}

// New creates an openai-compatible adapter. siteURL and siteTitle populate
// the HTTP-Referer and X-Title headers OpenRouter uses to attribute traffic;
// either may be empty.
func New(name, baseURL, apiKey, siteURL, siteTitle string, client *http.Client) *Adapter {
	return &Adapter{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		siteURL:   siteURL,
		siteTitle: siteTitle,
		http:      client,
	}
}

func (a *Adapter) Name() string { return a.name }
func (a *Adapter) Type() string { return providerType }

// anthropicRequest is the subset of the client's native request body this
// adapter reads in order to translate it.
type anthropicRequest struct {
	Messages  []anthropicMessage `json:"messages"`
	System    json.RawMessage    `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
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
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

// Forward translates body into OpenAI's chat/completions shape and forwards
// it to the adapter's endpoint.
func (a *Adapter) Forward(ctx context.Context, body []byte, model string) (*cruise.AdapterResponse, error) {
	if a.apiKey == "" {
		return nil, cruise.ErrMissingCredential
	}

	outBody, err := translateRequest(body, model)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(outBody))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "Bearer "+a.apiKey)
	if a.siteURL != "" {
		req.Header.Set("HTTP-Referer", a.siteURL)
	}
	if a.siteTitle != "" {
		req.Header.Set("X-Title", a.siteTitle)
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
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return &cruise.AdapterResponse{StatusCode: resp.StatusCode, Header: header, Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: read response: %w", err)
	}
	return &cruise.AdapterResponse{StatusCode: resp.StatusCode, Header: header, Body: data}, nil
}

// translateRequest flattens the client's Anthropic-shaped body into OpenAI's
// {model, messages, max_tokens, stream} shape. For each input message, if
// content is an array of parts, its text fields are concatenated with
// newlines; otherwise content passes through as a string. A top-level
// system field, if present, is prepended as a {role: "system", content}
// message.
func translateRequest(body []byte, model string) ([]byte, error) {
	var in anthropicRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, err
	}

	out := chatRequest{Model: model, MaxTokens: in.MaxTokens, Stream: in.Stream}

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

// flattenContent concatenates the text fields of an array-of-parts content
// block with newlines, or passes through a plain string unchanged.
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
