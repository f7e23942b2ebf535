// Package cruise defines the domain types and interfaces shared across the
// proxy. This package has no project imports -- it is the dependency root,
// the same role internal/gateway.go plays in the teacher repository.
package cruise

import (
	"context"
	"io"
)

// --- Usage accounting ---

// UsageLog is a single recorded proxy request outcome.
type UsageLog struct {
	ID                int64
	TimestampMs       int64
	SessionID         string
	Model             string
	Provider          string
	InputTokens       int
	OutputTokens      int
	CacheReadTokens   int
	CacheWriteTokens  int
	CostUSD           float64
	LatencyMs         int64
	Success           bool
	ErrorType         string // "" when Success
	ProjectPath       string
	RoutedFrom        string // originally requested model, empty when not routed
	RoutingReason     string // empty when not routed
}

// RateLimitEvent records a single upstream 429 rejection.
type RateLimitEvent struct {
	ID                    int64
	TimestampMs           int64
	Model                 string // originally requested model
	ErrorType             string
	ResetTimeMs           int64 // 0 when unknown
	TokensUsedBeforeLimit int
	WindowHours           int
}

// RoutingDecision records a single routing choice, whether or not it moved
// traffic away from the primary provider.
type RoutingDecision struct {
	ID                int64
	TimestampMs       int64
	SessionID         string
	OriginalProvider  string
	RoutedProvider    string
	RoutedModel       string
	Reason            string
	EstimatedSavings  float64
}

// Session is the single "current" session for this process.
type Session struct {
	SessionID   string
	StartedAtMs int64
	EndedAtMs   int64 // 0 while open
	TotalCost   float64
	TotalTokens int64
	ProjectPath string
}

// LearnedLimit is the Limit Learner's in-memory view of a model's observed
// rate-limit ceiling. It is never persisted directly -- it is reconstructed
// from RateLimitEvent history on startup.
type LearnedLimit struct {
	Model        string
	TokenLimit   int64
	WindowHours  int
	Confidence   int // 0-100
	LastUpdated  int64
	DataPoints   int
}

// Pattern classifies the shape of recent usage.
type Pattern string

const (
	PatternBurst      Pattern = "burst"
	PatternSteady     Pattern = "steady"
	PatternDeclining  Pattern = "declining"
)

// VelocityStats summarizes the rate and shape of recent token consumption.
type VelocityStats struct {
	TokensPerMinute float64
	TokensPerHour   float64
	Trend           [12]float64
	Acceleration    float64
	Pattern         Pattern
}

// RecommendedAction is the Prediction Engine's verdict for the current window.
type RecommendedAction string

const (
	ActionPause          RecommendedAction = "pause"
	ActionSwitchProvider RecommendedAction = "switch_provider"
	ActionSwitchModel    RecommendedAction = "switch_model"
	ActionContinue       RecommendedAction = "continue"
)

// MinutesUntilLimitUnknown is the sentinel used when velocity is zero and a
// time-to-exhaustion cannot be projected.
const MinutesUntilLimitUnknown = 999

// Prediction is the Prediction Engine's output for a given model/window.
type Prediction struct {
	Model             string
	WindowHours       int
	CurrentUsage      int64
	TokenLimit        int64
	UsagePercent      float64
	TokensRemaining   int64
	MinutesUntilLimit int
	Velocity          VelocityStats
	Confidence        int
	RecommendedAction RecommendedAction
}

// --- Adapters ---

// TokenUsage is the normalized usage block extracted from an upstream
// response, regardless of wire format.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Total returns the sum of input and output tokens (cache tokens are priced
// separately and excluded from velocity/limit accounting, matching the
// upstream providers' own rate-limit accounting).
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// StreamUsageTracker accumulates authoritative usage from a sequence of raw
// SSE lines as they are forwarded to the client. Implementations are
// adapter-specific because each upstream wire format places usage in a
// different terminal event.
type StreamUsageTracker interface {
	// Observe is called once per raw SSE line (without its line terminator),
	// in order, as the line is forwarded to the client.
	Observe(line string)
	// Result returns the usage accumulated so far. Called after the stream
	// closes.
	Result() TokenUsage
}

// Adapter translates and forwards a chat request to one configured upstream
// provider. Implementations exist for the three provider types named in the
// router configuration: primary, openai-compatible, and local-chat.
type Adapter interface {
	// Name is the configured provider name (e.g. "anthropic", "openrouter").
	Name() string
	// Type returns "primary", "openai-compatible", or "local-chat".
	Type() string
	// Forward translates body (an Anthropic-style /v1/messages request) for
	// this provider, substitutes model into it, and issues the upstream
	// request. The caller owns the returned response body.
	Forward(ctx context.Context, body []byte, model string) (*AdapterResponse, error)
	// ParseUsage extracts usage from a complete non-streaming response body.
	// ok is false when no usage block was present.
	ParseUsage(body []byte) (usage TokenUsage, ok bool)
	// NewStreamUsageTracker returns a fresh tracker for one streaming response.
	NewStreamUsageTracker() StreamUsageTracker
}

// AdapterResponse is the raw upstream response handed back to the Proxy
// Engine for passthrough to the client.
type AdapterResponse struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte        // set for non-streaming responses
	Stream     io.ReadCloser // set for streaming responses (Body is nil)
}

// --- Context propagation ---
//
// Each per-request value is stored under its own unexported context key with
// context.WithValue: the request ID by the request-id middleware, the
// anthropic-beta header by the messages handler.

type contextKey int

const (
	ctxKeyRequestID contextKey = iota
	ctxKeyBetaHeader
)

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithBetaHeader returns a context carrying the client's
// anthropic-beta header value, for the primary adapter to pass through.
func ContextWithBetaHeader(ctx context.Context, beta string) context.Context {
	return context.WithValue(ctx, ctxKeyBetaHeader, beta)
}

// BetaHeaderFromContext extracts the client's anthropic-beta header value
// from context, or "" if none was set.
func BetaHeaderFromContext(ctx context.Context) string {
	beta, _ := ctx.Value(ctxKeyBetaHeader).(string)
	return beta
}
