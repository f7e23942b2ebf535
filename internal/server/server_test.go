package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/config"
	"github.com/cruisehq/cruise/internal/learner"
	"github.com/cruisehq/cruise/internal/prediction"
	"github.com/cruisehq/cruise/internal/provider"
	"github.com/cruisehq/cruise/internal/router"
	"github.com/cruisehq/cruise/internal/storage"
	"github.com/cruisehq/cruise/internal/testutil"
)

func newTestRouter(t *testing.T, store *testutil.FakeStore) *router.Router {
	t.Helper()
	return router.New(config.RouterConfig{
		Mode:    config.ModeFullAuto,
		Enabled: true,
		Thresholds: config.ThresholdConfig{
			SwitchToHaiku:      70,
			SwitchToOpenRouter: 85,
			SwitchToLocal:      95,
		},
		Providers: []config.ProviderEntry{
			{Name: "anthropic", Type: config.TypePrimary, APIKey: "sk-test", Models: []string{"sonnet-class-A", "haiku-class"}, Priority: 0},
			{Name: "openrouter", Type: config.TypeOpenAICompat, APIKey: "or-test", Models: []string{"anthropic/claude-sonnet-4.6"}, Priority: 1},
		},
	})
}

func newTestDeps(t *testing.T) (Deps, *testutil.FakeStore, *testutil.FakeAdapter) {
	t.Helper()
	store := testutil.NewFakeStore()
	rtr := newTestRouter(t, store)
	lrn, err := learner.New(context.Background(), store, []string{"sonnet-class-A", "haiku-class"})
	if err != nil {
		t.Fatalf("learner.New: %v", err)
	}
	pred, err := prediction.New(store, lrn)
	if err != nil {
		t.Fatalf("prediction.New: %v", err)
	}
	adapter := &testutil.FakeAdapter{AdapterName: "anthropic", AdapterType: config.TypePrimary}

	deps := Deps{
		Store:          store,
		Router:         rtr,
		Learner:        lrn,
		Prediction:     pred,
		Adapters:       map[string]cruise.Adapter{"anthropic": adapter},
		PrimaryName:    "anthropic",
		PrimaryBaseURL: "https://api.anthropic.com",
		PrimaryAPIKey:  "sk-test",
		HTTPClient:     http.DefaultClient,
		SessionID:      "session_1",
		Version:        "test",
	}
	return deps, store, adapter
}

func TestHandleHealth(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s, missing status:ok", rec.Body.String())
	}
}

func TestHandleDashboardFallback(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cruise") {
		t.Fatalf("body missing fallback content: %s", rec.Body.String())
	}
}

// TestMessagesColdStart covers scenario 1 from the testable-properties
// table: an unrouted request under threshold produces the upstream body
// verbatim and exactly one UsageLog.
func TestMessagesColdStart(t *testing.T) {
	deps, store, adapter := newTestDeps(t)
	adapter.ForwardFn = func(_ context.Context, body []byte, model string) (*cruise.AdapterResponse, error) {
		if model != "sonnet-class-A" {
			t.Fatalf("forwarded model = %q, want sonnet-class-A (no routing expected)", model)
		}
		return &cruise.AdapterResponse{
			StatusCode: 200,
			Header:     map[string][]string{"Content-Type": {"application/json"}},
			Body:       []byte(`{"usage":{"input_tokens":10,"output_tokens":20}}`),
		}, nil
	}
	h := New(deps)

	body := `{"model":"sonnet-class-A","messages":[{"role":"user","content":"hi"}],"max_tokens":16}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"input_tokens":10`) {
		t.Fatalf("client body not passed through verbatim: %s", rec.Body.String())
	}

	logs := store.UsageLogs()
	if len(logs) != 1 {
		t.Fatalf("UsageLogs() = %d entries, want 1", len(logs))
	}
	log := logs[0]
	if log.Model != "sonnet-class-A" || log.Provider != "anthropic" {
		t.Fatalf("unexpected ledger row: %+v", log)
	}
	if log.InputTokens != 10 || log.OutputTokens != 20 {
		t.Fatalf("unexpected token counts: %+v", log)
	}
	if log.RoutedFrom != "" {
		t.Fatalf("routed_from = %q, want empty (no routing)", log.RoutedFrom)
	}
	wantCost := 10.0/1e6*3 + 20.0/1e6*15
	if diff := log.CostUSD - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("cost_usd = %v, want %v", log.CostUSD, wantCost)
	}
}

// TestMessagesThresholdCrossing covers scenario 2: heavy prior usage routes
// the request to the haiku-class model on the same provider.
func TestMessagesThresholdCrossing(t *testing.T) {
	deps, store, adapter := newTestDeps(t)
	for i := 0; i < 36; i++ {
		store.InsertUsageLog(context.Background(), &cruise.UsageLog{
			TimestampMs:  int64(i) * 1000,
			SessionID:    "session_1",
			Model:        "sonnet-class-A",
			Provider:     "anthropic",
			InputTokens:  50000,
			OutputTokens: 50000,
		})
	}
	var forwardedModel string
	adapter.ForwardFn = func(_ context.Context, _ []byte, model string) (*cruise.AdapterResponse, error) {
		forwardedModel = model
		return &cruise.AdapterResponse{StatusCode: 200, Body: []byte(`{"usage":{"input_tokens":1,"output_tokens":1}}`)}, nil
	}
	h := New(deps)

	body := `{"model":"sonnet-class-A","messages":[{"role":"user","content":"hi"}],"max_tokens":16}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if forwardedModel != "haiku-class" {
		t.Fatalf("forwarded model = %q, want haiku-class", forwardedModel)
	}
	logs := store.UsageLogs()
	last := logs[len(logs)-1]
	if last.RoutedFrom != "sonnet-class-A" {
		t.Fatalf("routed_from = %q, want sonnet-class-A", last.RoutedFrom)
	}
	savings, err := store.RoutingSavings(context.Background(), storage.TimeframeAll, "")
	if err != nil {
		t.Fatalf("RoutingSavings: %v", err)
	}
	if savings == 0 {
		t.Fatal("RoutingSavings() = 0, want a RoutingDecision row to have been persisted")
	}
}

// TestMessagesRateLimited covers scenario 3: a 429 from upstream records a
// RateLimitEvent, updates the Learner, and passes the body through verbatim.
func TestMessagesRateLimited(t *testing.T) {
	deps, store, adapter := newTestDeps(t)
	for i := 0; i < 80; i++ {
		store.InsertUsageLog(context.Background(), &cruise.UsageLog{
			TimestampMs:  int64(i) * 1000,
			SessionID:    "session_1",
			Model:        "sonnet-class-A",
			Provider:     "anthropic",
			InputTokens:  25000,
			OutputTokens: 25000,
		})
	}
	adapter.ForwardFn = func(_ context.Context, _ []byte, _ string) (*cruise.AdapterResponse, error) {
		return nil, &provider.APIError{Provider: "anthropic", StatusCode: 429, Body: `{"error":{"type":"rate_limit_exceeded"}}`}
	}
	h := New(deps)

	body := `{"model":"sonnet-class-A","messages":[{"role":"user","content":"hi"}],"max_tokens":16}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rate_limit_exceeded") {
		t.Fatalf("body not passed through verbatim: %s", rec.Body.String())
	}
	events := store.RateLimitEvents()
	if len(events) != 1 {
		t.Fatalf("RateLimitEvents() = %d, want 1", len(events))
	}
	if !deps.Router.IsRateLimited() {
		t.Fatal("router sticky flag not set after 429")
	}
	logs := store.UsageLogs()
	last := logs[len(logs)-1]
	if last.Success || last.ErrorType != "rate_limit_exceeded" {
		t.Fatalf("ledger row not recorded as rate-limited: %+v", last)
	}
}

// TestMessagesStreaming covers scenario 4: usage extracted from a streamed
// response is recorded exactly once, and every byte reaches the client.
func TestMessagesStreaming(t *testing.T) {
	deps, store, adapter := newTestDeps(t)
	adapter.ForwardFn = func(_ context.Context, _ []byte, _ string) (*cruise.AdapterResponse, error) {
		return testutil.NewFakeStream(200,
			`data: {"type":"message_start"}`,
			`data: {"usage":{"input_tokens":7}}`,
			`data: {"usage":{"output_tokens":11}}`,
		), nil
	}
	h := New(deps)

	body := `{"model":"sonnet-class-A","stream":true,"messages":[{"role":"user","content":"hi"}],"max_tokens":16}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"input_tokens":7`) || !strings.Contains(rec.Body.String(), `"output_tokens":11`) {
		t.Fatalf("client did not receive all stream bytes: %s", rec.Body.String())
	}
	logs := store.UsageLogs()
	if len(logs) != 1 {
		t.Fatalf("UsageLogs() = %d, want 1", len(logs))
	}
	if logs[0].InputTokens != 7 || logs[0].OutputTokens != 11 {
		t.Fatalf("stream usage not recorded: %+v", logs[0])
	}
}

func TestHandleStats(t *testing.T) {
	deps, store, _ := newTestDeps(t)
	store.InsertUsageLog(context.Background(), &cruise.UsageLog{
		TimestampMs:  1000,
		SessionID:    "session_1",
		Model:        "sonnet-class-A",
		Provider:     "anthropic",
		InputTokens:  100,
		OutputTokens: 200,
		CostUSD:      0.0033,
		Success:      true,
	})
	h := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{`"input_tokens":100`, `"output_tokens":200`, `"providers"`, `"mode":"full-auto"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("stats body missing %q: %s", want, body)
		}
	}
}

func TestHandlePassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-test" {
			t.Errorf("x-api-key = %q, want sk-test", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer upstream.Close()

	deps, _, _ := newTestDeps(t)
	deps.PrimaryBaseURL = upstream.URL
	h := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "msg_1") {
		t.Fatalf("passthrough body mismatch: %s", rec.Body.String())
	}
}

func TestHandleMessagesMissingModel(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	h := New(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing credential", cruise.ErrMissingCredential, http.StatusUnauthorized},
		{"no provider", cruise.ErrNoProvider, http.StatusNotFound},
		{"transport error", cruise.ErrTransportError, http.StatusBadGateway},
		{"config error", cruise.ErrConfig, http.StatusInternalServerError},
		{"api error", &provider.APIError{StatusCode: 503}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorStatus(tt.err); got != tt.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
