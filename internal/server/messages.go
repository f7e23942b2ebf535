package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/adapter/pricing"
	"github.com/cruisehq/cruise/internal/provider"
	"github.com/cruisehq/cruise/internal/provider/sseutil"
	"github.com/cruisehq/cruise/internal/router"
)

const maxRequestBody = 32 << 20

const rateLimitWindowHours = 5

// handleMessages implements the Proxy Engine: parse the inbound body once,
// ask the Router to resolve a target, translate and forward via the
// matched Adapter, meter the response, and write a UsageLog row -- all
// before returning, per the Concurrency & Resource Model's synchronous
// write requirement.
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("failed to read request body"))
		return
	}

	requestedModel := gjson.GetBytes(body, "model").String()
	if requestedModel == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing model field"))
		return
	}

	ctx := r.Context()
	if beta := r.Header.Get("anthropic-beta"); beta != "" {
		ctx = cruise.ContextWithBetaHeader(ctx, beta)
	}
	usagePercent := 0.0
	if s.deps.Prediction != nil {
		pred, err := s.deps.Prediction.Predict(ctx, 5, requestedModel)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "prediction failed, proceeding unrouted",
				slog.String("model", requestedModel), slog.String("error", err.Error()))
		} else {
			usagePercent = pred.UsagePercent
			if s.deps.Metrics != nil {
				s.deps.Metrics.UsagePercent.WithLabelValues(requestedModel).Set(usagePercent)
			}
		}
	}

	decision := s.deps.Router.Route(requestedModel, usagePercent)
	if decision.ShouldRoute {
		slog.LogAttrs(ctx, slog.LevelInfo, "routing decision",
			slog.String("requested_model", requestedModel),
			slog.String("target_provider", decision.TargetProvider),
			slog.String("target_model", decision.TargetModel),
			slog.String("reason", decision.Reason),
		)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RoutingDecisionsTotal.WithLabelValues(decision.Reason).Inc()
		}
	}

	adapter, ok := s.deps.Adapters[decision.TargetProvider]
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("no adapter configured for "+decision.TargetProvider))
		return
	}

	start := time.Now()
	resp, err := adapter.Forward(ctx, body, decision.TargetModel)
	if err != nil {
		s.handleForwardError(ctx, w, decision, requestedModel, err)
		return
	}

	originalProvider, reason := "", ""
	if decision.ShouldRoute {
		originalProvider = s.deps.PrimaryName
		reason = decision.Reason
	}

	if resp.Stream != nil {
		s.streamResponse(ctx, w, adapter, resp, decision, requestedModel, originalProvider, reason, start)
		return
	}
	s.bufferedResponse(ctx, w, adapter, resp, decision, requestedModel, originalProvider, reason, start)
}

// handleForwardError maps an Adapter.Forward error to a client response
// and, where an upstream call actually happened, a ledger row. A 429
// additionally updates the Limit Learner and flips the Router's sticky
// rate-limit flag, per the Error Handling table.
func (s *server) handleForwardError(ctx context.Context, w http.ResponseWriter, decision router.Decision, requestedModel string, err error) {
	if errors.Is(err, cruise.ErrMissingCredential) {
		writeJSON(w, http.StatusUnauthorized, errorResponse(err.Error()))
		return
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		if router.IsRateLimitError(err) {
			s.handleRateLimited(ctx, decision, requestedModel)
			writeUpstreamError(w, apiErr)
			s.writeLedgerRow(ctx, decision, requestedModel, 0, 0, 0, 0, 0, 0, false, "rate_limit_exceeded")
			return
		}
		writeUpstreamError(w, apiErr)
		s.writeLedgerRow(ctx, decision, requestedModel, 0, 0, 0, 0, 0, 0, false, "upstream_error")
		return
	}

	if errors.Is(err, cruise.ErrTransportError) {
		slog.LogAttrs(ctx, slog.LevelError, "upstream transport error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorResponse("upstream transport error"))
		s.writeLedgerRow(ctx, decision, requestedModel, 0, 0, 0, 0, 0, 0, false, "transport_error")
		return
	}

	slog.LogAttrs(ctx, slog.LevelError, "forward failed", slog.String("error", err.Error()))
	writeJSON(w, errorStatus(err), errorResponse("internal error"))
}

// writeUpstreamError passes an upstream error body through to the client
// verbatim, with its original status code.
func writeUpstreamError(w http.ResponseWriter, apiErr *provider.APIError) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(apiErr.StatusCode)
	w.Write([]byte(apiErr.Body))
}

// handleRateLimited sums the whole rate-limit window's tokens across every
// model, folds the rejection into the Limit Learner, and flips the Router's
// sticky flag.
func (s *server) handleRateLimited(ctx context.Context, decision router.Decision, requestedModel string) {
	tokensBeforeLimit := 0
	if s.deps.Store != nil {
		logs, err := s.deps.Store.WindowUsageLogs(ctx, rateLimitWindowHours)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "window usage query failed", slog.String("error", err.Error()))
		} else {
			for _, l := range logs {
				tokensBeforeLimit += l.InputTokens + l.OutputTokens
			}
		}
	}

	ev := &cruise.RateLimitEvent{
		TimestampMs:           time.Now().UnixMilli(),
		Model:                 requestedModel,
		ErrorType:             "rate_limit_exceeded",
		TokensUsedBeforeLimit: tokensBeforeLimit,
		WindowHours:           rateLimitWindowHours,
	}
	if s.deps.Learner != nil {
		if err := s.deps.Learner.RecordRateLimit(ctx, ev); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "record rate limit failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Router != nil {
		s.deps.Router.RecordRateLimit(time.Time{})
	}
	if s.deps.Prediction != nil {
		s.deps.Prediction.Reset()
	}
}

// bufferedResponse handles a non-streaming AdapterResponse: parse usage,
// compute cost, forward the body verbatim, then write the ledger row.
func (s *server) bufferedResponse(ctx context.Context, w http.ResponseWriter, adapter cruise.Adapter,
	resp *cruise.AdapterResponse, decision router.Decision, requestedModel, originalProvider, reason string, start time.Time) {

	for k, v := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)

	usage, ok := adapter.ParseUsage(resp.Body)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errType := ""
	if !success {
		errType = "upstream_error"
	}
	var cost float64
	if ok {
		cost = pricing.Cost(adapter.Type(), decision.TargetModel, usage)
	}
	s.recordUsage(ctx, decision, requestedModel, originalProvider, reason, usage, cost, time.Since(start).Milliseconds(), success, errType)
}

// streamResponse forwards an SSE stream verbatim while feeding each raw
// line to the adapter's StreamUsageTracker, then writes the ledger row
// once the upstream stream closes.
func (s *server) streamResponse(ctx context.Context, w http.ResponseWriter, adapter cruise.Adapter,
	resp *cruise.AdapterResponse, decision router.Decision, requestedModel, originalProvider, reason string, start time.Time) {

	defer resp.Stream.Close()

	for k, v := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)

	tracker := adapter.NewStreamUsageTracker()
	scanner := sseutil.NewScanner(resp.Stream)
	for scanner.Scan() {
		line := scanner.Text()
		w.Write([]byte(line))
		w.Write([]byte("\n"))
		if flusher != nil {
			flusher.Flush()
		}
		tracker.Observe(line)
	}
	if err := scanner.Err(); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "stream read error", slog.String("error", err.Error()))
	}

	usage := tracker.Result()
	cost := pricing.Cost(adapter.Type(), decision.TargetModel, usage)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	s.recordUsage(ctx, decision, requestedModel, originalProvider, reason, usage, cost, time.Since(start).Milliseconds(), success, "")
}

// nominalSavingsUsage is the fixed-size request used to quote a routing
// decision's estimated_savings, per the Data Model's "10,000-token nominal
// request against a pricing table" definition.
var nominalSavingsUsage = cruise.TokenUsage{InputTokens: 10000}

func (s *server) recordUsage(ctx context.Context, decision router.Decision, requestedModel, originalProvider, reason string,
	usage cruise.TokenUsage, costUSD float64, latencyMs int64, success bool, errType string) {

	s.writeLedgerRow(ctx, decision, requestedModel, usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens, usage.CacheWriteTokens, costUSD, latencyMs, success, errType)

	if decision.ShouldRoute && originalProvider != "" && s.deps.Store != nil {
		savings := s.estimateSavings(originalProvider, requestedModel, decision.TargetProvider, decision.TargetModel)
		rd := &cruise.RoutingDecision{
			TimestampMs:      time.Now().UnixMilli(),
			SessionID:        s.deps.SessionID,
			OriginalProvider: originalProvider,
			RoutedProvider:   decision.TargetProvider,
			RoutedModel:      decision.TargetModel,
			Reason:           reason,
			EstimatedSavings: savings,
		}
		if err := s.deps.Store.InsertRoutingDecision(ctx, rd); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "routing decision write failed", slog.String("error", err.Error()))
		}
	}
}

// estimateSavings quotes the cost difference a routing decision produces
// against a fixed nominal request, so operators can see a dollar figure in
// /stats without needing the actual request's real token counts.
func (s *server) estimateSavings(originalProvider, requestedModel, targetProvider, targetModel string) float64 {
	originalType, targetType := "primary", "primary"
	if a, ok := s.deps.Adapters[originalProvider]; ok {
		originalType = a.Type()
	}
	if a, ok := s.deps.Adapters[targetProvider]; ok {
		targetType = a.Type()
	}
	originalCost := pricing.Cost(originalType, requestedModel, nominalSavingsUsage)
	targetCost := pricing.Cost(targetType, targetModel, nominalSavingsUsage)
	return originalCost - targetCost
}

// writeLedgerRow inserts the UsageLog row. Ledger write failures are logged
// but never fail the already-sent client response.
func (s *server) writeLedgerRow(ctx context.Context, decision router.Decision, requestedModel string,
	inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int, costUSD float64, latencyMs int64, success bool, errType string) {

	if s.deps.Store == nil {
		return
	}
	log := &cruise.UsageLog{
		TimestampMs:      time.Now().UnixMilli(),
		SessionID:        s.deps.SessionID,
		Model:            decision.TargetModel,
		Provider:         decision.TargetProvider,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		CacheReadTokens:  cacheReadTokens,
		CacheWriteTokens: cacheWriteTokens,
		CostUSD:          costUSD,
		LatencyMs:        latencyMs,
		Success:          success,
		ErrorType:        errType,
	}
	if decision.ShouldRoute {
		log.RoutedFrom = requestedModel
		log.RoutingReason = decision.Reason
	}
	if err := s.deps.Store.InsertUsageLog(ctx, log); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "ledger write failed", slog.String("error", err.Error()))
		if s.deps.Metrics != nil {
			s.deps.Metrics.LedgerWriteErrorsTotal.Inc()
		}
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.TokensTotal.WithLabelValues(decision.TargetModel, "input").Add(float64(inputTokens))
		s.deps.Metrics.TokensTotal.WithLabelValues(decision.TargetModel, "output").Add(float64(outputTokens))
	}
}
