package server

import (
	"log/slog"
	"net/http"

	"github.com/cruisehq/cruise/internal/storage"
	"github.com/cruisehq/cruise/internal/velocity"
)

type statsUsage struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	SessionCost      float64 `json:"session_cost"`
	TodayCost        float64 `json:"today_cost"`
	WeekCost         float64 `json:"week_cost"`
	SavedByRouting   float64 `json:"saved_by_routing"`
}

type statsPrediction struct {
	UsagePercent      float64     `json:"usage_percent"`
	MinutesUntilLimit int         `json:"minutes_until_limit"`
	VelocityPerHour   float64     `json:"velocity"`
	Confidence        int         `json:"confidence"`
	Trend             [12]float64 `json:"trend"`
	ProjectedNextHour float64     `json:"projected_tokens_next_hour"`
}

type statsSession struct {
	Requests int64 `json:"requests"`
}

type statsProvider struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	HasAPIKey bool   `json:"has_api_key"`
}

type statsRouter struct {
	Mode               string          `json:"mode"`
	Enabled            bool            `json:"enabled"`
	CurrentModel       string          `json:"current_model"`
	IsRateLimited      bool            `json:"is_rate_limited"`
	RateLimitResetTime *int64          `json:"rate_limit_reset_time,omitempty"`
	Providers          []statsProvider `json:"providers"`
}

type statsResponse struct {
	Usage      statsUsage      `json:"usage"`
	Prediction statsPrediction `json:"prediction"`
	Session    statsSession    `json:"session"`
	Router     statsRouter     `json:"router"`
}

// handleStats aggregates the Usage Ledger's totals, the Prediction Engine's
// current read for the primary model, and the Router's live state into the
// one JSON view an operator (or the dashboard fallback) needs.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionTotals, err := s.deps.Store.TotalUsage(ctx, storage.TimeframeSession, s.deps.SessionID)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "stats: session totals failed", slog.String("error", err.Error()))
	}
	todayTotals, err := s.deps.Store.TotalUsage(ctx, storage.TimeframeToday, "")
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "stats: today totals failed", slog.String("error", err.Error()))
	}
	weekLogs, err := s.deps.Store.WindowUsageLogs(ctx, 7*24)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "stats: week usage logs failed", slog.String("error", err.Error()))
	}
	var weekCost float64
	for _, l := range weekLogs {
		weekCost += l.CostUSD
	}
	savings, err := s.deps.Store.RoutingSavings(ctx, storage.TimeframeSession, s.deps.SessionID)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "stats: routing savings failed", slog.String("error", err.Error()))
	}

	resp := statsResponse{
		Usage: statsUsage{
			InputTokens:    sessionTotals.InputTokens,
			OutputTokens:   sessionTotals.OutputTokens,
			SessionCost:    sessionTotals.CostUSD,
			TodayCost:      todayTotals.CostUSD,
			WeekCost:       weekCost,
			SavedByRouting: savings,
		},
		Session: statsSession{Requests: sessionTotals.RequestCount},
	}

	currentModel := ""
	for _, p := range s.deps.Router.Providers() {
		if p.Name == s.deps.PrimaryName && len(p.Models) > 0 {
			currentModel = p.Models[0]
			break
		}
	}

	if s.deps.Prediction != nil && currentModel != "" {
		pred, err := s.deps.Prediction.Predict(ctx, 5, currentModel)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "stats: prediction failed", slog.String("error", err.Error()))
		} else {
			resp.Prediction = statsPrediction{
				UsagePercent:      pred.UsagePercent,
				MinutesUntilLimit: pred.MinutesUntilLimit,
				VelocityPerHour:   pred.Velocity.TokensPerHour,
				Confidence:        pred.Confidence,
				Trend:             pred.Velocity.Trend,
				ProjectedNextHour: velocity.ProjectMinutesAhead(pred.Velocity, 60),
			}
		}
	}

	providers := make([]statsProvider, 0, len(s.deps.Router.Providers()))
	for _, p := range s.deps.Router.Providers() {
		providers = append(providers, statsProvider{
			Name:      p.Name,
			Enabled:   p.IsEnabled(),
			HasAPIKey: p.APIKey != "",
		})
	}

	routerStats := statsRouter{
		Mode:          s.deps.Router.Mode(),
		Enabled:       s.deps.Router.Enabled(),
		CurrentModel:  currentModel,
		IsRateLimited: s.deps.Router.IsRateLimited(),
		Providers:     providers,
	}
	if resetAt, ok := s.deps.Router.RateLimitResetTime(); ok {
		ms := resetAt.UnixMilli()
		routerStats.RateLimitResetTime = &ms
	}
	resp.Router = routerStats

	writeJSON(w, http.StatusOK, resp)
}
