package router

import (
	"testing"
	"time"

	"github.com/cruisehq/cruise/internal/config"
)

func fullConfig() config.RouterConfig {
	return config.RouterConfig{
		Mode:    config.ModeFullAuto,
		Enabled: true,
		Thresholds: config.ThresholdConfig{
			SwitchToHaiku:      70,
			SwitchToOpenRouter: 85,
			SwitchToLocal:      95,
		},
		Providers: []config.ProviderEntry{
			{Name: "anthropic", Type: config.TypePrimary, Models: []string{"claude-sonnet-4-6", "claude-haiku-4-5"}, Priority: 0},
			{Name: "openrouter", Type: config.TypeOpenAICompat, Models: []string{"anthropic/claude-sonnet-4.6"}, Priority: 1},
			{Name: "ollama", Type: config.TypeLocalChat, Models: []string{"llama3.1"}, Priority: 2},
		},
	}
}

func TestRouteNoRoutingBelowThresholds(t *testing.T) {
	r := New(fullConfig())
	d := r.Route("claude-sonnet-4-6", 50)
	if d.ShouldRoute {
		t.Errorf("expected no routing at 50%%, got %+v", d)
	}
	if d.TargetModel != "claude-sonnet-4-6" {
		t.Errorf("target model = %q, want unchanged", d.TargetModel)
	}
}

func TestRouteSwitchToHaikuAt72Percent(t *testing.T) {
	r := New(fullConfig())
	d := r.Route("claude-sonnet-4-6", 72)
	if !d.ShouldRoute {
		t.Fatal("expected routing at 72%")
	}
	if d.TargetProvider != "anthropic" {
		t.Errorf("target provider = %q, want anthropic", d.TargetProvider)
	}
	if d.TargetModel != "claude-haiku-4-5" {
		t.Errorf("target model = %q, want claude-haiku-4-5", d.TargetModel)
	}
}

func TestRouteSwitchToOpenRouterAt90Percent(t *testing.T) {
	r := New(fullConfig())
	d := r.Route("claude-sonnet-4-6", 90)
	if d.TargetProvider != "openrouter" {
		t.Errorf("target provider = %q, want openrouter", d.TargetProvider)
	}
}

func TestRouteSwitchToLocalAt97Percent(t *testing.T) {
	r := New(fullConfig())
	d := r.Route("claude-sonnet-4-6", 97)
	if d.TargetProvider != "ollama" {
		t.Errorf("target provider = %q, want ollama", d.TargetProvider)
	}
}

func TestRouteStickyRateLimitOverridesThresholds(t *testing.T) {
	r := New(fullConfig())
	r.RecordRateLimit(time.Now().Add(10 * time.Minute))

	d := r.Route("claude-sonnet-4-6", 10)
	if d.TargetProvider != "openrouter" {
		t.Errorf("target provider = %q, want openrouter (rate limited failover)", d.TargetProvider)
	}
	if !r.IsRateLimited() {
		t.Error("expected IsRateLimited to be true")
	}
}

func TestRouteManualModeNeverRoutes(t *testing.T) {
	cfg := fullConfig()
	cfg.Mode = config.ModeManual
	r := New(cfg)
	d := r.Route("claude-sonnet-4-6", 99)
	if d.ShouldRoute {
		t.Errorf("expected no routing in manual mode, got %+v", d)
	}
}

func TestRouteAt75PercentStillOnlyHaikuThreshold(t *testing.T) {
	r := New(fullConfig())
	// 75% clears switch_to_haiku (70) but not switch_to_openrouter (85).
	d := r.Route("claude-sonnet-4-6", 75)
	if d.TargetModel != "claude-haiku-4-5" {
		t.Errorf("75%% should switch to haiku, got %q", d.TargetModel)
	}
	if d.TargetProvider != "anthropic" {
		t.Errorf("75%% should stay on primary, got %q", d.TargetProvider)
	}
}
