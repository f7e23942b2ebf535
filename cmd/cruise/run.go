package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/adapter/localchat"
	"github.com/cruisehq/cruise/internal/adapter/openaicompat"
	"github.com/cruisehq/cruise/internal/adapter/primary"
	"github.com/cruisehq/cruise/internal/config"
	"github.com/cruisehq/cruise/internal/learner"
	"github.com/cruisehq/cruise/internal/prediction"
	"github.com/cruisehq/cruise/internal/provider"
	"github.com/cruisehq/cruise/internal/router"
	"github.com/cruisehq/cruise/internal/server"
	"github.com/cruisehq/cruise/internal/storage"
	"github.com/cruisehq/cruise/internal/storage/sqlite"
	"github.com/cruisehq/cruise/internal/telemetry"
	"github.com/cruisehq/cruise/internal/worker"
)

func run(configPath string, port int) error {
	cfg, err := config.Load(configPath, port)
	if err != nil {
		return err
	}

	slog.Info("starting cruise", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("database opened", "dsn", cfg.Database.DSN)

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	sessionID, startedAtMs := newSessionID()
	if err := store.CreateSession(ctx, &cruise.Session{
		SessionID:   sessionID,
		StartedAtMs: startedAtMs,
		ProjectPath: workingDir(),
	}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	slog.Info("session started", "session_id", sessionID)

	// Shared DNS cache for all adapter HTTP clients.
	dnsResolver := &dnscache.Resolver{}
	refreshDone := make(chan struct{})
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-refreshDone:
				return
			case <-t.C:
				dnsResolver.Refresh(true)
			}
		}
	}()
	defer close(refreshDone)

	adapters, primaryEntry, err := buildAdapters(cfg.Router.Providers, dnsResolver)
	if err != nil {
		return err
	}
	for name, a := range adapters {
		slog.Info("adapter registered", "name", name, "type", a.Type())
	}

	allModels := modelsByProvider(cfg.Router.Providers)

	limitLearner, err := learner.New(ctx, store, allModels)
	if err != nil {
		return fmt.Errorf("load limit learner: %w", err)
	}

	predictionEngine, err := prediction.New(store, limitLearner)
	if err != nil {
		return fmt.Errorf("create prediction engine: %w", err)
	}

	routerSvc := router.New(cfg.Router)
	slog.Info("router configured",
		"mode", cfg.Router.Mode,
		"enabled", cfg.Router.Enabled,
		"switch_to_haiku", cfg.Router.Thresholds.SwitchToHaiku,
		"switch_to_openrouter", cfg.Router.Thresholds.SwitchToOpenRouter,
		"switch_to_local", cfg.Router.Thresholds.SwitchToLocal,
	)

	retentionWorker := worker.NewRetentionWorker(store, cfg.Database.RetentionDays)
	runner := worker.NewRunner(retentionWorker)

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("cruise/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	passthroughClient := &http.Client{Transport: provider.NewTransport(dnsResolver, true)}

	handler := server.New(server.Deps{
		Store:          store,
		Router:         routerSvc,
		Learner:        limitLearner,
		Prediction:     predictionEngine,
		Adapters:       adapters,
		PrimaryName:    primaryEntry.Name,
		PrimaryBaseURL: primaryEntry.Endpoint,
		PrimaryAPIKey:  primaryEntry.APIKey,
		HTTPClient:     passthroughClient,
		SessionID:      sessionID,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("cruise ready", "addr", cfg.Server.Addr, "primary", primaryEntry.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if err := closeSession(shutdownCtx, store, sessionID); err != nil {
		slog.Error("session close error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("cruise stopped")
	return nil
}

// buildAdapters constructs one cruise.Adapter per enabled provider entry,
// keyed by name, and returns the primary entry alongside for /v1/* passthrough
// and estimated_savings baselines.
func buildAdapters(entries []config.ProviderEntry, resolver *dnscache.Resolver) (map[string]cruise.Adapter, config.ProviderEntry, error) {
	adapters := make(map[string]cruise.Adapter)
	var primaryEntry config.ProviderEntry
	var hasPrimary bool

	for _, p := range entries {
		if !p.IsEnabled() {
			slog.Info("provider skipped (disabled)", "name", p.Name)
			continue
		}

		switch p.Type {
		case config.TypePrimary:
			client := &http.Client{Transport: provider.NewTransport(resolver, true)}
			adapters[p.Name] = primary.New(p.Name, p.Endpoint, p.APIKey, client)
			primaryEntry = p
			hasPrimary = true
		case config.TypeOpenAICompat:
			client := &http.Client{Transport: provider.NewTransport(resolver, true)}
			adapters[p.Name] = openaicompat.New(p.Name, p.Endpoint, p.APIKey, "", "", client)
		case config.TypeLocalChat:
			client := &http.Client{Transport: provider.NewTransport(resolver, false)}
			adapters[p.Name] = localchat.New(p.Name, p.Endpoint, client)
		default:
			slog.Warn("unknown provider type, skipping", "name", p.Name, "type", p.Type)
		}
	}

	if !hasPrimary {
		return nil, config.ProviderEntry{}, fmt.Errorf("%w: no primary provider configured", cruise.ErrConfig)
	}
	return adapters, primaryEntry, nil
}

// modelsByProvider flattens every configured provider's model list, so the
// Limit Learner replays rate-limit history for every model it might ever be
// asked about.
func modelsByProvider(entries []config.ProviderEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range entries {
		for _, m := range p.Models {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func newSessionID() (string, int64) {
	ms := time.Now().UnixMilli()
	return fmt.Sprintf("session_%d", ms), ms
}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func closeSession(ctx context.Context, store storage.Store, sessionID string) error {
	totals, err := store.TotalUsage(ctx, storage.TimeframeSession, sessionID)
	if err != nil {
		return err
	}
	return store.CloseSession(ctx, sessionID, time.Now().UnixMilli(), totals.CostUSD, totals.InputTokens+totals.OutputTokens)
}
