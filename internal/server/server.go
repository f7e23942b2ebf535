// Package server implements the HTTP transport layer for the proxy.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	cruise "github.com/cruisehq/cruise/internal"
	"github.com/cruisehq/cruise/internal/learner"
	"github.com/cruisehq/cruise/internal/prediction"
	"github.com/cruisehq/cruise/internal/router"
	"github.com/cruisehq/cruise/internal/storage"
	"github.com/cruisehq/cruise/internal/telemetry"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Store      storage.Store
	Router     *router.Router
	Learner    *learner.Learner
	Prediction *prediction.Engine
	Adapters   map[string]cruise.Adapter // keyed by provider name

	// PrimaryName identifies the primary provider for routing decisions and
	// /stats. PrimaryBaseURL and PrimaryAPIKey back the /v1/* catch-all
	// forwarder, which talks to the primary provider's native API directly
	// rather than through an Adapter (no model substitution, no usage
	// accounting -- just a passthrough).
	PrimaryName    string
	PrimaryBaseURL string
	PrimaryAPIKey  string
	HTTPClient     *http.Client

	SessionID string // the current process's session_<start-ms>

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	Version        string
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/", s.handleDashboard)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Post("/v1/messages", s.handleMessages)
	r.HandleFunc("/v1/*", s.handlePassthrough)

	return r
}

type server struct {
	deps Deps
}
