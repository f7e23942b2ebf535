package server

import (
	"log/slog"
	"net/http"

	"github.com/cruisehq/cruise/internal/provider"
)

// handlePassthrough proxies any /v1/* path other than /v1/messages straight
// to the primary provider, unchanged. Grounded on
// internal/provider/proxy.go's ForwardRequest (hop-by-hop header stripping,
// flush-on-read for SSE/NDJSON).
func (s *server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	if s.deps.HTTPClient == nil || s.deps.PrimaryBaseURL == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("no primary provider configured"))
		return
	}

	setAuth := func(h http.Header) {
		h.Set("anthropic-version", "2023-06-01")
		if s.deps.PrimaryAPIKey != "" {
			h.Set("x-api-key", s.deps.PrimaryAPIKey)
		}
	}

	if err := provider.ForwardRequest(r.Context(), s.deps.HTTPClient, s.deps.PrimaryBaseURL,
		setAuth, w, r, r.URL.Path); err != nil {
		// ForwardRequest has already written a response (or streamed a
		// partial one) by the time it can fail; nothing left to do but log.
		slog.LogAttrs(r.Context(), slog.LevelWarn, "passthrough forward failed",
			slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
}
