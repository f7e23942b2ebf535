package server

import "net/http"

var dashboardFallback = []byte(`<!DOCTYPE html>
<html><head><title>cruise</title></head>
<body>
<h1>cruise</h1>
<p>Usage-aware proxy is running. See <a href="/stats">/stats</a> for the current session.</p>
</body></html>`)

var htmlCT = []string{"text/html; charset=utf-8"}

// handleDashboard serves an inline fallback page. A real dashboard asset,
// if embedded, would be served here instead; none is embedded in this build.
func (s *server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = htmlCT
	w.WriteHeader(http.StatusOK)
	w.Write(dashboardFallback)
}
