package server

import "net/http"

// handleHealth reports liveness. Unlike the teacher's plain-text healthz,
// this proxy has no readiness-vs-liveness distinction worth a second
// endpoint: the store is opened synchronously at startup or the process
// never reaches ListenAndServe.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.deps.Version,
	})
}
