package server

import (
	"encoding/json"
	"errors"
	"net/http"

	cruise "github.com/cruisehq/cruise/internal"
)

var jsonCT = []string{"application/json"}

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse builds the {"error":{"message":...}} envelope used for
// every error response this proxy returns on its own behalf (as opposed to
// an upstream error body passed through verbatim).
func errorResponse(msg string) map[string]any {
	return map[string]any{"error": map[string]any{"message": msg}}
}

// httpStatusError is implemented by errors that carry their own HTTP status,
// e.g. *provider.APIError.
type httpStatusError interface {
	HTTPStatus() int
}

// errorStatus classifies an error into an HTTP status code. Sentinel
// domain errors are checked first via errors.Is; anything implementing
// httpStatusError (an upstream APIError) reports its own code; everything
// else is a 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, cruise.ErrMissingCredential):
		return http.StatusUnauthorized
	case errors.Is(err, cruise.ErrNoProvider):
		return http.StatusNotFound
	case errors.Is(err, cruise.ErrTransportError):
		return http.StatusBadGateway
	case errors.Is(err, cruise.ErrConfig):
		return http.StatusInternalServerError
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
