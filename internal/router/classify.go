package router

import (
	"errors"
)

// httpStatusError is implemented by provider.APIError; matched structurally
// so this package doesn't need to import the provider package.
type httpStatusError interface {
	HTTPStatus() int
}

// IsRateLimitError reports whether err represents an upstream 429, the only
// condition that flips the sticky is_rate_limited flag. Adapted from
// circuitbreaker.ClassifyError's status-code switch, narrowed to the one
// distinction this router cares about.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var he httpStatusError
	if errors.As(err, &he) {
		return he.HTTPStatus() == 429
	}
	return false
}
