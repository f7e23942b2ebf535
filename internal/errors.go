package cruise

import "errors"

// Sentinel errors for the proxy domain.
var (
	ErrMissingCredential = errors.New("missing upstream credential")
	ErrQuotaRejected     = errors.New("upstream quota rejected")
	ErrUpstreamError     = errors.New("upstream error")
	ErrTransportError    = errors.New("upstream transport error")
	ErrConfig            = errors.New("invalid configuration")
	ErrNoProvider        = errors.New("no matching provider configured")
)
