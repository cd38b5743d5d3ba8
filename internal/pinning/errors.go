package pinning

import "errors"

var (
	// ErrInsecureURL is returned before any network access for non-https
	// targets; it never degrades to a warning.
	ErrInsecureURL = errors.New("insecure URL not allowed")
	// ErrNoPinForDomain is returned when a pin operation names an
	// unprovisioned domain.
	ErrNoPinForDomain = errors.New("no certificate pin configured for domain")
	// ErrPinVerification aborts the connection when the observed
	// certificate matches neither a primary nor a backup pin.
	ErrPinVerification = errors.New("certificate pin verification failed")
	// ErrInvalidPin rejects pin strings that are not a colon-separated
	// SHA-256 fingerprint.
	ErrInvalidPin = errors.New("invalid certificate pin format")
	// ErrInsecureResponse is returned when a response arrives over a
	// non-https scheme.
	ErrInsecureResponse = errors.New("insecure response")
	// ErrRequestFailed wraps transport-level failures, including timeouts;
	// these are liveness failures, not security decisions.
	ErrRequestFailed = errors.New("request failed")
)
