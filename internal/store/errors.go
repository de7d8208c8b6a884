package store

import "errors"

// Sentinel errors a Store implementation wraps so callers can classify
// failures with errors.Is.
var (
	// ErrNotFound: the item does not exist.
	ErrNotFound = errors.New("item not found")
	// ErrRateLimited: the remote asked the caller to slow down. Retried
	// with exponential backoff.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransport: a protocol-level violation (truncated or malformed
	// response). Retried once.
	ErrTransport = errors.New("transport protocol violation")
	// ErrPayloadTooLarge: the item exceeds the store's payload ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrVersionConflict: the item changed since it was read.
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnauthorized: credentials were rejected. Fatal for the pass.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsTransport reports whether err is a transport-protocol violation.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsNotFound reports whether err means the item is missing.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
