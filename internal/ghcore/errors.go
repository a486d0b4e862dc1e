// Package ghcore holds error sentinels shared across the ingestion and query
// packages so callers can distinguish recoverable conditions with errors.Is.
package ghcore

import "errors"

var (
	// ErrTransport marks a network failure or a non-2xx/304/429 upstream
	// response. Always handled locally by the caller; never crashes a worker.
	ErrTransport = errors.New("ghpulse: transport error")

	// ErrRateLimited marks a 429 or an explicit rate-limit exhaustion signal.
	ErrRateLimited = errors.New("ghpulse: rate limited")

	// ErrMalformedEvent marks an upstream payload missing a required field.
	// The offending event is skipped; it never aborts the rest of a batch.
	ErrMalformedEvent = errors.New("ghpulse: malformed event")

	// ErrStoreUnavailable marks a store that cannot be opened or written.
	// Fatal at startup; at runtime the ingestion coordinator surfaces it.
	ErrStoreUnavailable = errors.New("ghpulse: store unavailable")

	// ErrInvalidArgument marks a caller-supplied argument outside its
	// documented domain (offset_minutes <= 0, bucket_minutes < 1, unknown
	// monitor id, ...). Never affects the store.
	ErrInvalidArgument = errors.New("ghpulse: invalid argument")

	// ErrInsufficientData marks a metric that cannot be computed from the
	// data on hand. Callers treat this as a distinguished success value,
	// not a failure, per the query engine's contract.
	ErrInsufficientData = errors.New("ghpulse: insufficient data")
)
