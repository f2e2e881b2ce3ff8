package domain

import "errors"

// Error taxonomy shared across the pipeline. Components wrap these with %w
// and callers classify with errors.Is.
var (
	// ErrUpstreamUnavailable: transient provider failure after the caller's
	// own retry budget is spent.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamRateLimited: the provider signalled throttling. Distinct
	// from unavailability; the orchestrator backs off longer.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")

	// ErrPermanentPublish: the channel rejected the payload in a way that
	// retrying cannot fix (malformed payload, permission denied).
	ErrPermanentPublish = errors.New("permanent publish failure")

	// ErrRateLimited: a local rate-limit budget was exhausted within its
	// bounded wait.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidCandidate: structural validation failure at the fetch
	// boundary. Dropped and counted, never fatal.
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrNotFound: the referenced entity does not exist upstream or in the
	// store (e.g. a deleted channel message).
	ErrNotFound = errors.New("not found")
)
