// Package gatewayerrors defines the sentinel error kinds shared across the
// gateway's subsystems. Call sites wrap these with fmt.Errorf("...: %w", ...)
// for context; HTTP and channel handlers unwrap with errors.Is to pick a
// status code or an encrypted error string.
package gatewayerrors

import "errors"

var (
	// ErrUnauthorized covers handshake failures: unknown peer, bad
	// signature, unsupported version.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionGone is returned when a sessionId is not present in the
	// session table (never created, expired, or torn down after a replay).
	ErrSessionGone = errors.New("session gone")

	// ErrRateLimited is returned when a session's fixed-window request
	// counter exceeds its per-minute limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrReplayOrTamper covers decrypt failures and anti-replay window
	// violations on the encrypted channel.
	ErrReplayOrTamper = errors.New("replay or tamper detected")

	// ErrRouteDenied is returned when a URL matches no configured route,
	// or fails the endpoint allowlist after placeholder substitution.
	ErrRouteDenied = errors.New("endpoint not allowed")

	// ErrHeaderConflict is returned when a client-supplied header
	// case-insensitively collides with a route-injected header.
	ErrHeaderConflict = errors.New("header conflict")

	// ErrUnknownTool is returned when a tool call names an operation not
	// present in the dispatch table.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUpstreamFailure wraps outbound fetch errors from the request
	// pipeline's target API call.
	ErrUpstreamFailure = errors.New("upstream request failed")

	// ErrIngestorFailure marks an ingestor that has reached a terminal
	// error state (max reconnects, non-recoverable close code, auth loss).
	ErrIngestorFailure = errors.New("ingestor failed")

	// ErrInvalidWebhook covers webhook signature verification, JSON
	// parsing, and payload-shape failures.
	ErrInvalidWebhook = errors.New("invalid webhook delivery")
)
