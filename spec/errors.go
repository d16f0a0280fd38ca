package spec

import "errors"

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrSkillNotFound      = errors.New("skill not found")
	ErrSkillAlreadyExists = errors.New("skill already exists")
	ErrSessionNotFound    = errors.New("session not found")

	// ErrCapabilityDenied is returned when a tool outside the caller's
	// allowlist is requested. Always fatal to the call.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrRateLimited is expected and user-facing; waiting recovers it.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamUnavailable covers network failures and open circuits.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCircuitOpen wraps ErrUpstreamUnavailable.
	ErrCircuitOpen = errors.Join(ErrUpstreamUnavailable, errors.New("circuit open"))

	// ErrValidationFallback marks generated content that was replaced by the
	// linter's canned fallback. It is audited, never surfaced.
	ErrValidationFallback = errors.New("validation fallback")

	// ErrTryAgain is the generic condition hosts see for capability and
	// configuration failures.
	ErrTryAgain = errors.New("try again")
)
