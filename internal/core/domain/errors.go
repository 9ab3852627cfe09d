package domain

import (
	"errors"
	"fmt"
	"time"
)

// Denial sentinels. Every authorization outcome other than "allowed" is one of these.
var (
	ErrUnauthenticated           = errors.New("unauthenticated")
	ErrForbidden                 = errors.New("access forbidden")
	ErrRateLimited               = errors.New("rate limit exceeded")
	ErrSubscriptionRequired      = errors.New("subscription required")
	ErrInvalidStateTransition    = errors.New("invalid state transition")
	ErrInfrastructureUnavailable = errors.New("infrastructure unavailable")
)

var (
	ErrFirmNotFound            = errors.New("firm not found")
	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrVersionConflict         = errors.New("concurrent modification, retry")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrInvalidPlan             = errors.New("invalid subscription plan")
)

// AuthFailure names why a credential was refused.
type AuthFailure string

const (
	AuthMissing          AuthFailure = "missing"
	AuthMalformed        AuthFailure = "malformed"
	AuthExpired          AuthFailure = "expired"
	AuthInvalidSignature AuthFailure = "invalid_signature"
)

// AuthError is returned by the identity verifier. The reasons are distinct for
// diagnostics but every one of them is a plain ErrUnauthenticated to callers.
type AuthError struct {
	Reason AuthFailure
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthenticated (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unauthenticated (%s)", e.Reason)
}

func (e *AuthError) Is(target error) bool { return target == ErrUnauthenticated }

func (e *AuthError) Unwrap() error { return e.Err }

// TransitionError reports a lifecycle transition attempted from a state that
// does not permit it.
type TransitionError struct {
	From      FirmStatus
	Attempted FirmTransition
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", ErrInvalidStateTransition, e.Attempted, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

// RateLimitError carries the decision that denied the request so the
// transport can still emit quota headers.
type RateLimitError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: limit %d, resets at %s", ErrRateLimited, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter is the whole number of seconds until the window resets, at least 1.
func (e *RateLimitError) RetryAfter(now time.Time) int {
	secs := int(e.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// UnavailableError wraps a failed or timed-out call to an external store.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInfrastructureUnavailable, e.Op, e.Err)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrInfrastructureUnavailable }

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as an infrastructure failure of op.
func Unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
