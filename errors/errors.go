package errors

import (
	"errors"
	"time"
)

// Kind categorizes a failure so outer layers (CLI exit codes, HTTP status
// mapping) can react without reaching into provider internals.
type Kind string

const (
	// KindAuthentication means bad or missing credentials. Never retried.
	KindAuthentication Kind = "authentication"
	// KindRateLimited means the provider throttled the call. Retryable with
	// backoff up to the engine's bounded budget.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout means an operation exceeded its deadline. Fatal for that
	// operation; the engine may attempt one fallback hop.
	KindTimeout Kind = "timeout"
	// KindInvalidRequest means malformed caller input. Never retried.
	KindInvalidRequest Kind = "invalid_request"
	// KindUpstream is an unspecified provider-side failure. Retryable.
	KindUpstream Kind = "upstream"
	// KindNoProvider means resolution exhausted every candidate.
	KindNoProvider Kind = "no_provider"
	// KindToolValidation means tool parameters failed schema validation. It
	// is captured inside a ToolInvocation and never escapes generation.
	KindToolValidation Kind = "tool_validation"
	// KindEvaluationDegraded is a soft condition: the evaluation pass failed
	// and its block was omitted while generation still succeeded.
	KindEvaluationDegraded Kind = "evaluation_degraded"
)

// Error is the provider-neutral failure type returned across the normalized
// boundary. Raw provider errors are kept in Err for diagnostics only.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	Retryable  bool
	RetryAfter *time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the retryability implied by its kind.
func New(kind Kind, provider, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Provider:  provider,
		Retryable: kind == KindRateLimited || kind == KindUpstream,
		Err:       cause,
	}
}

// NewAuthentication reports bad or missing credentials.
func NewAuthentication(provider string, cause error) *Error {
	return New(KindAuthentication, provider, "authentication failed", cause)
}

// NewRateLimited reports throttling, optionally with the provider's
// suggested retry delay.
func NewRateLimited(provider string, retryAfter *time.Duration, cause error) *Error {
	e := New(KindRateLimited, provider, "rate limited", cause)
	e.RetryAfter = retryAfter
	return e
}

// NewTimeout reports a deadline overrun for one operation.
func NewTimeout(provider string, cause error) *Error {
	return New(KindTimeout, provider, "operation timed out", cause)
}

// NewInvalidRequest reports malformed caller input.
func NewInvalidRequest(provider, message string) *Error {
	return New(KindInvalidRequest, provider, message, nil)
}

// NewUpstream reports an unspecified provider-side failure.
func NewUpstream(provider string, cause error) *Error {
	return New(KindUpstream, provider, "upstream provider error", cause)
}

// NewNoProvider reports exhausted resolution.
func NewNoProvider(message string) *Error {
	return New(KindNoProvider, "", message, nil)
}

// NewToolValidation reports tool arguments that failed schema validation.
func NewToolValidation(tool, message string) *Error {
	return New(KindToolValidation, "", "tool "+tool+": "+message, nil)
}

// KindOf extracts the Kind from err, or KindUpstream for foreign errors so
// unknown failures stay on the bounded retry path rather than aborting.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// IsRetryable reports whether err may be retried with backoff.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// RetryAfter extracts the provider-suggested retry delay, if any.
func RetryAfter(err error) *time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return nil
}

// As re-exports the standard library matcher so callers of this package do
// not need a second errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}
