// Package domainerrors carries failure codes across layers without
// committing to a transport. Stores, services and handlers all speak the
// same vocabulary; only httputil translates codes into HTTP statuses.
package domainerrors

import "errors"

// Code names a failure category in pool terms.
type Code string

// Request-shaped failures: the caller sent something the pool cannot act on.
const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeUnauthorized Code = "unauthorized"
)

// Catalog failures: the account store rejected the operation.
const (
	CodeNotFound Code = "not_found"
	CodeConflict Code = "conflict"
)

// Selection and relay failures. These surface to relay clients, so their
// HTTP mapping matters: no_account_available means "try again later", while
// account_unavailable means a specifically named account cannot serve.
const (
	// CodeNoAccountAvailable: every candidate filtered out or exhausted.
	CodeNoAccountAvailable Code = "no_account_available"
	// CodeAccountUnavailable: named account disabled or rate limited.
	CodeAccountUnavailable Code = "account_unavailable"
	// CodeRateLimited: upstream signalled a rate limit.
	CodeRateLimited Code = "rate_limited"
	// CodeUpstream: provider call failed or returned garbage.
	CodeUpstream Code = "upstream_error"
	// CodeTimeout: provider call ran past its deadline.
	CodeTimeout Code = "timeout"
)

// Everything else.
const (
	CodeInternal           Code = "internal_error"
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is the carrier type. Err holds the underlying cause, if any, and
// stays reachable through errors.Unwrap.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code, so errors.Is works with sentinel
// instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error. When err already
// carries a domain code, that code wins: the innermost classification is the
// most precise one, and re-wrapping must not launder a not_found into an
// internal_error.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether err is, or wraps, a domain error with the code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
