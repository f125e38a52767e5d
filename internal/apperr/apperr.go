// Package apperr defines the closed set of outcomes the access core reports to its callers.
//
// Every expected denial is an *Error carrying a Kind; callers compare with errors.Is against the
// exported sentinels and read details (reason, field) through errors.As. Backend failures are
// wrapped with Infrastructure and never collapse into one of the expected kinds.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the outcomes of the access core.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidCredentials
	KindAccountDisabled
	KindRateLimited
	KindTokenInvalidOrExpired
	KindAccessDenied
	KindDuplicateRequest
	KindValidation
	KindInvalidState
	KindNotFound
	KindInfrastructure
)

var kindNames = map[Kind]string{
	KindInvalidCredentials:    "invalid_credentials",
	KindAccountDisabled:       "account_disabled",
	KindRateLimited:           "rate_limited",
	KindTokenInvalidOrExpired: "token_invalid_or_expired",
	KindAccessDenied:          "access_denied",
	KindDuplicateRequest:      "duplicate_request",
	KindValidation:            "validation_error",
	KindInvalidState:          "invalid_state",
	KindNotFound:              "not_found",
	KindInfrastructure:        "infrastructure_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the concrete error type returned by the core.
type Error struct {
	Kind    Kind
	Reason  string // AccessDenied: failing tier
	Field   string // ValidationError: offending input
	Message string
	Err     error // Infrastructure: underlying backend failure

	RetryAfter time.Duration // RateLimited: time until the window resets
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	switch {
	case e.Field != "":
		msg += " (" + e.Field + ")"
	case e.Reason != "":
		msg += " (" + e.Reason + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidCredentials    = &Error{Kind: KindInvalidCredentials}
	ErrAccountDisabled       = &Error{Kind: KindAccountDisabled}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
	ErrTokenInvalidOrExpired = &Error{Kind: KindTokenInvalidOrExpired}
	ErrAccessDenied          = &Error{Kind: KindAccessDenied}
	ErrDuplicateRequest      = &Error{Kind: KindDuplicateRequest}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInfrastructure        = &Error{Kind: KindInfrastructure}
)

// Denied reports an access denial for the given tier reason.
func Denied(reason string) error {
	return &Error{Kind: KindAccessDenied, Reason: reason}
}

// Invalid reports a rejected input field.
func Invalid(field, format string, args ...any) error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Limited reports an exhausted rate window that resets after retryAfter.
func Limited(retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter}
}

// NotFound reports an unknown entity.
func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what}
}

// InvalidState reports a workflow transition from the wrong state.
func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Infrastructure wraps a backend failure. A nil err yields nil.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInfrastructure, Message: op, Err: err}
}

// KindOf returns the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the denial reason carried by err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// FieldOf returns the validation field carried by err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// RetryAfterOf returns the retry hint carried by a RateLimited error.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
