// Package apperror defines the error taxonomy surfaced by the auth service.
// Every error returned to an HTTP caller is an *Error carrying a Kind; the
// Kind decides the status code and is echoed back in the response body so
// clients can branch on it without parsing messages.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindAuthentication  Kind = "AUTHENTICATION_ERROR"
	KindInvalidToken    Kind = "INVALID_TOKEN"
	KindExpiredToken    Kind = "EXPIRED_TOKEN"
	KindTooManyAttempts Kind = "TOO_MANY_ATTEMPTS"
	KindAlreadyConsumed Kind = "ALREADY_CONSUMED"
	KindExpired         Kind = "EXPIRED"
	KindInvalidCode     Kind = "INVALID_CODE"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindForbidden       Kind = "FORBIDDEN"
	KindInternal        Kind = "INTERNAL"
)

// Error is the structured error type of the service.
type Error struct {
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same Kind, so sentinels below work with
// errors.Is regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindAlreadyConsumed, KindExpired, KindInvalidCode:
		return http.StatusBadRequest
	case KindAuthentication, KindInvalidToken, KindExpiredToken:
		return http.StatusUnauthorized
	case KindTooManyAttempts:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) *Error     { return New(KindValidation, msg) }
func Authentication(msg string) *Error { return New(KindAuthentication, msg) }
func InvalidToken(msg string) *Error   { return New(KindInvalidToken, msg) }
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func Conflict(msg string) *Error       { return New(KindConflict, msg) }
func Forbidden(msg string) *Error      { return New(KindForbidden, msg) }
func Internal(cause error) *Error      { return Wrap(KindInternal, "internal error", cause) }

// Sentinels for errors.Is checks.
var (
	ErrValidation      = New(KindValidation, "validation failed")
	ErrAuthentication  = New(KindAuthentication, "authentication failed")
	ErrInvalidToken    = New(KindInvalidToken, "invalid token")
	ErrExpiredToken    = New(KindExpiredToken, "token expired")
	ErrTooManyAttempts = New(KindTooManyAttempts, "too many attempts")
	ErrAlreadyConsumed = New(KindAlreadyConsumed, "code already used")
	ErrExpired         = New(KindExpired, "code expired")
	ErrInvalidCode     = New(KindInvalidCode, "invalid code")
	ErrNotFound        = New(KindNotFound, "not found")
	ErrConflict        = New(KindConflict, "conflict")
	ErrForbidden       = New(KindForbidden, "forbidden")
	ErrInternal        = New(KindInternal, "internal error")
)

// As extracts the *Error from err. Errors that are not part of the taxonomy
// come back as an INTERNAL error wrapping them.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// KindOf returns the Kind of err. Foreign errors are KindInternal, nil is "".
func KindOf(err error) Kind {
	if ae := As(err); ae != nil {
		return ae.Kind
	}
	return ""
}
