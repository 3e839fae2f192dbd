// Package apperr defines the error kinds surfaced to the HTTP boundary.
//
// Every kind maps to exactly one status code and its string value is the
// stable "type" field of the rendered error body.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindTokenInvalid       Kind = "TokenError"
	KindTokenRevoked       Kind = "TokenRevokedError"
	KindTokenExpired       Kind = "TokenExpiredError"
	KindUserNotFound       Kind = "UserNotFound"
	KindEmailExists        Kind = "EmailAlreadyExists"
	KindRateLimited        Kind = "RateLimitExceeded"
	KindValidation         Kind = "ValidationError"
	KindInternal           Kind = "InternalError"
)

// Error is a typed application error. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, TokenRevoked())
// works regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// InvalidCredentials never varies its message by cause.
func InvalidCredentials() *Error {
	return New(KindInvalidCredentials, "Invalid email or password")
}

func TokenInvalid(message string) *Error {
	if message == "" {
		message = "Invalid or expired token"
	}
	return New(KindTokenInvalid, message)
}

func TokenRevoked() *Error {
	return New(KindTokenRevoked, "Token has been revoked")
}

func TokenExpired() *Error {
	return New(KindTokenExpired, "Token has expired")
}

func UserNotFound(identifier string) *Error {
	return New(KindUserNotFound, fmt.Sprintf("User with id '%s' not found", identifier))
}

func EmailAlreadyExists(email string) *Error {
	return New(KindEmailExists, fmt.Sprintf("Email '%s' is already registered", email))
}

func RateLimited() *Error {
	return New(KindRateLimited, "Too many requests, try again later")
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindInvalidCredentials, KindTokenInvalid, KindTokenRevoked, KindTokenExpired:
		return http.StatusUnauthorized
	case KindUserNotFound:
		return http.StatusNotFound
	case KindEmailExists:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
