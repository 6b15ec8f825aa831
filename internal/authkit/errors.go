package authkit

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure condition from the closed taxonomy.
type Code string

const (
	CodeInvalidCredentials    Code = "invalid_credentials"
	CodeUserNotFound          Code = "user_not_found"
	CodeUserAlreadyExists     Code = "user_already_exists"
	CodeEmailNotVerified      Code = "email_not_verified"
	CodeUnauthorized          Code = "unauthorized"
	CodeForbidden             Code = "forbidden"
	CodeInvalidToken          Code = "invalid_token"
	CodeTokenExpired          Code = "token_expired"
	CodeSessionExpired        Code = "session_expired"
	CodeProviderError         Code = "provider_error"
	CodeOAuthError            Code = "oauth_error"
	CodeValidationError       Code = "validation_error"
	CodeTooManyRequests       Code = "too_many_requests"
	CodeProviderNotConfigured Code = "provider_not_configured"
	CodeNotSupported          Code = "not_supported"
	CodeUnknown               Code = "unknown"
)

// Error is the shared taxonomy error. The status code is fixed by the
// factory that constructed it and the value is immutable afterward.
type Error struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	StatusCode int    `json:"-"`

	cause error
}

func (taxonomyError *Error) Error() string {
	return fmt.Sprintf("%s: %s", taxonomyError.Code, taxonomyError.Message)
}

// Unwrap exposes the original cause for errors.Is/As chains.
func (taxonomyError *Error) Unwrap() error {
	return taxonomyError.cause
}

// WithDetails returns a copy carrying the supplied details payload.
func (taxonomyError *Error) WithDetails(details any) *Error {
	clone := *taxonomyError
	clone.Details = details
	return &clone
}

func newError(code Code, statusCode int, message string, fallback string) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{Code: code, Message: message, StatusCode: statusCode}
}

// ErrInvalidCredentials reports a failed identifier/password check.
func ErrInvalidCredentials(message string) *Error {
	return newError(CodeInvalidCredentials, http.StatusUnauthorized, message, "invalid credentials")
}

// ErrUserNotFound reports a lookup for an unknown user.
func ErrUserNotFound(message string) *Error {
	return newError(CodeUserNotFound, http.StatusNotFound, message, "user not found")
}

// ErrUserAlreadyExists reports a duplicate registration.
func ErrUserAlreadyExists(message string) *Error {
	return newError(CodeUserAlreadyExists, http.StatusConflict, message, "user already exists")
}

// ErrEmailNotVerified reports a sign-in blocked on email confirmation.
func ErrEmailNotVerified(message string) *Error {
	return newError(CodeEmailNotVerified, http.StatusForbidden, message, "email not verified")
}

// ErrUnauthorized reports a request with no usable credential.
func ErrUnauthorized(message string) *Error {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, "authentication required")
}

// ErrForbidden reports a credential lacking a required role or permission.
func ErrForbidden(message string) *Error {
	return newError(CodeForbidden, http.StatusForbidden, message, "access denied")
}

// ErrInvalidToken reports a malformed or unverifiable token.
func ErrInvalidToken(message string) *Error {
	return newError(CodeInvalidToken, http.StatusUnauthorized, message, "invalid token")
}

// ErrTokenExpired reports a token past its expiry.
func ErrTokenExpired(message string) *Error {
	return newError(CodeTokenExpired, http.StatusUnauthorized, message, "token expired")
}

// ErrSessionExpired reports a session past its window.
func ErrSessionExpired(message string) *Error {
	return newError(CodeSessionExpired, http.StatusUnauthorized, message, "session expired")
}

// ErrProvider wraps an upstream backend failure, retaining the cause.
func ErrProvider(message string, cause error) *Error {
	taxonomyError := newError(CodeProviderError, http.StatusInternalServerError, message, "provider error")
	taxonomyError.cause = cause
	if cause != nil {
		taxonomyError.Details = cause.Error()
	}
	return taxonomyError
}

// ErrOAuth reports a failure inside an OAuth hand-off.
func ErrOAuth(message string, cause error) *Error {
	taxonomyError := newError(CodeOAuthError, http.StatusBadGateway, message, "oauth error")
	taxonomyError.cause = cause
	if cause != nil {
		taxonomyError.Details = cause.Error()
	}
	return taxonomyError
}

// ErrValidation reports malformed caller input.
func ErrValidation(message string) *Error {
	return newError(CodeValidationError, http.StatusBadRequest, message, "validation failed")
}

// ErrTooManyRequests reports backend rate limiting.
func ErrTooManyRequests(message string) *Error {
	return newError(CodeTooManyRequests, http.StatusTooManyRequests, message, "too many requests")
}

// ErrProviderNotConfigured reports a selected provider with no options block.
func ErrProviderNotConfigured(message string) *Error {
	return newError(CodeProviderNotConfigured, http.StatusInternalServerError, message, "provider not configured")
}

// ErrNotSupported reports an operation the active backend cannot perform.
func ErrNotSupported(message string) *Error {
	return newError(CodeNotSupported, http.StatusNotImplemented, message, "operation not supported")
}

// ErrUnknown wraps an unclassifiable failure.
func ErrUnknown(message string, cause error) *Error {
	taxonomyError := newError(CodeUnknown, http.StatusInternalServerError, message, "unknown error")
	taxonomyError.cause = cause
	return taxonomyError
}

// AsError coerces any error into the taxonomy. Taxonomy errors pass through
// untouched; everything else becomes a provider error wrapping the cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var taxonomyError *Error
	if errors.As(err, &taxonomyError) {
		return taxonomyError
	}
	return ErrProvider(err.Error(), err)
}
