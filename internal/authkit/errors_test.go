package authkit

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorFactoriesFixStatusCode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		build      func() *Error
		wantCode   Code
		wantStatus int
	}{
		{"invalid_credentials", func() *Error { return ErrInvalidCredentials("nope") }, CodeInvalidCredentials, http.StatusUnauthorized},
		{"user_not_found", func() *Error { return ErrUserNotFound("") }, CodeUserNotFound, http.StatusNotFound},
		{"user_already_exists", func() *Error { return ErrUserAlreadyExists("taken") }, CodeUserAlreadyExists, http.StatusConflict},
		{"email_not_verified", func() *Error { return ErrEmailNotVerified("") }, CodeEmailNotVerified, http.StatusForbidden},
		{"unauthorized", func() *Error { return ErrUnauthorized("") }, CodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", func() *Error { return ErrForbidden("") }, CodeForbidden, http.StatusForbidden},
		{"invalid_token", func() *Error { return ErrInvalidToken("") }, CodeInvalidToken, http.StatusUnauthorized},
		{"token_expired", func() *Error { return ErrTokenExpired("") }, CodeTokenExpired, http.StatusUnauthorized},
		{"session_expired", func() *Error { return ErrSessionExpired("") }, CodeSessionExpired, http.StatusUnauthorized},
		{"provider_error", func() *Error { return ErrProvider("", nil) }, CodeProviderError, http.StatusInternalServerError},
		{"oauth_error", func() *Error { return ErrOAuth("", nil) }, CodeOAuthError, http.StatusBadGateway},
		{"validation_error", func() *Error { return ErrValidation("") }, CodeValidationError, http.StatusBadRequest},
		{"too_many_requests", func() *Error { return ErrTooManyRequests("") }, CodeTooManyRequests, http.StatusTooManyRequests},
		{"provider_not_configured", func() *Error { return ErrProviderNotConfigured("") }, CodeProviderNotConfigured, http.StatusInternalServerError},
		{"not_supported", func() *Error { return ErrNotSupported("") }, CodeNotSupported, http.StatusNotImplemented},
		{"unknown", func() *Error { return ErrUnknown("", nil) }, CodeUnknown, http.StatusInternalServerError},
	}
	for _, testCase := range cases {
		built := testCase.build()
		if built.Code != testCase.wantCode {
			t.Fatalf("%s: code = %q, want %q", testCase.name, built.Code, testCase.wantCode)
		}
		if built.StatusCode != testCase.wantStatus {
			t.Fatalf("%s: status = %d, want %d", testCase.name, built.StatusCode, testCase.wantStatus)
		}
	}
}

func TestErrorMessageFallback(t *testing.T) {
	t.Parallel()
	withMessage := ErrUserAlreadyExists("email taken")
	if withMessage.Message != "email taken" {
		t.Fatalf("message = %q", withMessage.Message)
	}
	withoutMessage := ErrUserAlreadyExists("")
	if withoutMessage.Message == "" {
		t.Fatalf("expected fallback message")
	}
	if withoutMessage.StatusCode != http.StatusConflict || withoutMessage.Code != CodeUserAlreadyExists {
		t.Fatalf("fallback changed code or status: %+v", withoutMessage)
	}
}

func TestAsErrorPassthroughAndWrap(t *testing.T) {
	t.Parallel()
	if AsError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}

	original := ErrInvalidCredentials("bad password")
	wrapped := AsError(original)
	if wrapped != original {
		t.Fatalf("taxonomy errors must pass through unchanged")
	}

	cause := errors.New("connection reset")
	coerced := AsError(cause)
	if coerced.Code != CodeProviderError {
		t.Fatalf("code = %q, want provider_error", coerced.Code)
	}
	if !errors.Is(coerced, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	if coerced.Details == nil {
		t.Fatalf("expected raw cause retained in details")
	}
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	t.Parallel()
	inner := ErrTokenExpired("stale")
	outer := AsError(inner)
	var taxonomyError *Error
	if !errors.As(outer, &taxonomyError) || taxonomyError.Code != CodeTokenExpired {
		t.Fatalf("errors.As lost the taxonomy error: %v", outer)
	}
}
