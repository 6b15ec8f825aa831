package oidcidp

import (
	"context"
	"strings"
	"time"

	"google.golang.org/api/idtoken"

	"github.com/mprlab/authbridge/internal/authkit"
)

// GoogleTokenValidator verifies a Google-signed ID token assertion.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

type googleValidatorAdapter struct {
	validator *idtoken.Validator
}

func (adapter googleValidatorAdapter) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return adapter.validator.Validate(ctx, token, audience)
}

// newGoogleTokenValidator is swappable so tests can assert without Google's
// certificate endpoints.
var newGoogleTokenValidator = func(ctx context.Context) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, err
	}
	return googleValidatorAdapter{validator: validator}, nil
}

// AssertGoogleIDToken signs in directly from a Google ID-token assertion,
// bypassing the redirect flow. Used by native clients that obtain the token
// through Google's own SDKs.
func (provider *Provider) AssertGoogleIDToken(ctx context.Context, rawToken string) (*authkit.Result, error) {
	if provider.googleClientID == "" {
		return nil, authkit.ErrProviderNotConfigured("google assertion requires a google client id")
	}
	if strings.TrimSpace(rawToken) == "" {
		return nil, authkit.ErrValidation("google id token is required")
	}
	validator, validatorErr := newGoogleTokenValidator(ctx)
	if validatorErr != nil {
		return nil, authkit.ErrProvider("building google validator", validatorErr)
	}
	payload, validateErr := validator.Validate(ctx, rawToken, provider.googleClientID)
	if validateErr != nil {
		return nil, authkit.ErrInvalidToken("google id token rejected")
	}

	issuer, _ := payload.Claims["iss"].(string)
	if issuer != "https://accounts.google.com" && issuer != "accounts.google.com" {
		return nil, authkit.ErrInvalidToken("google id token issuer rejected")
	}
	subject, _ := payload.Claims["sub"].(string)
	email, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if subject == "" || email == "" || !emailVerified {
		return nil, authkit.ErrEmailNotVerified("google identity is unverified")
	}

	user := provider.claimsToUser("google:"+subject, payload.Claims)
	user.EmailVerified = true
	session := &authkit.Session{
		User:        *user,
		AccessToken: rawToken,
		ExpiresAt:   provider.clock.Now().Add(time.Hour),
	}
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone()}, nil
}
