// Package tokenstore persists rotating opaque refresh tokens. Only a
// SHA-256 hash of the opaque value is stored; the plaintext exists exactly
// once, in the response that issued it.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no refresh token matched the provided identifier.
	ErrNotFound = errors.New("tokenstore.not_found")
	// ErrRevoked indicates the refresh token has been revoked.
	ErrRevoked = errors.New("tokenstore.revoked")
	// ErrExpired indicates the refresh token has exceeded its expiry.
	ErrExpired = errors.New("tokenstore.expired")
	// ErrAlreadyRevoked signals a revoke call on an already-revoked token.
	ErrAlreadyRevoked = errors.New("tokenstore.already_revoked")
	// ErrEmptyOpaque indicates the provided opaque token text is empty.
	ErrEmptyOpaque = errors.New("tokenstore.empty_token")
)

// Token is the validated view of a stored refresh token.
type Token struct {
	ID          string
	UserID      string
	ExpiresAt   time.Time
	RotatedFrom string
}

// Store manages long-lived refresh tokens. Issue links the new token to the
// one it rotates from so a stolen-then-replayed ancestor is detectable.
type Store interface {
	Issue(ctx context.Context, userID string, expiresAt time.Time, rotatedFrom string) (tokenID string, opaque string, err error)
	Validate(ctx context.Context, opaque string) (Token, error)
	Revoke(ctx context.Context, tokenID string) error
}
