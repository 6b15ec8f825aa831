package tokenstorepg

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mprlab/authbridge/internal/tokenstore"
)

// Store persists rotating refresh tokens in PostgreSQL via pgx.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Postgres-backed store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Issue inserts a new token row and returns token id and opaque token.
func (store *Store) Issue(ctx context.Context, userID string, expiresAt time.Time, rotatedFrom string) (string, string, error) {
	now := time.Now().UTC()
	tokenID := base64.RawURLEncoding.EncodeToString([]byte(now.Format(time.RFC3339Nano)))
	opaque, hashValue, err := randomOpaque()
	if err != nil {
		return "", "", fmt.Errorf("tokenstorepg.issue: %w", err)
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_unix, revoked_at_unix, rotated_from, issued_at_unix)
VALUES ($1, $2, $3, $4, 0, $5, $6)
`, tokenID, userID, hashValue, expiresAt.Unix(), rotatedFrom, now.Unix())
	if execErr != nil {
		return "", "", fmt.Errorf("tokenstorepg.issue: %w", execErr)
	}
	return tokenID, opaque, nil
}

// Validate checks the opaque token against the stored hash.
func (store *Store) Validate(ctx context.Context, opaque string) (tokenstore.Token, error) {
	if opaque == "" {
		return tokenstore.Token{}, fmt.Errorf("tokenstorepg.validate: %w", tokenstore.ErrEmptyOpaque)
	}
	var userID, tokenID, rotatedFrom string
	var expiresUnix, revokedAtUnix int64
	row := store.pool.QueryRow(ctx, `
SELECT user_id, token_id, expires_unix, revoked_at_unix, rotated_from
FROM refresh_tokens
WHERE token_hash = $1
`, hashOpaque(opaque))
	if scanErr := row.Scan(&userID, &tokenID, &expiresUnix, &revokedAtUnix, &rotatedFrom); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return tokenstore.Token{}, fmt.Errorf("tokenstorepg.validate: %w", tokenstore.ErrNotFound)
		}
		return tokenstore.Token{}, fmt.Errorf("tokenstorepg.validate: %w", scanErr)
	}
	if revokedAtUnix != 0 {
		return tokenstore.Token{}, fmt.Errorf("tokenstorepg.validate: %w", tokenstore.ErrRevoked)
	}
	expiresAt := time.Unix(expiresUnix, 0).UTC()
	if expiresAt.Before(time.Now().UTC()) {
		return tokenstore.Token{}, fmt.Errorf("tokenstorepg.validate: %w", tokenstore.ErrExpired)
	}
	return tokenstore.Token{
		ID:          tokenID,
		UserID:      userID,
		ExpiresAt:   expiresAt,
		RotatedFrom: rotatedFrom,
	}, nil
}

// Revoke marks a token as revoked.
func (store *Store) Revoke(ctx context.Context, tokenID string) error {
	tag, err := store.pool.Exec(ctx, `
UPDATE refresh_tokens
SET revoked_at_unix = $1
WHERE token_id = $2 AND revoked_at_unix = 0
`, time.Now().UTC().Unix(), tokenID)
	if err != nil {
		return fmt.Errorf("tokenstorepg.revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var revokedAtUnix int64
		scanErr := store.pool.QueryRow(ctx, `
SELECT revoked_at_unix FROM refresh_tokens WHERE token_id = $1
`, tokenID).Scan(&revokedAtUnix)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fmt.Errorf("tokenstorepg.revoke: %w", tokenstore.ErrNotFound)
		}
		if scanErr != nil {
			return fmt.Errorf("tokenstorepg.revoke: %w", scanErr)
		}
		if revokedAtUnix != 0 {
			return fmt.Errorf("tokenstorepg.revoke: %w", tokenstore.ErrAlreadyRevoked)
		}
	}
	return nil
}

func randomOpaque() (string, string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", err
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
