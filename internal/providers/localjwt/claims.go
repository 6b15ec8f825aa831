package localjwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mprlab/authbridge/internal/authkit"
)

// SessionClaims are embedded in self-issued access tokens.
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserAvatarURL   string   `json:"user_avatar_url"`
	UserRoles       []string `json:"user_roles"`
	UserPermissions []string `json:"user_permissions"`
	jwt.RegisteredClaims
}

// User rebuilds the normalized identity from the claims.
func (claims *SessionClaims) User() *authkit.User {
	user := &authkit.User{
		ID:          claims.UserID,
		Email:       claims.UserEmail,
		DisplayName: claims.UserDisplayName,
		AvatarURL:   claims.UserAvatarURL,
		Roles:       append([]string{}, claims.UserRoles...),
		Permissions: append([]string{}, claims.UserPermissions...),
	}
	user.Normalize()
	return user
}

// MintAccessToken creates a signed HS256 access token for the user.
func MintAccessToken(user *authkit.User, issuer string, signingKey []byte, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:          user.ID,
		UserEmail:       user.Email,
		UserDisplayName: user.DisplayName,
		UserAvatarURL:   user.AvatarURL,
		UserRoles:       user.Roles,
		UserPermissions: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}

// ParseAccessToken verifies the signature, issuer, and time bounds.
func ParseAccessToken(tokenString string, issuer string, signingKey []byte, now func() time.Time) (*SessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(now))
	if parseErr != nil {
		return nil, parseErr
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Issuer != issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	return claims, nil
}
