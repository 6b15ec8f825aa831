package authkit

import (
	"context"
	"fmt"
	"strings"
)

// Kind discriminates between the concrete provider implementations. The set
// is closed; selection is an exhaustive switch, never a string lookup.
type Kind string

const (
	// KindStaticCred authenticates against a fixed in-memory credential list.
	KindStaticCred Kind = "static"
	// KindLocalJWT issues and verifies its own HS256 session tokens.
	KindLocalJWT Kind = "jwt"
	// KindHosted delegates to a hosted BaaS auth API over REST.
	KindHosted Kind = "hosted"
	// KindDatabase keeps credentials and server-side sessions in a SQL database.
	KindDatabase Kind = "database"
	// KindSessionService keeps opaque sessions in a shared Redis keyspace.
	KindSessionService Kind = "session"
	// KindOIDC defers identity to a managed OpenID Connect platform.
	KindOIDC Kind = "oidc"
)

// Kinds lists every supported discriminator in auto-detect preference order.
func Kinds() []Kind {
	return []Kind{KindHosted, KindLocalJWT, KindDatabase, KindSessionService, KindOIDC, KindStaticCred}
}

// ParseKind maps a configuration string onto the closed Kind set. Unknown
// values fail fast; a misspelled discriminator is a deployment error, not a
// condition to recover from.
func ParseKind(value string) (Kind, error) {
	candidate := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Kinds() {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("authkit.parse_kind: unknown provider kind %q", value)
}

// Provider is the contract every backend adapter implements. Adapters are
// self-contained: they snapshot their options at construction and share no
// state with each other, so swapping providers is swapping instances.
//
// Mutating operations return the taxonomy error type for expected failures.
// Read operations (CurrentUser, CurrentSession) never fail: absence of a
// valid session is an ordinary outcome reported as nil.
type Provider interface {
	Kind() Kind
	SignIn(ctx context.Context, options SignInOptions) (*Result, error)
	SignUp(ctx context.Context, options SignUpOptions) (*Result, error)
	// SignOut clears the locally held session and best-effort notifies the
	// backend. It never fails; backend errors are swallowed because the
	// local clear is the state the caller cares about.
	SignOut(ctx context.Context)
	CurrentUser(ctx context.Context) *User
	CurrentSession(ctx context.Context) *Session
}

// OAuthCapable providers can start a redirect-based OAuth flow.
type OAuthCapable interface {
	SignInWithOAuth(ctx context.Context, options OAuthOptions) (*Result, error)
}

// TokenRefresher providers can exchange their refresh credential for a
// fresh session.
type TokenRefresher interface {
	RefreshSession(ctx context.Context) (*Result, error)
}

// PasswordResetter providers can start a password reset for an email.
type PasswordResetter interface {
	ResetPassword(ctx context.Context, email string) error
}

// UserUpdater providers can apply partial profile updates.
type UserUpdater interface {
	UpdateUser(ctx context.Context, update UserUpdate) (*User, error)
}

// UserDeleter providers can delete the currently signed-in user.
type UserDeleter interface {
	DeleteUser(ctx context.Context) error
}

// TokenAuthenticator providers can resolve the identity behind a credential
// carried on an individual request, independent of the locally stored
// session. Read semantics apply: an unusable token resolves to nil, never an
// error.
type TokenAuthenticator interface {
	AuthenticateToken(ctx context.Context, token string) *User
}

// Watcher providers push session changes that originate outside a direct
// call, such as a background token refresh. Unsubscribe stops delivery.
type Watcher interface {
	Subscribe(func(*Session)) (unsubscribe func())
}
