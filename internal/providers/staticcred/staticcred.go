// Package staticcred implements the provider contract over a fixed
// credential list with no durable user store. Sessions expire on a sliding
// window: the timeout is measured from last activity and refreshed on each
// successful read, not from a fixed issue time.
package staticcred

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/credstore"
)

// DefaultSessionTimeout applies when Options.SessionTimeout is zero.
const DefaultSessionTimeout = 30 * time.Minute

// Credential is one entry of the static list.
type Credential struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Roles       []string
	Permissions []string
	Metadata    map[string]any
}

// Options configure the adapter. The struct is snapshot at construction.
type Options struct {
	Users          []Credential
	SessionTimeout time.Duration
	Store          credstore.Store
	Clock          authkit.Clock
	Logger         *zap.Logger
}

// Provider authenticates against the static list.
type Provider struct {
	users   []Credential
	timeout time.Duration
	store   credstore.Store
	clock   authkit.Clock
	logger  *zap.Logger
}

// New constructs the adapter, merging defaults into the options.
func New(options Options) *Provider {
	timeout := options.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	store := options.Store
	if store == nil {
		store = credstore.NewMemory()
	}
	clock := options.Clock
	if clock == nil {
		clock = authkit.SystemClock{}
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		users:   append([]Credential(nil), options.Users...),
		timeout: timeout,
		store:   store,
		clock:   clock,
		logger:  logger,
	}
}

// Kind returns the static-credential discriminator.
func (provider *Provider) Kind() authkit.Kind {
	return authkit.KindStaticCred
}

// SignIn checks the identifier and password against the static list.
func (provider *Provider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	identifier := strings.TrimSpace(options.Identifier)
	if identifier == "" || options.Password == "" {
		return nil, authkit.ErrValidation("identifier and password are required")
	}

	matched, found := provider.matchCredential(identifier, options.Password)
	if !found {
		provider.logger.Debug("static sign-in rejected", zap.String("identifier", identifier))
		return nil, authkit.ErrInvalidCredentials("")
	}

	token, tokenErr := randomToken()
	if tokenErr != nil {
		return nil, authkit.ErrProvider("generating session token", tokenErr)
	}
	// The sliding deadline travels inside the stored session so it survives
	// a process restart when the store is durable.
	session := &authkit.Session{
		User:        credentialToUser(matched),
		AccessToken: token,
		ExpiresAt:   provider.clock.Now().Add(provider.timeout),
	}
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}

	userCopy := session.User
	return &authkit.Result{
		User:       &userCopy,
		Session:    session.Clone(),
		RedirectTo: options.RedirectTo,
	}, nil
}

// SignUp always fails: the static list has no durable user store. This is
// the contract, not a gap.
func (provider *Provider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("static credential provider cannot register users")
}

// SignOut clears the stored session. Repeated calls are no-ops.
func (provider *Provider) SignOut(ctx context.Context) {
	if clearErr := provider.store.Clear(ctx); clearErr != nil {
		provider.logger.Warn("static sign-out clear failed", zap.Error(clearErr))
	}
}

// CurrentUser applies the sliding-window check and returns the signed-in
// user, or nil when the session is absent or timed out.
func (provider *Provider) CurrentUser(ctx context.Context) *authkit.User {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

// CurrentSession loads the stored session, expiring it when the sliding
// window has lapsed and bumping the window otherwise.
func (provider *Provider) CurrentSession(ctx context.Context) *authkit.Session {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil {
		return nil
	}

	now := provider.clock.Now()
	if session.ExpiresAt.IsZero() || session.Expired(now) {
		_ = provider.store.Clear(ctx)
		return nil
	}

	session.ExpiresAt = now.Add(provider.timeout)
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		provider.logger.Warn("static session rewrite failed", zap.Error(saveErr))
	}
	return session
}

// AuthenticateToken accepts a request-carried token only when it matches the
// live stored session. The sliding window applies as on any other read.
func (provider *Provider) AuthenticateToken(ctx context.Context, token string) *authkit.User {
	if token == "" {
		return nil
	}
	session := provider.CurrentSession(ctx)
	if session == nil || !constantTimeEqual(session.AccessToken, token) {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

func (provider *Provider) matchCredential(identifier string, password string) (Credential, bool) {
	var matched Credential
	found := false
	for _, candidate := range provider.users {
		identifierOK := constantTimeEqual(candidate.Username, identifier) || constantTimeEqual(candidate.Email, identifier)
		passwordOK := constantTimeEqual(candidate.Password, password)
		if identifierOK && passwordOK && !found {
			matched = candidate
			found = true
		}
	}
	return matched, found
}

func credentialToUser(credential Credential) authkit.User {
	user := authkit.User{
		ID:          "static:" + credential.Username,
		Email:       credential.Email,
		DisplayName: credential.DisplayName,
		Roles:       append([]string{}, credential.Roles...),
		Permissions: append([]string{}, credential.Permissions...),
		Metadata:    credential.Metadata,
	}
	user.Normalize()
	return user
}

func constantTimeEqual(a string, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomToken() (string, error) {
	buffer := make([]byte, 32)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("staticcred.random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
