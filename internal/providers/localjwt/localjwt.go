// Package localjwt implements the provider contract with self-issued HS256
// session tokens over a pluggable user directory. Refresh credentials are
// opaque tokens rotated on every use.
package localjwt

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/credstore"
	"github.com/mprlab/authbridge/internal/directory"
	"github.com/mprlab/authbridge/internal/tokenstore"
)

// Default token lifetimes, matching the usual short-access/long-refresh split.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 60 * 24 * time.Hour
)

// Options configure the adapter; snapshot at construction.
type Options struct {
	SigningKey    []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Directory     directory.Directory
	RefreshTokens tokenstore.Store
	Store         credstore.Store
	Clock         authkit.Clock
	Logger        *zap.Logger
}

// Provider issues and verifies its own session tokens.
type Provider struct {
	signingKey    []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	directory     directory.Directory
	refreshTokens tokenstore.Store
	store         credstore.Store
	clock         authkit.Clock
	logger        *zap.Logger
}

// New constructs the adapter, merging defaults into the options.
func New(options Options) (*Provider, error) {
	if len(options.SigningKey) == 0 {
		return nil, authkit.ErrProviderNotConfigured("jwt provider requires a signing key")
	}
	if strings.TrimSpace(options.Issuer) == "" {
		return nil, authkit.ErrProviderNotConfigured("jwt provider requires an issuer")
	}
	if options.Directory == nil {
		return nil, authkit.ErrProviderNotConfigured("jwt provider requires a user directory")
	}
	accessTTL := options.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := options.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	refreshTokens := options.RefreshTokens
	if refreshTokens == nil {
		refreshTokens = tokenstore.NewMemoryStore()
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
		signingKey:    options.SigningKey,
		issuer:        options.Issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		directory:     options.Directory,
		refreshTokens: refreshTokens,
		store:         store,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Kind returns the local-JWT discriminator.
func (provider *Provider) Kind() authkit.Kind {
	return authkit.KindLocalJWT
}

// SignIn authenticates against the directory and issues a token pair.
func (provider *Provider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	identifier := strings.TrimSpace(options.Identifier)
	if identifier == "" || options.Password == "" {
		return nil, authkit.ErrValidation("identifier and password are required")
	}
	user, authErr := provider.directory.Authenticate(ctx, identifier, options.Password)
	if authErr != nil {
		return nil, provider.translateDirectoryError(authErr)
	}
	session, issueErr := provider.issueSession(ctx, user)
	if issueErr != nil {
		return nil, issueErr
	}
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone(), RedirectTo: options.RedirectTo}, nil
}

// SignUp registers a new user and signs it in immediately.
func (provider *Provider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	if strings.TrimSpace(options.Email) == "" || options.Password == "" {
		return nil, authkit.ErrValidation("email and password are required")
	}
	user, createErr := provider.directory.Create(ctx, directory.NewUser{
		Email:       options.Email,
		Password:    options.Password,
		DisplayName: options.DisplayName,
		Metadata:    options.Metadata,
	})
	if createErr != nil {
		return nil, provider.translateDirectoryError(createErr)
	}
	session, issueErr := provider.issueSession(ctx, user)
	if issueErr != nil {
		return nil, issueErr
	}
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone(), RedirectTo: options.RedirectTo}, nil
}

// SignOut revokes the current refresh token best-effort and clears the
// stored session.
func (provider *Provider) SignOut(ctx context.Context) {
	session, loadErr := provider.store.Load(ctx)
	if loadErr == nil && session != nil && session.RefreshToken != "" {
		if token, validateErr := provider.refreshTokens.Validate(ctx, session.RefreshToken); validateErr == nil {
			if revokeErr := provider.refreshTokens.Revoke(ctx, token.ID); revokeErr != nil {
				provider.logger.Debug("refresh revoke on sign-out failed", zap.Error(revokeErr))
			}
		}
	}
	if clearErr := provider.store.Clear(ctx); clearErr != nil {
		provider.logger.Warn("jwt sign-out clear failed", zap.Error(clearErr))
	}
}

// CurrentUser returns the identity carried by a still-valid access token.
func (provider *Provider) CurrentUser(ctx context.Context) *authkit.User {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

// CurrentSession verifies the stored access token; any parse or expiry
// failure collapses to nil.
func (provider *Provider) CurrentSession(ctx context.Context) *authkit.Session {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil {
		return nil
	}
	claims, parseErr := ParseAccessToken(session.AccessToken, provider.issuer, provider.signingKey, provider.clock.Now)
	if parseErr != nil {
		return nil
	}
	session.User = *claims.User()
	return session
}

// AuthenticateToken verifies a request-carried access token and returns the
// identity minted into its claims, or nil when the token does not parse.
func (provider *Provider) AuthenticateToken(ctx context.Context, token string) *authkit.User {
	claims, parseErr := ParseAccessToken(token, provider.issuer, provider.signingKey, provider.clock.Now)
	if parseErr != nil {
		return nil
	}
	return claims.User()
}

// RefreshSession rotates the refresh token and mints a fresh access token.
func (provider *Provider) RefreshSession(ctx context.Context) (*authkit.Result, error) {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil || session.RefreshToken == "" {
		return nil, authkit.ErrSessionExpired("no refresh credential held")
	}
	token, validateErr := provider.refreshTokens.Validate(ctx, session.RefreshToken)
	if validateErr != nil {
		return nil, provider.translateRefreshError(validateErr)
	}
	user, lookupErr := provider.directory.Lookup(ctx, token.UserID)
	if lookupErr != nil {
		return nil, provider.translateDirectoryError(lookupErr)
	}

	rotated, rotateErr := provider.issueSessionRotated(ctx, user, token.ID)
	if rotateErr != nil {
		return nil, rotateErr
	}
	if revokeErr := provider.refreshTokens.Revoke(ctx, token.ID); revokeErr != nil {
		return nil, authkit.ErrProvider("revoking rotated refresh token", revokeErr)
	}
	userCopy := rotated.User
	return &authkit.Result{User: &userCopy, Session: rotated.Clone()}, nil
}

// UpdateUser applies a partial profile update and reissues the session so
// the token claims match the new profile.
func (provider *Provider) UpdateUser(ctx context.Context, update authkit.UserUpdate) (*authkit.User, error) {
	current := provider.CurrentUser(ctx)
	if current == nil {
		return nil, authkit.ErrUnauthorized("no active session")
	}
	updated, updateErr := provider.directory.Update(ctx, current.ID, update)
	if updateErr != nil {
		return nil, provider.translateDirectoryError(updateErr)
	}
	if _, issueErr := provider.issueSession(ctx, updated); issueErr != nil {
		return nil, issueErr
	}
	return updated, nil
}

// DeleteUser removes the signed-in user and discards the session.
func (provider *Provider) DeleteUser(ctx context.Context) error {
	current := provider.CurrentUser(ctx)
	if current == nil {
		return authkit.ErrUnauthorized("no active session")
	}
	if deleteErr := provider.directory.Delete(ctx, current.ID); deleteErr != nil {
		return provider.translateDirectoryError(deleteErr)
	}
	provider.SignOut(ctx)
	return nil
}

func (provider *Provider) issueSession(ctx context.Context, user *authkit.User) (*authkit.Session, error) {
	return provider.issueSessionRotated(ctx, user, "")
}

func (provider *Provider) issueSessionRotated(ctx context.Context, user *authkit.User, rotatedFrom string) (*authkit.Session, error) {
	now := provider.clock.Now()
	accessToken, expiresAt, mintErr := MintAccessToken(user, provider.issuer, provider.signingKey, now, provider.accessTTL)
	if mintErr != nil {
		return nil, authkit.ErrProvider("minting access token", mintErr)
	}
	_, refreshOpaque, issueErr := provider.refreshTokens.Issue(ctx, user.ID, now.Add(provider.refreshTTL), rotatedFrom)
	if issueErr != nil {
		return nil, authkit.ErrProvider("issuing refresh token", issueErr)
	}
	session := &authkit.Session{
		User:         *user.Clone(),
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		ExpiresAt:    expiresAt,
	}
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	return session, nil
}

func (provider *Provider) translateDirectoryError(err error) error {
	switch {
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, directory.ErrBadPassword):
		// Both collapse to one code so responses do not reveal which
		// accounts exist.
		return authkit.ErrInvalidCredentials("")
	case errors.Is(err, directory.ErrExists):
		return authkit.ErrUserAlreadyExists("")
	default:
		return authkit.ErrProvider("user directory failure", err)
	}
}

func (provider *Provider) translateRefreshError(err error) error {
	switch {
	case errors.Is(err, tokenstore.ErrExpired):
		return authkit.ErrTokenExpired("refresh token expired")
	case errors.Is(err, tokenstore.ErrRevoked), errors.Is(err, tokenstore.ErrNotFound), errors.Is(err, tokenstore.ErrEmptyOpaque):
		return authkit.ErrInvalidToken("refresh token rejected")
	default:
		return authkit.ErrProvider("refresh token store failure", err)
	}
}
