// Package oidcidp implements the provider contract against a managed OpenID
// Connect platform. Identity lives upstream; this adapter runs the
// authorization-code flow, verifies ID tokens, and holds the resulting
// session. Password operations are not supported here.
package oidcidp

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/credstore"
)

// DefaultFlowTTL bounds how long an authorization redirect may stay pending.
const DefaultFlowTTL = 10 * time.Minute

// Options configure the adapter; snapshot at construction.
type Options struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// RolesClaim and PermissionsClaim name the ID-token claims carrying the
	// authorization sets. Empty claims leave the sets empty.
	RolesClaim       string
	PermissionsClaim string
	// GoogleClientID enables the direct Google ID-token assertion path when set.
	GoogleClientID string
	Flows          FlowStore
	FlowTTL        time.Duration
	Store          credstore.Store
	Clock          authkit.Clock
	Logger         *zap.Logger
}

// Provider defers identity to the upstream OIDC platform.
type Provider struct {
	oidcProvider     *gooidc.Provider
	verifier         *gooidc.IDTokenVerifier
	oauthConfig      *oauth2.Config
	rolesClaim       string
	permissionsClaim string
	googleClientID   string
	flows            FlowStore
	store            credstore.Store
	clock            authkit.Clock
	logger           *zap.Logger
}

// New performs discovery against the issuer and wires the code flow.
func New(ctx context.Context, options Options) (*Provider, error) {
	if strings.TrimSpace(options.IssuerURL) == "" {
		return nil, authkit.ErrProviderNotConfigured("oidc provider requires an issuer URL")
	}
	if strings.TrimSpace(options.ClientID) == "" {
		return nil, authkit.ErrProviderNotConfigured("oidc provider requires a client id")
	}
	if strings.TrimSpace(options.RedirectURL) == "" {
		return nil, authkit.ErrProviderNotConfigured("oidc provider requires a redirect URL")
	}

	issuer := strings.TrimSuffix(strings.TrimSpace(options.IssuerURL), "/")
	oidcProvider, discoverErr := gooidc.NewProvider(ctx, issuer)
	if discoverErr != nil {
		return nil, authkit.ErrProvider("oidc discovery failed", discoverErr)
	}

	scopes := options.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}
	flowTTL := options.FlowTTL
	if flowTTL <= 0 {
		flowTTL = DefaultFlowTTL
	}
	flows := options.Flows
	if flows == nil {
		flows = NewMemoryFlowStore(flowTTL)
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
		oidcProvider: oidcProvider,
		verifier:     oidcProvider.Verifier(&gooidc.Config{ClientID: options.ClientID}),
		oauthConfig: &oauth2.Config{
			ClientID:     options.ClientID,
			ClientSecret: options.ClientSecret,
			RedirectURL:  options.RedirectURL,
			Scopes:       scopes,
			Endpoint:     oidcProvider.Endpoint(),
		},
		rolesClaim:       options.RolesClaim,
		permissionsClaim: options.PermissionsClaim,
		googleClientID:   options.GoogleClientID,
		flows:            flows,
		store:            store,
		clock:            clock,
		logger:           logger,
	}, nil
}

// Kind returns the managed-OIDC discriminator.
func (provider *Provider) Kind() authkit.Kind {
	return authkit.KindOIDC
}

// SignIn is not supported; identity lives at the upstream platform.
func (provider *Provider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("oidc provider authenticates via the OAuth redirect flow")
}

// SignUp is not supported; registration happens at the upstream platform.
func (provider *Provider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("oidc provider registers users at the identity platform")
}

// SignInWithOAuth starts the authorization-code flow. The result carries the
// upstream authorization URL; no user or session exists yet.
func (provider *Provider) SignInWithOAuth(ctx context.Context, options authkit.OAuthOptions) (*authkit.Result, error) {
	nonce, nonceErr := randomToken(32)
	if nonceErr != nil {
		return nil, authkit.ErrProvider("generating nonce", nonceErr)
	}
	state, issueErr := provider.flows.Issue(ctx, FlowState{Nonce: nonce, RedirectTo: options.RedirectTo})
	if issueErr != nil {
		return nil, authkit.ErrProvider("issuing flow state", issueErr)
	}
	authURL := provider.oauthConfig.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	return &authkit.Result{RedirectTo: authURL}, nil
}

// ExchangeCode completes the flow at the callback. The state token is
// consumed exactly once; a replayed or forged state is rejected before any
// upstream call.
func (provider *Provider) ExchangeCode(ctx context.Context, code string, state string) (*authkit.Result, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return nil, authkit.ErrValidation("code and state are required")
	}
	flow, consumeErr := provider.flows.Consume(ctx, state)
	if consumeErr != nil {
		if errors.Is(consumeErr, ErrFlowExpired) {
			return nil, authkit.ErrTokenExpired("authorization flow expired")
		}
		return nil, authkit.ErrInvalidToken("authorization state rejected")
	}

	token, exchangeErr := provider.oauthConfig.Exchange(ctx, code)
	if exchangeErr != nil {
		return nil, authkit.ErrOAuth("code exchange failed", exchangeErr)
	}
	user, verifyErr := provider.verifyIDToken(ctx, token, flow.Nonce)
	if verifyErr != nil {
		return nil, verifyErr
	}

	session := provider.buildSession(user, token)
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone(), RedirectTo: flow.RedirectTo}, nil
}

// SignOut clears the local session. The upstream platform keeps its own
// single-sign-on state; ending that is a browser redirect out of scope here.
func (provider *Provider) SignOut(ctx context.Context) {
	if clearErr := provider.store.Clear(ctx); clearErr != nil {
		provider.logger.Warn("oidc sign-out clear failed", zap.Error(clearErr))
	}
}

// CurrentUser returns the locally held identity, or nil.
func (provider *Provider) CurrentUser(ctx context.Context) *authkit.User {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

// CurrentSession returns the stored session unless it has expired.
func (provider *Provider) CurrentSession(ctx context.Context) *authkit.Session {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil {
		return nil
	}
	if session.Expired(provider.clock.Now()) {
		return nil
	}
	return session
}

// AuthenticateToken accepts a request-carried token only when it matches the
// locally held session's access token. Arbitrary upstream access tokens are
// not introspected here.
func (provider *Provider) AuthenticateToken(ctx context.Context, token string) *authkit.User {
	if token == "" {
		return nil
	}
	session := provider.CurrentSession(ctx)
	if session == nil || subtle.ConstantTimeCompare([]byte(session.AccessToken), []byte(token)) != 1 {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

// RefreshSession redeems the upstream refresh token for a fresh token set.
func (provider *Provider) RefreshSession(ctx context.Context) (*authkit.Result, error) {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil || session.RefreshToken == "" {
		return nil, authkit.ErrSessionExpired("no refresh credential held")
	}
	tokenSource := provider.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: session.RefreshToken})
	token, refreshErr := tokenSource.Token()
	if refreshErr != nil {
		return nil, authkit.ErrOAuth("token refresh failed", refreshErr)
	}

	user := &session.User
	// Refresh responses may or may not carry a new ID token.
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		verified, verifyErr := provider.verifyIDToken(ctx, token, "")
		if verifyErr != nil {
			return nil, verifyErr
		}
		user = verified
	}

	refreshed := provider.buildSession(user, token)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = session.RefreshToken
	}
	if saveErr := provider.store.Save(ctx, refreshed); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	userCopy := refreshed.User
	return &authkit.Result{User: &userCopy, Session: refreshed.Clone()}, nil
}

func (provider *Provider) verifyIDToken(ctx context.Context, token *oauth2.Token, expectedNonce string) (*authkit.User, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, authkit.ErrOAuth("token response missing id_token", errors.New("oidcidp: no id_token"))
	}
	idToken, verifyErr := provider.verifier.Verify(ctx, rawIDToken)
	if verifyErr != nil {
		return nil, authkit.ErrInvalidToken("id token verification failed")
	}
	if expectedNonce != "" && idToken.Nonce != expectedNonce {
		return nil, authkit.ErrInvalidToken("id token nonce mismatch")
	}

	var claims map[string]any
	if claimsErr := idToken.Claims(&claims); claimsErr != nil {
		return nil, authkit.ErrOAuth("decoding id token claims", claimsErr)
	}
	return provider.claimsToUser(idToken.Subject, claims), nil
}

func (provider *Provider) claimsToUser(subject string, claims map[string]any) *authkit.User {
	user := &authkit.User{ID: subject}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		user.EmailVerified = verified
	}
	if name, ok := claims["name"].(string); ok {
		user.DisplayName = name
	}
	if picture, ok := claims["picture"].(string); ok {
		user.AvatarURL = picture
	}
	if provider.rolesClaim != "" {
		user.Roles = stringSliceClaim(claims[provider.rolesClaim])
	}
	if provider.permissionsClaim != "" {
		user.Permissions = stringSliceClaim(claims[provider.permissionsClaim])
	}
	user.Normalize()
	return user
}

func (provider *Provider) buildSession(user *authkit.User, token *oauth2.Token) *authkit.Session {
	session := &authkit.Session{
		User:         *user.Clone(),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		session.ExpiresAt = token.Expiry
	} else {
		session.ExpiresAt = provider.clock.Now().Add(time.Hour)
	}
	return session
}

func stringSliceClaim(value any) []string {
	switch typed := value.(type) {
	case []string:
		return append([]string{}, typed...)
	case []any:
		result := make([]string, 0, len(typed))
		for _, item := range typed {
			if text, ok := item.(string); ok {
				result = append(result, text)
			}
		}
		return result
	case string:
		if typed == "" {
			return []string{}
		}
		return strings.Fields(typed)
	default:
		return []string{}
	}
}
