package guard

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mprlab/authbridge/internal/authkit"
)

// tokenProvider is a minimal backend whose only valid credential is a single
// known token. It also reports a signed-in user on its read paths so tests
// can verify the extractor ignores backend-held state.
type tokenProvider struct {
	user  *authkit.User
	token string
}

func (provider *tokenProvider) Kind() authkit.Kind { return authkit.KindStaticCred }

func (provider *tokenProvider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("test provider")
}

func (provider *tokenProvider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("test provider")
}

func (provider *tokenProvider) SignOut(ctx context.Context) {}

func (provider *tokenProvider) CurrentUser(ctx context.Context) *authkit.User {
	return provider.user
}

func (provider *tokenProvider) CurrentSession(ctx context.Context) *authkit.Session {
	if provider.user == nil {
		return nil
	}
	return &authkit.Session{User: *provider.user, AccessToken: provider.token}
}

func (provider *tokenProvider) AuthenticateToken(ctx context.Context, token string) *authkit.User {
	if token == "" || token != provider.token {
		return nil
	}
	userCopy := *provider.user
	return &userCopy
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()
	router := gin.New()
	var got string
	router.GET("/read-token", func(contextGin *gin.Context) {
		got = TokenFromRequest(contextGin, "sid")
		contextGin.Status(http.StatusNoContent)
	})

	perform(router, http.MethodGet, "/read-token", map[string]string{"Cookie": "sid=cookie-token"})
	if got != "cookie-token" {
		t.Fatalf("cookie credential not picked up: %q", got)
	}

	perform(router, http.MethodGet, "/read-token", map[string]string{"Authorization": "Bearer header-token"})
	if got != "header-token" {
		t.Fatalf("bearer credential not picked up: %q", got)
	}

	perform(router, http.MethodGet, "/read-token", map[string]string{
		"Cookie":        "sid=cookie-token",
		"Authorization": "Bearer header-token",
	})
	if got != "cookie-token" {
		t.Fatalf("cookie must win over the bearer header: %q", got)
	}

	perform(router, http.MethodGet, "/read-token", map[string]string{"Authorization": "bearer lowercase-token"})
	if got != "lowercase-token" {
		t.Fatalf("bearer scheme must match case-insensitively: %q", got)
	}

	perform(router, http.MethodGet, "/read-token", nil)
	if got != "" {
		t.Fatalf("credential-less request must yield no token: %q", got)
	}
}

func TestProviderTokenExtractorRequiresRequestCredential(t *testing.T) {
	t.Parallel()
	provider := &tokenProvider{
		user:  &authkit.User{ID: "u1", Roles: []string{"member"}},
		token: "valid-token",
	}
	compiled := New(Options{
		ProtectedPaths: []string{"/api/**"},
		Extractors:     []Extractor{ProviderTokenExtractor(provider, "sid")},
	})
	router := gin.New()
	router.Use(compiled.Middleware())
	router.GET("/api/items", func(contextGin *gin.Context) {
		contextGin.String(http.StatusOK, UserFrom(contextGin).ID)
	})

	// The backend holds a live session, but a request carrying no credential
	// must stay anonymous.
	if response := perform(router, http.MethodGet, "/api/items", nil); response.Code != http.StatusUnauthorized {
		t.Fatalf("credential-less request authenticated: %d", response.Code)
	}
	if response := perform(router, http.MethodGet, "/api/items", map[string]string{"Cookie": "sid=forged"}); response.Code != http.StatusUnauthorized {
		t.Fatalf("forged credential accepted: %d", response.Code)
	}

	withCookie := perform(router, http.MethodGet, "/api/items", map[string]string{"Cookie": "sid=valid-token"})
	if withCookie.Code != http.StatusOK || withCookie.Body.String() != "u1" {
		t.Fatalf("session cookie rejected: %d %q", withCookie.Code, withCookie.Body.String())
	}
	withBearer := perform(router, http.MethodGet, "/api/items", map[string]string{"Authorization": "Bearer valid-token"})
	if withBearer.Code != http.StatusOK || withBearer.Body.String() != "u1" {
		t.Fatalf("bearer token rejected: %d %q", withBearer.Code, withBearer.Body.String())
	}
}

func TestProviderTokenExtractorWithoutCapability(t *testing.T) {
	t.Parallel()
	extractor := ProviderTokenExtractor(incapableProvider{}, "sid")
	router := gin.New()
	var resolved *authkit.User
	router.GET("/x", func(contextGin *gin.Context) {
		resolved = extractor(contextGin)
		contextGin.Status(http.StatusNoContent)
	})
	perform(router, http.MethodGet, "/x", map[string]string{"Cookie": "sid=anything"})
	if resolved != nil {
		t.Fatalf("provider without the capability must resolve nil, got %+v", resolved)
	}
}

// incapableProvider implements only the base contract.
type incapableProvider struct{}

func (incapableProvider) Kind() authkit.Kind { return authkit.KindStaticCred }

func (incapableProvider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("test provider")
}

func (incapableProvider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("test provider")
}

func (incapableProvider) SignOut(ctx context.Context) {}

func (incapableProvider) CurrentUser(ctx context.Context) *authkit.User { return nil }

func (incapableProvider) CurrentSession(ctx context.Context) *authkit.Session { return nil }
