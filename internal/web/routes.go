// Package web mounts the HTTP surface over the auth state manager: JSON
// endpoints for the credential flows, the OAuth redirect pair, and the
// current-user probe. Handlers speak the shared error taxonomy on failure.
package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/authstate"
	"github.com/mprlab/authbridge/internal/guard"
)

// codeExchanger is the callback half of the OAuth redirect flow.
type codeExchanger interface {
	ExchangeCode(ctx context.Context, code string, state string) (*authkit.Result, error)
}

// googleAsserter is the direct ID-token sign-in path used by native clients.
type googleAsserter interface {
	AssertGoogleIDToken(ctx context.Context, rawToken string) (*authkit.Result, error)
}

// Handlers bundle the dependencies of the auth endpoints.
type Handlers struct {
	Manager   *authstate.Manager
	Redirects authkit.Redirects
	Cookies   CookieConfig
	Logger    *zap.Logger
}

// NewHandlers fills defaults and returns the handler set.
func NewHandlers(manager *authstate.Manager, redirects authkit.Redirects, cookies CookieConfig, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cookies.SessionCookieName == "" {
		cookies = DefaultCookieConfig()
	}
	return &Handlers{
		Manager:   manager,
		Redirects: redirects.Merge(),
		Cookies:   cookies,
		Logger:    logger,
	}
}

// MountAuthRoutes registers the auth endpoints on the router.
func MountAuthRoutes(router gin.IRouter, handlers *Handlers) {
	router.POST("/auth/sign-in", handlers.handleSignIn)
	router.POST("/auth/sign-up", handlers.handleSignUp)
	router.POST("/auth/sign-out", handlers.handleSignOut)
	router.POST("/auth/refresh", handlers.handleRefresh)
	router.POST("/auth/reset-password", handlers.handleResetPassword)
	router.POST("/auth/google", handlers.handleGoogleAssertion)
	router.GET("/auth/oauth/start", handlers.handleOAuthStart)
	router.GET("/auth/oauth/callback", handlers.handleOAuthCallback)
	router.GET("/api/me", handlers.handleWhoAmI)
}

func (handlers *Handlers) handleSignIn(contextGin *gin.Context) {
	var inbound struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
		Remember   bool   `json:"remember"`
		RedirectTo string `json:"redirect_to"`
	}
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
		renderError(contextGin, authkit.ErrValidation("malformed sign-in payload"))
		return
	}
	result, signInErr := handlers.Manager.SignIn(contextGin, authkit.SignInOptions{
		Identifier: inbound.Identifier,
		Password:   inbound.Password,
		Remember:   inbound.Remember,
		RedirectTo: inbound.RedirectTo,
	})
	if signInErr != nil {
		renderError(contextGin, authkit.AsError(signInErr))
		return
	}
	writeSessionCookies(contextGin, handlers.Cookies, result.Session)
	redirectTo := result.RedirectTo
	if redirectTo == "" {
		redirectTo = handlers.Redirects.AfterSignIn
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"success":     true,
		"user":        result.User,
		"redirect_to": redirectTo,
	})
}

func (handlers *Handlers) handleSignUp(contextGin *gin.Context) {
	var inbound struct {
		Email       string         `json:"email"`
		Password    string         `json:"password"`
		DisplayName string         `json:"display_name"`
		Metadata    map[string]any `json:"metadata"`
		RedirectTo  string         `json:"redirect_to"`
	}
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
		renderError(contextGin, authkit.ErrValidation("malformed sign-up payload"))
		return
	}
	result, signUpErr := handlers.Manager.SignUp(contextGin, authkit.SignUpOptions{
		Email:       inbound.Email,
		Password:    inbound.Password,
		DisplayName: inbound.DisplayName,
		Metadata:    inbound.Metadata,
		RedirectTo:  inbound.RedirectTo,
	})
	if signUpErr != nil {
		renderError(contextGin, authkit.AsError(signUpErr))
		return
	}
	writeSessionCookies(contextGin, handlers.Cookies, result.Session)
	redirectTo := result.RedirectTo
	if redirectTo == "" {
		redirectTo = handlers.Redirects.AfterSignUp
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"success":            true,
		"user":               result.User,
		"needs_verification": result.NeedsVerification,
		"redirect_to":        redirectTo,
	})
}

func (handlers *Handlers) handleSignOut(contextGin *gin.Context) {
	handlers.Manager.SignOut(contextGin)
	clearSessionCookies(contextGin, handlers.Cookies)
	contextGin.Status(http.StatusNoContent)
}

func (handlers *Handlers) handleRefresh(contextGin *gin.Context) {
	result, refreshErr := handlers.Manager.Refresh(contextGin)
	if refreshErr != nil {
		renderError(contextGin, authkit.AsError(refreshErr))
		return
	}
	writeSessionCookies(contextGin, handlers.Cookies, result.Session)
	contextGin.JSON(http.StatusOK, gin.H{
		"success": true,
		"expires": result.Session.ExpiresAt,
	})
}

func (handlers *Handlers) handleResetPassword(contextGin *gin.Context) {
	var inbound struct {
		Email string `json:"email"`
	}
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.Email) == "" {
		renderError(contextGin, authkit.ErrValidation("email is required"))
		return
	}
	resetter, ok := handlers.Manager.Provider().(authkit.PasswordResetter)
	if !ok {
		renderError(contextGin, authkit.ErrNotSupported("provider cannot reset passwords"))
		return
	}
	if resetErr := resetter.ResetPassword(contextGin, inbound.Email); resetErr != nil {
		renderError(contextGin, authkit.AsError(resetErr))
		return
	}
	contextGin.Status(http.StatusAccepted)
}

func (handlers *Handlers) handleGoogleAssertion(contextGin *gin.Context) {
	var inbound struct {
		IDToken string `json:"id_token"`
	}
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.IDToken) == "" {
		renderError(contextGin, authkit.ErrValidation("google id token is required"))
		return
	}
	asserter, ok := handlers.Manager.Provider().(googleAsserter)
	if !ok {
		renderError(contextGin, authkit.ErrNotSupported("provider cannot assert google id tokens"))
		return
	}
	result, assertErr := asserter.AssertGoogleIDToken(contextGin, inbound.IDToken)
	if assertErr != nil {
		renderError(contextGin, authkit.AsError(assertErr))
		return
	}
	handlers.Manager.Reload(contextGin)
	writeSessionCookies(contextGin, handlers.Cookies, result.Session)
	contextGin.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    result.User,
	})
}

func (handlers *Handlers) handleOAuthStart(contextGin *gin.Context) {
	oauthCapable, ok := handlers.Manager.Provider().(authkit.OAuthCapable)
	if !ok {
		renderError(contextGin, authkit.ErrNotSupported("provider has no OAuth flow"))
		return
	}
	result, startErr := oauthCapable.SignInWithOAuth(contextGin, authkit.OAuthOptions{
		Provider:   contextGin.Query("provider"),
		RedirectTo: contextGin.Query("redirect_to"),
	})
	if startErr != nil {
		renderError(contextGin, authkit.AsError(startErr))
		return
	}
	contextGin.Redirect(http.StatusFound, result.RedirectTo)
}

func (handlers *Handlers) handleOAuthCallback(contextGin *gin.Context) {
	exchanger, ok := handlers.Manager.Provider().(codeExchanger)
	if !ok {
		renderError(contextGin, authkit.ErrNotSupported("provider has no OAuth callback"))
		return
	}
	result, exchangeErr := exchanger.ExchangeCode(contextGin, contextGin.Query("code"), contextGin.Query("state"))
	if exchangeErr != nil {
		handlers.Logger.Warn("oauth callback rejected", zap.Error(exchangeErr))
		renderError(contextGin, authkit.AsError(exchangeErr))
		return
	}
	handlers.Manager.Reload(contextGin)
	writeSessionCookies(contextGin, handlers.Cookies, result.Session)
	redirectTo := result.RedirectTo
	if redirectTo == "" {
		redirectTo = handlers.Redirects.AfterSignIn
	}
	contextGin.Redirect(http.StatusFound, redirectTo)
}

func (handlers *Handlers) handleWhoAmI(contextGin *gin.Context) {
	user := guard.UserFrom(contextGin)
	if user == nil {
		user = handlers.Manager.Snapshot().User
	}
	if user == nil {
		renderError(contextGin, authkit.ErrUnauthorized("authentication required"))
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"user_id":     user.ID,
		"user_email":  user.Email,
		"display":     user.DisplayName,
		"avatar_url":  user.AvatarURL,
		"roles":       user.Roles,
		"permissions": user.Permissions,
	})
}

func renderError(contextGin *gin.Context, taxonomyError *authkit.Error) {
	contextGin.AbortWithStatusJSON(taxonomyError.StatusCode, gin.H{
		"success": false,
		"error":   taxonomyError,
	})
}
