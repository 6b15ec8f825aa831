// Package guard enforces route protection on gin routers. Classification
// runs in a fixed order: ignored globs, public globs, protected globs, then
// the default policy. Identity extraction happens once per request and the
// resolved user is stashed in the gin context for handlers downstream.
package guard

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
)

// ContextUserKey is where the middleware stores the resolved user.
const ContextUserKey = "guard_user"

// Extractor resolves the requesting user, or nil when the request carries no
// valid credential. Extractors never fail; an unusable credential is nil.
type Extractor func(contextGin *gin.Context) *authkit.User

// Options configure the guard middleware.
type Options struct {
	// IgnoredPaths are skipped entirely; no extraction runs. Meant for
	// assets and health probes.
	IgnoredPaths []string
	// PublicPaths are reachable without a user; extraction still runs so
	// handlers can personalize.
	PublicPaths []string
	// ProtectedPaths require a user.
	ProtectedPaths []string
	// ProtectByDefault decides requests matching no glob: true fails closed
	// (everything unlisted requires a user), false fails open.
	ProtectByDefault bool
	// Extractors are tried in order; the first non-nil user wins.
	Extractors []Extractor
	Redirects  authkit.Redirects
	Logger     *zap.Logger
	Metrics    authkit.MetricsRecorder
}

// Guard holds the compiled configuration.
type Guard struct {
	ignored    []string
	public     []string
	protected  []string
	protect    bool
	extractors []Extractor
	redirects  authkit.Redirects
	logger     *zap.Logger
	metrics    authkit.MetricsRecorder
}

// New compiles the options into a guard.
func New(options Options) *Guard {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = authkit.NopMetrics{}
	}
	redirects := options.Redirects.Merge()
	return &Guard{
		ignored:    options.IgnoredPaths,
		public:     options.PublicPaths,
		protected:  options.ProtectedPaths,
		protect:    options.ProtectByDefault,
		extractors: options.Extractors,
		redirects:  redirects,
		logger:     logger,
		metrics:    metrics,
	}
}

// Middleware classifies each request and enforces the decision.
func (guard *Guard) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestPath := contextGin.Request.URL.Path

		if matchAny(guard.ignored, requestPath) {
			contextGin.Next()
			return
		}

		user := guard.extract(contextGin)
		if user != nil {
			contextGin.Set(ContextUserKey, user)
		}

		// Signed-in users have no business on the sign-in page.
		if user != nil && requestPath == guard.redirects.SignIn {
			guard.metrics.Increment(authkit.EventGuardRedirect)
			contextGin.Redirect(http.StatusFound, guard.redirects.AfterSignIn)
			contextGin.Abort()
			return
		}

		if matchAny(guard.public, requestPath) {
			guard.metrics.Increment(authkit.EventGuardAllowed)
			contextGin.Next()
			return
		}

		needsUser := matchAny(guard.protected, requestPath)
		if !needsUser {
			if !guard.protect {
				guard.metrics.Increment(authkit.EventGuardAllowed)
				contextGin.Next()
				return
			}
			needsUser = true
		}

		if needsUser && user == nil {
			guard.deny(contextGin, requestPath)
			return
		}
		guard.metrics.Increment(authkit.EventGuardAllowed)
		contextGin.Next()
	}
}

// RequireUser aborts with 401 unless a user was resolved.
func (guard *Guard) RequireUser() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if user := guard.resolve(contextGin); user == nil {
			guard.metrics.Increment(authkit.EventGuardDenied)
			abortJSON(contextGin, authkit.ErrUnauthorized("authentication required"))
			return
		}
		contextGin.Next()
	}
}

// RequireAnyRole aborts with 403 unless the user holds at least one of the
// roles. Missing users abort with 401 first.
func (guard *Guard) RequireAnyRole(roles ...string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		user := guard.resolve(contextGin)
		if user == nil {
			guard.metrics.Increment(authkit.EventGuardDenied)
			abortJSON(contextGin, authkit.ErrUnauthorized("authentication required"))
			return
		}
		if !authkit.HasAnyRole(user, roles...) {
			guard.metrics.Increment(authkit.EventGuardDenied)
			abortJSON(contextGin, authkit.ErrForbidden("missing required role"))
			return
		}
		contextGin.Next()
	}
}

// RequireAnyPermission aborts with 403 unless the user holds at least one of
// the permissions.
func (guard *Guard) RequireAnyPermission(permissions ...string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		user := guard.resolve(contextGin)
		if user == nil {
			guard.metrics.Increment(authkit.EventGuardDenied)
			abortJSON(contextGin, authkit.ErrUnauthorized("authentication required"))
			return
		}
		if !authkit.HasAnyPermission(user, permissions...) {
			guard.metrics.Increment(authkit.EventGuardDenied)
			abortJSON(contextGin, authkit.ErrForbidden("missing required permission"))
			return
		}
		contextGin.Next()
	}
}

// UserFrom returns the user the middleware resolved for this request.
func UserFrom(contextGin *gin.Context) *authkit.User {
	value, exists := contextGin.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := value.(*authkit.User)
	if !ok {
		return nil
	}
	return user
}

func (guard *Guard) extract(contextGin *gin.Context) *authkit.User {
	for _, extractor := range guard.extractors {
		if user := extractor(contextGin); user != nil {
			return user
		}
	}
	return nil
}

// resolve prefers the middleware's cached user and falls back to extraction
// for routes mounted without the page middleware.
func (guard *Guard) resolve(contextGin *gin.Context) *authkit.User {
	if user := UserFrom(contextGin); user != nil {
		return user
	}
	user := guard.extract(contextGin)
	if user != nil {
		contextGin.Set(ContextUserKey, user)
	}
	return user
}

func (guard *Guard) deny(contextGin *gin.Context, requestPath string) {
	if wantsJSON(contextGin) {
		guard.metrics.Increment(authkit.EventGuardDenied)
		abortJSON(contextGin, authkit.ErrUnauthorized("authentication required"))
		return
	}
	guard.metrics.Increment(authkit.EventGuardRedirect)
	guard.logger.Debug("guard redirect",
		zap.String("path", requestPath),
		zap.String("to", guard.redirects.SignIn))
	target := guard.redirects.SignIn + "?next=" + requestPath
	contextGin.Redirect(http.StatusFound, target)
	contextGin.Abort()
}

func wantsJSON(contextGin *gin.Context) bool {
	if strings.HasPrefix(contextGin.Request.URL.Path, "/api/") {
		return true
	}
	accept := contextGin.GetHeader("Accept")
	return accept != "" && !strings.Contains(accept, "text/html")
}

func abortJSON(contextGin *gin.Context, guardError *authkit.Error) {
	contextGin.AbortWithStatusJSON(guardError.StatusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    guardError.Code,
			"message": guardError.Message,
		},
	})
}
