package guard

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mprlab/authbridge/internal/authkit"
)

const bearerPrefix = "Bearer "

// TokenFromRequest pulls the session credential off a request: the session
// cookie first, then an Authorization bearer token. Empty when the request
// carries neither.
func TokenFromRequest(contextGin *gin.Context, cookieName string) string {
	if cookieName != "" {
		if value, cookieErr := contextGin.Cookie(cookieName); cookieErr == nil && value != "" {
			return value
		}
	}
	authorization := contextGin.GetHeader("Authorization")
	if len(authorization) > len(bearerPrefix) && strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authorization[len(bearerPrefix):])
	}
	return ""
}

// ProviderTokenExtractor resolves request credentials through the provider's
// token-authentication capability. Requests without a credential, and
// providers without the capability, resolve to nil so the guard treats them
// as anonymous.
func ProviderTokenExtractor(provider authkit.Provider, cookieName string) Extractor {
	authenticator, capable := provider.(authkit.TokenAuthenticator)
	return func(contextGin *gin.Context) *authkit.User {
		if !capable {
			return nil
		}
		token := TokenFromRequest(contextGin, cookieName)
		if token == "" {
			return nil
		}
		return authenticator.AuthenticateToken(contextGin.Request.Context(), token)
	}
}
