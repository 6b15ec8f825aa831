package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mprlab/authbridge/internal/authkit"
)

// CookieConfig controls how session credentials are written to the browser.
type CookieConfig struct {
	SessionCookieName string
	RefreshCookieName string
	Domain            string
	Secure            bool
	SameSiteMode      http.SameSite
}

// DefaultCookieConfig returns production-safe cookie settings.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		SessionCookieName: "authbridge_session",
		RefreshCookieName: "authbridge_refresh",
		Secure:            true,
		SameSiteMode:      http.SameSiteLaxMode,
	}
}

func writeSessionCookies(contextGin *gin.Context, configuration CookieConfig, session *authkit.Session) {
	if session == nil {
		return
	}
	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().UTC().Add(24 * time.Hour)
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    session.AccessToken,
		Path:     "/",
		Domain:   configuration.Domain,
		Expires:  expiresAt,
		Secure:   configuration.Secure,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
	if session.RefreshToken != "" {
		// The refresh credential is scoped to the auth endpoints only.
		http.SetCookie(contextGin.Writer, &http.Cookie{
			Name:     configuration.RefreshCookieName,
			Value:    session.RefreshToken,
			Path:     "/auth",
			Domain:   configuration.Domain,
			Expires:  time.Now().UTC().Add(60 * 24 * time.Hour),
			Secure:   configuration.Secure,
			HttpOnly: true,
			SameSite: configuration.SameSiteMode,
		})
	}
}

func clearSessionCookies(contextGin *gin.Context, configuration CookieConfig) {
	clearCookie(contextGin, configuration.SessionCookieName, "/", configuration)
	clearCookie(contextGin, configuration.RefreshCookieName, "/auth", configuration)
}

func clearCookie(contextGin *gin.Context, name string, path string, configuration CookieConfig) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   configuration.Domain,
		MaxAge:   -1,
		Secure:   configuration.Secure,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
