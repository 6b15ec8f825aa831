// Package providers selects and constructs a concrete backend adapter from
// configuration. Selection is an exhaustive switch over the closed kind set;
// an unknown kind is a deployment error and fails construction.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/providers/dbcred"
	"github.com/mprlab/authbridge/internal/providers/hosted"
	"github.com/mprlab/authbridge/internal/providers/localjwt"
	"github.com/mprlab/authbridge/internal/providers/oidcidp"
	"github.com/mprlab/authbridge/internal/providers/sessionsvc"
	"github.com/mprlab/authbridge/internal/providers/staticcred"
)

// Config gathers the per-kind options. Only the block matching Kind is used.
type Config struct {
	Kind     authkit.Kind
	Static   staticcred.Options
	JWT      localjwt.Options
	Hosted   hosted.Options
	Database dbcred.Options
	Session  sessionsvc.Options
	OIDC     oidcidp.Options
}

// New builds the adapter for the configured kind.
func New(ctx context.Context, config Config) (authkit.Provider, error) {
	switch config.Kind {
	case authkit.KindStaticCred:
		return staticcred.New(config.Static), nil
	case authkit.KindLocalJWT:
		return localjwt.New(config.JWT)
	case authkit.KindHosted:
		return hosted.New(config.Hosted)
	case authkit.KindDatabase:
		return dbcred.New(ctx, config.Database)
	case authkit.KindSessionService:
		return sessionsvc.New(config.Session)
	case authkit.KindOIDC:
		return oidcidp.New(ctx, config.OIDC)
	default:
		return nil, fmt.Errorf("providers.new: unknown provider kind %q", config.Kind)
	}
}

// Detect picks a kind from whichever option block is populated, walking the
// kinds in preference order. Used when the deployment does not pin a kind
// explicitly.
func Detect(config Config) (authkit.Kind, error) {
	for _, kind := range authkit.Kinds() {
		if configured(config, kind) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("providers.detect: no provider configuration present")
}

func configured(config Config, kind authkit.Kind) bool {
	switch kind {
	case authkit.KindHosted:
		return strings.TrimSpace(config.Hosted.BaseURL) != ""
	case authkit.KindLocalJWT:
		return len(config.JWT.SigningKey) > 0
	case authkit.KindDatabase:
		return strings.TrimSpace(config.Database.DatabaseURL) != ""
	case authkit.KindSessionService:
		return config.Session.KV != nil
	case authkit.KindOIDC:
		return strings.TrimSpace(config.OIDC.IssuerURL) != ""
	case authkit.KindStaticCred:
		return len(config.Static.Users) > 0
	default:
		return false
	}
}
