// Package sessionsvc implements the provider contract on a shared session
// service, typically Redis. The session id is the only credential the client
// holds; the service owns the payload and the sliding expiry window.
package sessionsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/credstore"
	"github.com/mprlab/authbridge/internal/directory"
)

// DefaultSessionTTL is the sliding idle window for service sessions.
const DefaultSessionTTL = 30 * time.Minute

const sessionKeyPrefix = "authbridge:session:"

// Options configure the adapter; snapshot at construction.
type Options struct {
	KV         KV
	Directory  directory.Directory
	SessionTTL time.Duration
	Store      credstore.Store
	Clock      authkit.Clock
	Logger     *zap.Logger
}

// Provider keeps session state in the shared service.
type Provider struct {
	kv         KV
	directory  directory.Directory
	sessionTTL time.Duration
	store      credstore.Store
	clock      authkit.Clock
	logger     *zap.Logger
}

// sessionPayload is what the service stores under the session key.
type sessionPayload struct {
	User      authkit.User `json:"user"`
	CreatedAt time.Time    `json:"created_at"`
}

// New constructs the adapter, merging defaults into the options.
func New(options Options) (*Provider, error) {
	if options.KV == nil {
		return nil, authkit.ErrProviderNotConfigured("session provider requires a session service connection")
	}
	if options.Directory == nil {
		return nil, authkit.ErrProviderNotConfigured("session provider requires a user directory")
	}
	sessionTTL := options.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
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
		kv:         options.KV,
		directory:  options.Directory,
		sessionTTL: sessionTTL,
		store:      store,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Kind returns the session-service discriminator.
func (provider *Provider) Kind() authkit.Kind {
	return authkit.KindSessionService
}

// SignIn authenticates against the directory and opens a service session.
func (provider *Provider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	identifier := strings.TrimSpace(options.Identifier)
	if identifier == "" || options.Password == "" {
		return nil, authkit.ErrValidation("identifier and password are required")
	}
	user, authErr := provider.directory.Authenticate(ctx, identifier, options.Password)
	if authErr != nil {
		return nil, translateDirectoryError(authErr)
	}
	session, openErr := provider.openSession(ctx, user)
	if openErr != nil {
		return nil, openErr
	}
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone(), RedirectTo: options.RedirectTo}, nil
}

// SignUp registers a user and opens a service session.
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
		return nil, translateDirectoryError(createErr)
	}
	session, openErr := provider.openSession(ctx, user)
	if openErr != nil {
		return nil, openErr
	}
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone(), RedirectTo: options.RedirectTo}, nil
}

// SignOut deletes the service session and clears the stored credential.
func (provider *Provider) SignOut(ctx context.Context) {
	session, loadErr := provider.store.Load(ctx)
	if loadErr == nil && session != nil && session.AccessToken != "" {
		if deleteErr := provider.kv.Delete(ctx, sessionKeyPrefix+session.AccessToken); deleteErr != nil {
			provider.logger.Warn("session service delete failed", zap.Error(deleteErr))
		}
	}
	if clearErr := provider.store.Clear(ctx); clearErr != nil {
		provider.logger.Warn("session sign-out clear failed", zap.Error(clearErr))
	}
}

// CurrentUser returns the identity behind a live service session, or nil.
func (provider *Provider) CurrentUser(ctx context.Context) *authkit.User {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

// CurrentSession resolves the stored session id against the service. The
// read renews the TTL, so active sessions slide; a missing key collapses to
// nil and the local credential is dropped.
func (provider *Provider) CurrentSession(ctx context.Context) *authkit.Session {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil || session.AccessToken == "" {
		return nil
	}
	raw, found, touchErr := provider.kv.Touch(ctx, sessionKeyPrefix+session.AccessToken, provider.sessionTTL)
	if touchErr != nil {
		provider.logger.Warn("session service read failed", zap.Error(touchErr))
		return nil
	}
	if !found {
		if clearErr := provider.store.Clear(ctx); clearErr != nil {
			provider.logger.Debug("credential clear failed", zap.Error(clearErr))
		}
		return nil
	}
	var payload sessionPayload
	if decodeErr := json.Unmarshal([]byte(raw), &payload); decodeErr != nil {
		provider.logger.Warn("session payload corrupt", zap.Error(decodeErr))
		return nil
	}
	session.User = payload.User
	session.ExpiresAt = provider.clock.Now().Add(provider.sessionTTL)
	return session
}

// AuthenticateToken resolves a request-carried session id against the
// service, renewing its TTL on success. Any session the service knows is
// accepted, not just the one this instance opened.
func (provider *Provider) AuthenticateToken(ctx context.Context, token string) *authkit.User {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	raw, found, touchErr := provider.kv.Touch(ctx, sessionKeyPrefix+token, provider.sessionTTL)
	if touchErr != nil {
		provider.logger.Warn("session service read failed", zap.Error(touchErr))
		return nil
	}
	if !found {
		return nil
	}
	var payload sessionPayload
	if decodeErr := json.Unmarshal([]byte(raw), &payload); decodeErr != nil {
		provider.logger.Warn("session payload corrupt", zap.Error(decodeErr))
		return nil
	}
	userCopy := payload.User
	return &userCopy
}

// UpdateUser applies a partial profile update and rewrites the session
// payload so subsequent reads see the new profile.
func (provider *Provider) UpdateUser(ctx context.Context, update authkit.UserUpdate) (*authkit.User, error) {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return nil, authkit.ErrUnauthorized("no active session")
	}
	updated, updateErr := provider.directory.Update(ctx, session.User.ID, update)
	if updateErr != nil {
		return nil, translateDirectoryError(updateErr)
	}
	if writeErr := provider.writePayload(ctx, session.AccessToken, updated); writeErr != nil {
		return nil, writeErr
	}
	return updated, nil
}

// DeleteUser removes the account and its service session.
func (provider *Provider) DeleteUser(ctx context.Context) error {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return authkit.ErrUnauthorized("no active session")
	}
	if deleteErr := provider.directory.Delete(ctx, session.User.ID); deleteErr != nil {
		return translateDirectoryError(deleteErr)
	}
	provider.SignOut(ctx)
	return nil
}

func (provider *Provider) openSession(ctx context.Context, user *authkit.User) (*authkit.Session, error) {
	sessionID := uuid.NewString()
	if writeErr := provider.createPayload(ctx, sessionID, user); writeErr != nil {
		return nil, writeErr
	}
	session := &authkit.Session{
		User:        *user.Clone(),
		AccessToken: sessionID,
		ExpiresAt:   provider.clock.Now().Add(provider.sessionTTL),
	}
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	return session, nil
}

func (provider *Provider) createPayload(ctx context.Context, sessionID string, user *authkit.User) error {
	encoded, encodeErr := json.Marshal(sessionPayload{User: *user.Clone(), CreatedAt: provider.clock.Now()})
	if encodeErr != nil {
		return authkit.ErrProvider("encoding session payload", encodeErr)
	}
	created, setErr := provider.kv.SetIfNotExists(ctx, sessionKeyPrefix+sessionID, string(encoded), provider.sessionTTL)
	if setErr != nil {
		return authkit.ErrProvider("writing session payload", setErr)
	}
	if !created {
		// uuid collision; treat as a service fault rather than retrying.
		return authkit.ErrProvider("session id collision", errors.New("sessionsvc: key already present"))
	}
	return nil
}

func (provider *Provider) writePayload(ctx context.Context, sessionID string, user *authkit.User) error {
	encoded, encodeErr := json.Marshal(sessionPayload{User: *user.Clone(), CreatedAt: provider.clock.Now()})
	if encodeErr != nil {
		return authkit.ErrProvider("encoding session payload", encodeErr)
	}
	if setErr := provider.kv.Set(ctx, sessionKeyPrefix+sessionID, string(encoded), provider.sessionTTL); setErr != nil {
		return authkit.ErrProvider("writing session payload", setErr)
	}
	return nil
}

func translateDirectoryError(err error) error {
	switch {
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, directory.ErrBadPassword):
		return authkit.ErrInvalidCredentials("")
	case errors.Is(err, directory.ErrExists):
		return authkit.ErrUserAlreadyExists("")
	default:
		return authkit.ErrProvider("user directory failure", err)
	}
}
