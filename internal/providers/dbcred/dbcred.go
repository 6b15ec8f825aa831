// Package dbcred implements the provider contract with server-side sessions
// persisted next to the user table. A session credential is an opaque row id;
// revocation is deleting the row, expiry is an absolute deadline.
package dbcred

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/credstore"
	"github.com/mprlab/authbridge/internal/directory"
)

// DefaultSessionTTL bounds a database session absolutely; there is no
// sliding renewal for this backend.
const DefaultSessionTTL = 24 * time.Hour

// DefaultResetTTL bounds how long a password reset token stays redeemable.
const DefaultResetTTL = time.Hour

// Options configure the adapter; snapshot at construction.
type Options struct {
	DatabaseURL string
	SessionTTL  time.Duration
	ResetTTL    time.Duration
	Store       credstore.Store
	Clock       authkit.Clock
	Logger      *zap.Logger
}

// Provider keeps both users and sessions in the database.
type Provider struct {
	directory  *directory.DatabaseDirectory
	sessions   *gorm.DB
	sessionTTL time.Duration
	resetTTL   time.Duration
	store      credstore.Store
	clock      authkit.Clock
	logger     *zap.Logger
}

type sessionRow struct {
	SessionID     string `gorm:"column:session_id;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
	ExpiresAtUnix int64  `gorm:"column:expires_at_unix;not null"`
}

func (sessionRow) TableName() string {
	return "auth_sessions"
}

type resetRow struct {
	Token         string `gorm:"column:token;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	ExpiresAtUnix int64  `gorm:"column:expires_at_unix;not null"`
}

func (resetRow) TableName() string {
	return "auth_password_resets"
}

// New opens the database, migrates the session tables, and wires the user
// directory over the same URL.
func New(ctx context.Context, options Options) (*Provider, error) {
	if strings.TrimSpace(options.DatabaseURL) == "" {
		return nil, authkit.ErrProviderNotConfigured("database provider requires a database URL")
	}
	userDirectory, directoryErr := directory.NewDatabaseDirectory(ctx, options.DatabaseURL)
	if directoryErr != nil {
		return nil, authkit.ErrProvider("opening user directory", directoryErr)
	}
	dialector, openErr := resolveDialector(options.DatabaseURL)
	if openErr != nil {
		return nil, authkit.ErrProvider("opening session store", openErr)
	}
	sessions, gormErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if gormErr != nil {
		return nil, authkit.ErrProvider("opening session store", gormErr)
	}
	if migrateErr := sessions.WithContext(ctx).AutoMigrate(&sessionRow{}, &resetRow{}); migrateErr != nil {
		return nil, authkit.ErrProvider("migrating session tables", migrateErr)
	}

	sessionTTL := options.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	resetTTL := options.ResetTTL
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}
	store := options.Store
	if store == nil {
		store = credstore.NewMemory()
	}
	clock := options.Clock
	if clock == nil {
		clock = authkit.SystemClock{}
	}
	zapLogger := options.Logger
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	return &Provider{
		directory:  userDirectory,
		sessions:   sessions,
		sessionTTL: sessionTTL,
		resetTTL:   resetTTL,
		store:      store,
		clock:      clock,
		logger:     zapLogger,
	}, nil
}

// Kind returns the database-sessions discriminator.
func (provider *Provider) Kind() authkit.Kind {
	return authkit.KindDatabase
}

// SignIn authenticates against the user table and opens a session row.
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

// SignUp registers a user and opens a session. The user starts unverified,
// so the result flags NeedsVerification.
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
	return &authkit.Result{
		User:              &userCopy,
		Session:           session.Clone(),
		NeedsVerification: !user.EmailVerified,
		RedirectTo:        options.RedirectTo,
	}, nil
}

// SignOut deletes the session row and clears the stored credential.
func (provider *Provider) SignOut(ctx context.Context) {
	session, loadErr := provider.store.Load(ctx)
	if loadErr == nil && session != nil && session.AccessToken != "" {
		deleteResult := provider.sessions.WithContext(ctx).
			Where("session_id = ?", session.AccessToken).Delete(&sessionRow{})
		if deleteResult.Error != nil {
			provider.logger.Warn("database session delete failed", zap.Error(deleteResult.Error))
		}
	}
	if clearErr := provider.store.Clear(ctx); clearErr != nil {
		provider.logger.Warn("database sign-out clear failed", zap.Error(clearErr))
	}
}

// CurrentUser returns the identity behind a live session row, or nil.
func (provider *Provider) CurrentUser(ctx context.Context) *authkit.User {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

// CurrentSession resolves the stored credential against the session table.
// A deleted or expired row collapses to nil and the credential is dropped.
func (provider *Provider) CurrentSession(ctx context.Context) *authkit.Session {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil || session.AccessToken == "" {
		return nil
	}
	var row sessionRow
	findErr := provider.sessions.WithContext(ctx).
		Where("session_id = ?", session.AccessToken).Take(&row).Error
	if findErr != nil {
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			provider.logger.Warn("database session lookup failed", zap.Error(findErr))
		}
		provider.clearQuietly(ctx)
		return nil
	}
	now := provider.clock.Now()
	if now.Unix() >= row.ExpiresAtUnix {
		provider.sessions.WithContext(ctx).Where("session_id = ?", row.SessionID).Delete(&sessionRow{})
		provider.clearQuietly(ctx)
		return nil
	}
	user, lookupErr := provider.directory.Lookup(ctx, row.UserID)
	if lookupErr != nil {
		provider.clearQuietly(ctx)
		return nil
	}
	session.User = *user
	session.ExpiresAt = time.Unix(row.ExpiresAtUnix, 0).UTC()
	return session
}

// AuthenticateToken resolves a request-carried session id against the
// session table. Expired rows resolve to nil and are left for the janitor.
func (provider *Provider) AuthenticateToken(ctx context.Context, token string) *authkit.User {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	var row sessionRow
	findErr := provider.sessions.WithContext(ctx).
		Where("session_id = ?", token).Take(&row).Error
	if findErr != nil {
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			provider.logger.Warn("database session lookup failed", zap.Error(findErr))
		}
		return nil
	}
	if provider.clock.Now().Unix() >= row.ExpiresAtUnix {
		return nil
	}
	user, lookupErr := provider.directory.Lookup(ctx, row.UserID)
	if lookupErr != nil {
		return nil
	}
	return user
}

// ResetPassword mints a single-use reset token for the account. Delivery is
// out of scope here; the token is logged for the caller's mailer to pick up.
func (provider *Provider) ResetPassword(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return authkit.ErrValidation("email is required")
	}
	user, findErr := provider.directory.FindByEmail(ctx, email)
	if findErr != nil {
		if errors.Is(findErr, directory.ErrNotFound) {
			// Succeed quietly so the endpoint does not reveal which
			// accounts exist.
			return nil
		}
		return authkit.ErrProvider("password reset lookup", findErr)
	}
	row := resetRow{
		Token:         uuid.NewString(),
		UserID:        user.ID,
		ExpiresAtUnix: provider.clock.Now().Add(provider.resetTTL).Unix(),
	}
	if createErr := provider.sessions.WithContext(ctx).Create(&row).Error; createErr != nil {
		return authkit.ErrProvider("persisting reset token", createErr)
	}
	provider.logger.Info("password reset token issued",
		zap.String("user_id", user.ID))
	return nil
}

// CompletePasswordReset redeems a reset token and rotates the password. All
// session rows for the user are dropped so stolen sessions die with the old
// password.
func (provider *Provider) CompletePasswordReset(ctx context.Context, token string, newPassword string) error {
	if strings.TrimSpace(token) == "" || newPassword == "" {
		return authkit.ErrValidation("token and new password are required")
	}
	var row resetRow
	findErr := provider.sessions.WithContext(ctx).Where("token = ?", token).Take(&row).Error
	if findErr != nil {
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return authkit.ErrInvalidToken("reset token rejected")
		}
		return authkit.ErrProvider("reset token lookup", findErr)
	}
	provider.sessions.WithContext(ctx).Where("token = ?", token).Delete(&resetRow{})
	if provider.clock.Now().Unix() >= row.ExpiresAtUnix {
		return authkit.ErrTokenExpired("reset token expired")
	}
	if _, updateErr := provider.directory.Update(ctx, row.UserID, authkit.UserUpdate{Password: &newPassword}); updateErr != nil {
		return translateDirectoryError(updateErr)
	}
	if purgeErr := provider.sessions.WithContext(ctx).
		Where("user_id = ?", row.UserID).Delete(&sessionRow{}).Error; purgeErr != nil {
		return authkit.ErrProvider("purging sessions after reset", purgeErr)
	}
	return nil
}

// UpdateUser applies a partial profile update to the signed-in user.
func (provider *Provider) UpdateUser(ctx context.Context, update authkit.UserUpdate) (*authkit.User, error) {
	current := provider.CurrentUser(ctx)
	if current == nil {
		return nil, authkit.ErrUnauthorized("no active session")
	}
	updated, updateErr := provider.directory.Update(ctx, current.ID, update)
	if updateErr != nil {
		return nil, translateDirectoryError(updateErr)
	}
	return updated, nil
}

// DeleteUser removes the account and every session row it owns.
func (provider *Provider) DeleteUser(ctx context.Context) error {
	current := provider.CurrentUser(ctx)
	if current == nil {
		return authkit.ErrUnauthorized("no active session")
	}
	if deleteErr := provider.directory.Delete(ctx, current.ID); deleteErr != nil {
		return translateDirectoryError(deleteErr)
	}
	if purgeErr := provider.sessions.WithContext(ctx).
		Where("user_id = ?", current.ID).Delete(&sessionRow{}).Error; purgeErr != nil {
		provider.logger.Warn("session purge after delete failed", zap.Error(purgeErr))
	}
	provider.clearQuietly(ctx)
	return nil
}

// PurgeExpired drops session and reset rows past their deadline. Meant for a
// periodic janitor.
func (provider *Provider) PurgeExpired(ctx context.Context) error {
	now := provider.clock.Now().Unix()
	if err := provider.sessions.WithContext(ctx).
		Where("expires_at_unix <= ?", now).Delete(&sessionRow{}).Error; err != nil {
		return authkit.ErrProvider("purging expired sessions", err)
	}
	if err := provider.sessions.WithContext(ctx).
		Where("expires_at_unix <= ?", now).Delete(&resetRow{}).Error; err != nil {
		return authkit.ErrProvider("purging expired reset tokens", err)
	}
	return nil
}

func (provider *Provider) openSession(ctx context.Context, user *authkit.User) (*authkit.Session, error) {
	now := provider.clock.Now()
	row := sessionRow{
		SessionID:     uuid.NewString(),
		UserID:        user.ID,
		CreatedAtUnix: now.Unix(),
		ExpiresAtUnix: now.Add(provider.sessionTTL).Unix(),
	}
	if createErr := provider.sessions.WithContext(ctx).Create(&row).Error; createErr != nil {
		return nil, authkit.ErrProvider("persisting session", createErr)
	}
	session := &authkit.Session{
		User:        *user.Clone(),
		AccessToken: row.SessionID,
		ExpiresAt:   time.Unix(row.ExpiresAtUnix, 0).UTC(),
	}
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	return session, nil
}

func (provider *Provider) clearQuietly(ctx context.Context) {
	if clearErr := provider.store.Clear(ctx); clearErr != nil {
		provider.logger.Debug("credential clear failed", zap.Error(clearErr))
	}
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

func resolveDialector(databaseURL string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(databaseURL)
	lowered := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lowered, "postgres://"), strings.HasPrefix(lowered, "postgresql://"):
		return postgres.Open(trimmed), nil
	case strings.HasPrefix(lowered, "sqlite://"):
		return sqliteDialector.Open(strings.TrimPrefix(trimmed, "sqlite://")), nil
	default:
		return nil, fmt.Errorf("dbcred.open: unsupported database url %q", databaseURL)
	}
}
