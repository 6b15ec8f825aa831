package localjwt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/directory"
)

type fakeClock struct {
	current time.Time
}

func (clock *fakeClock) Now() time.Time {
	return clock.current
}

func newTestProvider(t *testing.T, clock *fakeClock) *Provider {
	t.Helper()
	provider, err := New(Options{
		SigningKey: []byte("unit-test-signing-key"),
		Issuer:     "authbridge-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
		Directory:  directory.NewMemoryDirectory(),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestNewRequiresConfiguration(t *testing.T) {
	t.Parallel()
	_, err := New(Options{Issuer: "x", Directory: directory.NewMemoryDirectory()})
	var taxonomyError *authkit.Error
	if !errors.As(err, &taxonomyError) || taxonomyError.Code != authkit.CodeProviderNotConfigured {
		t.Fatalf("expected provider_not_configured, got %v", err)
	}
}

func TestSignUpThenCurrentUserRoundTrip(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	result, signUpErr := provider.SignUp(ctx, authkit.SignUpOptions{
		Email:       "alice@example.com",
		Password:    "correct-horse",
		DisplayName: "Alice",
	})
	if signUpErr != nil {
		t.Fatalf("sign-up: %v", signUpErr)
	}
	if result.User == nil || result.Session == nil {
		t.Fatalf("expected user and session: %+v", result)
	}

	current := provider.CurrentUser(ctx)
	if current == nil {
		t.Fatalf("expected current user after sign-up")
	}
	if current.ID != result.User.ID {
		t.Fatalf("round-trip id mismatch: %q vs %q", current.ID, result.User.ID)
	}
}

func TestAuthenticateTokenVerifiesRequestToken(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	result, signUpErr := provider.SignUp(ctx, authkit.SignUpOptions{Email: "alice@example.com", Password: "correct-horse"})
	if signUpErr != nil {
		t.Fatalf("sign-up: %v", signUpErr)
	}
	token := result.Session.AccessToken

	user := provider.AuthenticateToken(ctx, token)
	if user == nil || user.ID != result.User.ID {
		t.Fatalf("valid token must resolve its user, got %+v", user)
	}
	if provider.AuthenticateToken(ctx, "not-a-jwt") != nil {
		t.Fatalf("garbage token must resolve to nil")
	}

	clock.current = clock.current.Add(16 * time.Minute)
	if provider.AuthenticateToken(ctx, token) != nil {
		t.Fatalf("expired token must resolve to nil")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, authkit.SignUpOptions{Email: "bob@example.com", Password: "pw"}); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	provider.SignOut(ctx)

	_, err := provider.SignIn(ctx, authkit.SignInOptions{Identifier: "bob@example.com", Password: "nope"})
	var taxonomyError *authkit.Error
	if !errors.As(err, &taxonomyError) || taxonomyError.Code != authkit.CodeInvalidCredentials {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
}

func TestDuplicateSignUp(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, authkit.SignUpOptions{Email: "carol@example.com", Password: "pw"}); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	_, err := provider.SignUp(ctx, authkit.SignUpOptions{Email: "carol@example.com", Password: "pw2"})
	var taxonomyError *authkit.Error
	if !errors.As(err, &taxonomyError) || taxonomyError.Code != authkit.CodeUserAlreadyExists {
		t.Fatalf("expected user_already_exists, got %v", err)
	}
}

func TestCurrentUserExpiredToken(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, authkit.SignUpOptions{Email: "dora@example.com", Password: "pw"}); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	clock.current = clock.current.Add(16 * time.Minute)
	if provider.CurrentUser(ctx) != nil {
		t.Fatalf("expired access token must yield nil user")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	signedUp, err := provider.SignUp(ctx, authkit.SignUpOptions{Email: "eve@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	previousRefresh := signedUp.Session.RefreshToken

	clock.current = clock.current.Add(16 * time.Minute)
	refreshed, refreshErr := provider.RefreshSession(ctx)
	if refreshErr != nil {
		t.Fatalf("refresh: %v", refreshErr)
	}
	if refreshed.Session.RefreshToken == previousRefresh {
		t.Fatalf("refresh must rotate the opaque token")
	}
	if provider.CurrentUser(ctx) == nil {
		t.Fatalf("expected a live session after refresh")
	}

	// The rotated-out token must be dead.
	if _, validateErr := provider.refreshTokens.Validate(ctx, previousRefresh); validateErr == nil {
		t.Fatalf("previous refresh token must no longer validate")
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)

	_, err := provider.RefreshSession(context.Background())
	var taxonomyError *authkit.Error
	if !errors.As(err, &taxonomyError) || taxonomyError.Code != authkit.CodeSessionExpired {
		t.Fatalf("expected session_expired, got %v", err)
	}
}

func TestSignOutIdempotent(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, authkit.SignUpOptions{Email: "fred@example.com", Password: "pw"}); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	provider.SignOut(ctx)
	provider.SignOut(ctx)
	if provider.CurrentUser(ctx) != nil {
		t.Fatalf("expected no user after repeated sign-out")
	}
}

func TestUpdateUserReissuesClaims(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0).UTC()}
	provider := newTestProvider(t, clock)
	ctx := context.Background()

	if _, err := provider.SignUp(ctx, authkit.SignUpOptions{Email: "gina@example.com", Password: "pw"}); err != nil {
		t.Fatalf("sign-up: %v", err)
	}
	newName := "Gina G"
	updated, updateErr := provider.UpdateUser(ctx, authkit.UserUpdate{DisplayName: &newName})
	if updateErr != nil {
		t.Fatalf("update: %v", updateErr)
	}
	if updated.DisplayName != newName {
		t.Fatalf("update not applied: %+v", updated)
	}
	current := provider.CurrentUser(ctx)
	if current == nil || current.DisplayName != newName {
		t.Fatalf("reissued token must carry the new profile, got %+v", current)
	}
}
