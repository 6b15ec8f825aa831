package authstate

import (
	"context"
	"errors"
	"testing"

	"github.com/mprlab/authbridge/internal/authkit"
)

// fakeProvider is a scriptable provider; it optionally implements the
// watcher and refresher capabilities.
type fakeProvider struct {
	session      *authkit.Session
	signInErr    error
	refreshErr   error
	subscribers  []func(*authkit.Session)
	signOutCalls int
}

func (provider *fakeProvider) Kind() authkit.Kind {
	return authkit.KindStaticCred
}

func (provider *fakeProvider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	if provider.signInErr != nil {
		return nil, provider.signInErr
	}
	provider.session = &authkit.Session{
		User:        authkit.User{ID: "u1", Email: options.Identifier},
		AccessToken: "tok",
	}
	userCopy := provider.session.User
	return &authkit.Result{User: &userCopy, Session: provider.session.Clone()}, nil
}

func (provider *fakeProvider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	return nil, authkit.ErrNotSupported("")
}

func (provider *fakeProvider) SignOut(ctx context.Context) {
	provider.signOutCalls++
	provider.session = nil
}

func (provider *fakeProvider) CurrentUser(ctx context.Context) *authkit.User {
	if provider.session == nil {
		return nil
	}
	userCopy := provider.session.User
	return &userCopy
}

func (provider *fakeProvider) CurrentSession(ctx context.Context) *authkit.Session {
	return provider.session.Clone()
}

func (provider *fakeProvider) RefreshSession(ctx context.Context) (*authkit.Result, error) {
	if provider.refreshErr != nil {
		return nil, provider.refreshErr
	}
	provider.session = &authkit.Session{User: authkit.User{ID: "u1"}, AccessToken: "tok2"}
	userCopy := provider.session.User
	return &authkit.Result{User: &userCopy, Session: provider.session.Clone()}, nil
}

func (provider *fakeProvider) Subscribe(callback func(*authkit.Session)) func() {
	provider.subscribers = append(provider.subscribers, callback)
	return func() { provider.subscribers = nil }
}

func (provider *fakeProvider) push(session *authkit.Session) {
	for _, callback := range provider.subscribers {
		callback(session)
	}
}

func newStartedManager(t *testing.T, provider *fakeProvider) *Manager {
	t.Helper()
	manager, err := NewManager(Options{Provider: provider, Metrics: authkit.NewCounterMetrics()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	manager.Start(context.Background())
	t.Cleanup(manager.Close)
	return manager
}

func TestNewManagerRequiresProvider(t *testing.T) {
	t.Parallel()
	if _, err := NewManager(Options{}); err == nil {
		t.Fatalf("expected error without provider")
	}
}

func TestStartLoadsExistingSession(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{session: &authkit.Session{User: authkit.User{ID: "u1"}, AccessToken: "tok"}}
	manager := newStartedManager(t, provider)

	snapshot := manager.Snapshot()
	if snapshot.Loading {
		t.Fatalf("loading must drop after Start")
	}
	if snapshot.User == nil || snapshot.User.ID != "u1" {
		t.Fatalf("existing session not loaded: %+v", snapshot)
	}
	if !manager.IsAuthenticated() {
		t.Fatalf("expected authenticated state")
	}
}

func TestSnapshotBeforeStartIsLoading(t *testing.T) {
	t.Parallel()
	manager, err := NewManager(Options{Provider: &fakeProvider{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if !manager.Snapshot().Loading {
		t.Fatalf("snapshot must report loading before Start")
	}
}

func TestSignInUpdatesSnapshotAndNotifies(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	manager := newStartedManager(t, provider)

	var changes []Snapshot
	cancel := manager.OnChange(func(snapshot Snapshot) { changes = append(changes, snapshot) })
	defer cancel()

	if _, err := manager.SignIn(context.Background(), authkit.SignInOptions{Identifier: "a@example.com", Password: "pw"}); err != nil {
		t.Fatalf("sign-in: %v", err)
	}
	if !manager.IsAuthenticated() {
		t.Fatalf("expected authenticated after sign-in")
	}
	if len(changes) == 0 || changes[len(changes)-1].User == nil {
		t.Fatalf("subscribers must observe the sign-in")
	}
}

func TestSignInFailureRecordsError(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{signInErr: authkit.ErrInvalidCredentials("")}
	manager := newStartedManager(t, provider)

	_, err := manager.SignIn(context.Background(), authkit.SignInOptions{Identifier: "a", Password: "b"})
	if err == nil {
		t.Fatalf("expected sign-in error")
	}
	snapshot := manager.Snapshot()
	if snapshot.LastError == "" {
		t.Fatalf("failure must surface in LastError")
	}
	if manager.IsAuthenticated() {
		t.Fatalf("failed sign-in must not authenticate")
	}
}

func TestSignOutClearsStateAndError(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	manager := newStartedManager(t, provider)

	if _, err := manager.SignIn(context.Background(), authkit.SignInOptions{Identifier: "a", Password: "b"}); err != nil {
		t.Fatalf("sign-in: %v", err)
	}
	manager.SignOut(context.Background())

	if manager.IsAuthenticated() {
		t.Fatalf("expected signed-out state")
	}
	if provider.signOutCalls != 1 {
		t.Fatalf("provider sign-out not invoked")
	}
	if manager.Snapshot().LastError != "" {
		t.Fatalf("sign-out must clear the error")
	}
}

func TestRefreshUnsupportedProvider(t *testing.T) {
	t.Parallel()
	// fakeProvider implements TokenRefresher, so exercise the unsupported
	// path through a wrapper that hides it.
	manager, err := NewManager(Options{Provider: bareProvider{&fakeProvider{}}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	manager.Start(context.Background())
	defer manager.Close()

	_, refreshErr := manager.Refresh(context.Background())
	var taxonomyError *authkit.Error
	if !errors.As(refreshErr, &taxonomyError) || taxonomyError.Code != authkit.CodeNotSupported {
		t.Fatalf("expected not_supported, got %v", refreshErr)
	}
}

func TestRefreshUpdatesSnapshot(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	manager := newStartedManager(t, provider)

	if _, err := manager.SignIn(context.Background(), authkit.SignInOptions{Identifier: "a", Password: "b"}); err != nil {
		t.Fatalf("sign-in: %v", err)
	}
	if _, err := manager.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snapshot := manager.Snapshot()
	if snapshot.Session == nil || snapshot.Session.AccessToken != "tok2" {
		t.Fatalf("refresh result not applied: %+v", snapshot.Session)
	}
}

// bareProvider strips optional capabilities off the embedded provider.
type bareProvider struct {
	inner *fakeProvider
}

func (provider bareProvider) Kind() authkit.Kind { return provider.inner.Kind() }
func (provider bareProvider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	return provider.inner.SignIn(ctx, options)
}
func (provider bareProvider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	return provider.inner.SignUp(ctx, options)
}
func (provider bareProvider) SignOut(ctx context.Context) { provider.inner.SignOut(ctx) }
func (provider bareProvider) CurrentUser(ctx context.Context) *authkit.User {
	return provider.inner.CurrentUser(ctx)
}
func (provider bareProvider) CurrentSession(ctx context.Context) *authkit.Session {
	return provider.inner.CurrentSession(ctx)
}

func TestWatcherPushUpdatesSnapshot(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	manager := newStartedManager(t, provider)

	var observed []Snapshot
	cancel := manager.OnChange(func(snapshot Snapshot) { observed = append(observed, snapshot) })
	defer cancel()

	provider.push(&authkit.Session{User: authkit.User{ID: "pushed"}, AccessToken: "tok"})
	if snapshot := manager.Snapshot(); snapshot.User == nil || snapshot.User.ID != "pushed" {
		t.Fatalf("pushed session not applied: %+v", snapshot)
	}

	provider.push(nil)
	if manager.IsAuthenticated() {
		t.Fatalf("nil push must sign the snapshot out")
	}
	if len(observed) != 2 {
		t.Fatalf("expected 2 change notifications, got %d", len(observed))
	}
}

func TestCloseDetachesWatcher(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	manager := newStartedManager(t, provider)

	manager.Close()
	if provider.subscribers != nil {
		t.Fatalf("close must unsubscribe from the provider feed")
	}
}

func TestOnChangeUnsubscribe(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{}
	manager := newStartedManager(t, provider)

	count := 0
	cancel := manager.OnChange(func(Snapshot) { count++ })
	cancel()

	if _, err := manager.SignIn(context.Background(), authkit.SignInOptions{Identifier: "a", Password: "b"}); err != nil {
		t.Fatalf("sign-in: %v", err)
	}
	if count != 0 {
		t.Fatalf("cancelled callback still invoked %d times", count)
	}
}
