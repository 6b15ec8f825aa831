// Package authstate holds the process-wide authentication snapshot around a
// provider. Handlers read the snapshot instead of calling the backend; the
// manager keeps it current across sign-in, sign-out, refresh, and watcher
// pushes.
package authstate

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
)

// Snapshot is the observable state at one point in time. Loading is true
// only during Start's initial session load; individual operations report
// failure through LastError, not Loading.
type Snapshot struct {
	User      *authkit.User
	Session   *authkit.Session
	Loading   bool
	LastError string
}

// Options configure the manager.
type Options struct {
	Provider authkit.Provider
	Logger   *zap.Logger
	Metrics  authkit.MetricsRecorder
}

// Manager wraps a provider with snapshot bookkeeping and change fan-out.
//
// Concurrent operations race on who writes the snapshot last; the manager
// does not serialize backend calls. Last write wins, matching what the
// backend itself would report.
type Manager struct {
	provider authkit.Provider
	logger   *zap.Logger
	metrics  authkit.MetricsRecorder

	mutex       sync.Mutex
	user        *authkit.User
	session     *authkit.Session
	loading     bool
	lastError   string
	subscribers map[int]func(Snapshot)
	nextID      int
	unsubscribe func()
	started     bool
}

// NewManager builds a manager around the provider.
func NewManager(options Options) (*Manager, error) {
	if options.Provider == nil {
		return nil, errors.New("authstate.new: provider is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = authkit.NopMetrics{}
	}
	return &Manager{
		provider:    options.Provider,
		logger:      logger,
		metrics:     metrics,
		loading:     true,
		subscribers: make(map[int]func(Snapshot)),
	}, nil
}

// Start performs the initial session load and hooks into the provider's
// watcher feed when it offers one. Calling Start twice is a no-op.
func (manager *Manager) Start(ctx context.Context) {
	manager.mutex.Lock()
	if manager.started {
		manager.mutex.Unlock()
		return
	}
	manager.started = true
	manager.mutex.Unlock()

	session := manager.provider.CurrentSession(ctx)
	manager.mutex.Lock()
	manager.applySessionLocked(session)
	manager.loading = false
	manager.mutex.Unlock()
	manager.notify()

	if watcher, ok := manager.provider.(authkit.Watcher); ok {
		manager.unsubscribe = watcher.Subscribe(func(pushed *authkit.Session) {
			manager.mutex.Lock()
			manager.applySessionLocked(pushed)
			manager.mutex.Unlock()
			manager.notify()
		})
	}
	manager.logger.Info("auth state started",
		zap.String("provider", string(manager.provider.Kind())),
		zap.Bool("authenticated", session != nil))
}

// Close detaches from the provider's watcher feed.
func (manager *Manager) Close() {
	if manager.unsubscribe != nil {
		manager.unsubscribe()
		manager.unsubscribe = nil
	}
}

// Provider exposes the wrapped provider for capability probing.
func (manager *Manager) Provider() authkit.Provider {
	return manager.provider
}

// Snapshot returns a copy of the current state.
func (manager *Manager) Snapshot() Snapshot {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return Snapshot{
		User:      manager.user.Clone(),
		Session:   manager.session.Clone(),
		Loading:   manager.loading,
		LastError: manager.lastError,
	}
}

// IsAuthenticated reports whether a user is currently held.
func (manager *Manager) IsAuthenticated() bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.user != nil
}

// OnChange registers a callback invoked after every snapshot change. The
// returned function removes the registration.
func (manager *Manager) OnChange(callback func(Snapshot)) func() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.nextID++
	id := manager.nextID
	manager.subscribers[id] = callback
	return func() {
		manager.mutex.Lock()
		defer manager.mutex.Unlock()
		delete(manager.subscribers, id)
	}
}

// SignIn runs the provider sign-in and folds the outcome into the snapshot.
func (manager *Manager) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	result, err := manager.provider.SignIn(ctx, options)
	manager.applyResult(result, err)
	if err != nil {
		manager.metrics.Increment(authkit.EventSignInFailed)
		return nil, err
	}
	manager.metrics.Increment(authkit.EventSignInOK)
	return result, nil
}

// SignUp runs the provider sign-up and folds the outcome into the snapshot.
func (manager *Manager) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	result, err := manager.provider.SignUp(ctx, options)
	manager.applyResult(result, err)
	if err != nil {
		manager.metrics.Increment(authkit.EventSignUpFailed)
		return nil, err
	}
	manager.metrics.Increment(authkit.EventSignUpOK)
	return result, nil
}

// SignOut clears the provider session and the snapshot.
func (manager *Manager) SignOut(ctx context.Context) {
	manager.provider.SignOut(ctx)
	manager.mutex.Lock()
	manager.applySessionLocked(nil)
	manager.lastError = ""
	manager.mutex.Unlock()
	manager.metrics.Increment(authkit.EventSignOut)
	manager.notify()
}

// Refresh exchanges the refresh credential when the provider supports it.
func (manager *Manager) Refresh(ctx context.Context) (*authkit.Result, error) {
	refresher, ok := manager.provider.(authkit.TokenRefresher)
	if !ok {
		return nil, authkit.ErrNotSupported("provider cannot refresh sessions")
	}
	result, err := refresher.RefreshSession(ctx)
	manager.applyResult(result, err)
	if err != nil {
		manager.metrics.Increment(authkit.EventRefreshFailed)
		return nil, err
	}
	manager.metrics.Increment(authkit.EventRefreshOK)
	return result, nil
}

// Reload re-reads the provider session, for callers that changed backend
// state out of band.
func (manager *Manager) Reload(ctx context.Context) {
	session := manager.provider.CurrentSession(ctx)
	manager.mutex.Lock()
	manager.applySessionLocked(session)
	manager.mutex.Unlock()
	manager.notify()
}

func (manager *Manager) applyResult(result *authkit.Result, err error) {
	manager.mutex.Lock()
	if err != nil {
		manager.lastError = err.Error()
		manager.mutex.Unlock()
		manager.notify()
		return
	}
	manager.lastError = ""
	if result != nil && result.Session != nil {
		manager.applySessionLocked(result.Session)
	} else if result != nil && result.User != nil {
		manager.user = result.User.Clone()
		manager.session = nil
	}
	manager.mutex.Unlock()
	manager.notify()
}

func (manager *Manager) applySessionLocked(session *authkit.Session) {
	if session == nil {
		manager.user = nil
		manager.session = nil
		return
	}
	manager.session = session.Clone()
	userCopy := session.User
	manager.user = &userCopy
}

func (manager *Manager) notify() {
	manager.mutex.Lock()
	snapshot := Snapshot{
		User:      manager.user.Clone(),
		Session:   manager.session.Clone(),
		Loading:   manager.loading,
		LastError: manager.lastError,
	}
	callbacks := make([]func(Snapshot), 0, len(manager.subscribers))
	for _, callback := range manager.subscribers {
		callbacks = append(callbacks, callback)
	}
	manager.mutex.Unlock()
	for _, callback := range callbacks {
		callback(snapshot)
	}
}
