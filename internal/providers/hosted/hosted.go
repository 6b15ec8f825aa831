// Package hosted implements the provider contract against a hosted BaaS
// auth API speaking REST+JSON: password and refresh grants on /token,
// registration on /signup, profile on /user. The backend owns the user
// store; this adapter owns only the transport credentials.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mprlab/authbridge/internal/authkit"
	"github.com/mprlab/authbridge/internal/credstore"
)

// Options configure the adapter; snapshot at construction.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Store      credstore.Store
	Clock      authkit.Clock
	Logger     *zap.Logger
}

// Provider talks to the hosted auth API.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	store      credstore.Store
	clock      authkit.Clock
	logger     *zap.Logger

	subscriberMutex sync.Mutex
	subscribers     map[int]func(*authkit.Session)
	subscriberSeq   int
}

// New constructs the adapter, merging defaults into the options.
func New(options Options) (*Provider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		return nil, authkit.ErrProviderNotConfigured("hosted provider requires a base URL")
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
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
		baseURL:     baseURL,
		apiKey:      options.APIKey,
		httpClient:  httpClient,
		store:       store,
		clock:       clock,
		logger:      logger,
		subscribers: make(map[int]func(*authkit.Session)),
	}, nil
}

// Kind returns the hosted-BaaS discriminator.
func (provider *Provider) Kind() authkit.Kind {
	return authkit.KindHosted
}

// SignIn performs the password grant.
func (provider *Provider) SignIn(ctx context.Context, options authkit.SignInOptions) (*authkit.Result, error) {
	identifier := strings.TrimSpace(options.Identifier)
	if identifier == "" || options.Password == "" {
		return nil, authkit.ErrValidation("identifier and password are required")
	}
	var grant grantResponse
	err := provider.postJSON(ctx, "/token?grant_type=password", map[string]string{
		"email":    identifier,
		"password": options.Password,
	}, "", &grant)
	if err != nil {
		return nil, err
	}
	session := provider.grantToSession(grant)
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	provider.notify(session)
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone(), RedirectTo: options.RedirectTo}, nil
}

// SignUp registers a user. When the backend requires email confirmation the
// result carries NeedsVerification and no session.
func (provider *Provider) SignUp(ctx context.Context, options authkit.SignUpOptions) (*authkit.Result, error) {
	if strings.TrimSpace(options.Email) == "" || options.Password == "" {
		return nil, authkit.ErrValidation("email and password are required")
	}
	payload := map[string]any{
		"email":    options.Email,
		"password": options.Password,
	}
	metadata := map[string]any{}
	for key, value := range options.Metadata {
		metadata[key] = value
	}
	if options.DisplayName != "" {
		metadata["display_name"] = options.DisplayName
	}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}
	var grant grantResponse
	if err := provider.postJSON(ctx, "/signup", payload, "", &grant); err != nil {
		return nil, err
	}

	// No token pair means the account is parked until the email confirm.
	if grant.AccessToken == "" {
		user := grant.User.toUser()
		return &authkit.Result{User: user, NeedsVerification: true, RedirectTo: options.RedirectTo}, nil
	}
	session := provider.grantToSession(grant)
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	provider.notify(session)
	userCopy := session.User
	return &authkit.Result{User: &userCopy, Session: session.Clone(), RedirectTo: options.RedirectTo}, nil
}

// SignOut clears the local session and best-effort revokes it upstream.
func (provider *Provider) SignOut(ctx context.Context) {
	session, loadErr := provider.store.Load(ctx)
	if clearErr := provider.store.Clear(ctx); clearErr != nil {
		provider.logger.Warn("hosted sign-out clear failed", zap.Error(clearErr))
	}
	if loadErr == nil && session != nil && session.AccessToken != "" {
		if err := provider.postJSON(ctx, "/logout", nil, session.AccessToken, nil); err != nil {
			provider.logger.Debug("hosted logout notify failed", zap.Error(err))
		}
	}
	provider.notify(nil)
}

// CurrentUser returns the locally held identity, or nil.
func (provider *Provider) CurrentUser(ctx context.Context) *authkit.User {
	session := provider.CurrentSession(ctx)
	if session == nil {
		return nil
	}
	userCopy := session.User
	return &userCopy
}

// CurrentSession returns the stored session unless it has expired.
func (provider *Provider) CurrentSession(ctx context.Context) *authkit.Session {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil {
		return nil
	}
	if session.Expired(provider.clock.Now()) {
		return nil
	}
	return session
}

// AuthenticateToken asks the backend for the profile behind a
// request-carried access token. The backend is the authority on validity, so
// any token it accepts resolves, not just the one this instance holds.
func (provider *Provider) AuthenticateToken(ctx context.Context, token string) *authkit.User {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	var payload userPayload
	if err := provider.requestJSON(ctx, http.MethodGet, "/user", nil, token, &payload); err != nil {
		provider.logger.Debug("hosted token lookup rejected", zap.Error(err))
		return nil
	}
	if payload.ID == "" {
		return nil
	}
	return payload.toUser()
}

// RefreshSession performs the refresh grant and replaces the session.
func (provider *Provider) RefreshSession(ctx context.Context) (*authkit.Result, error) {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil || session.RefreshToken == "" {
		return nil, authkit.ErrSessionExpired("no refresh credential held")
	}
	var grant grantResponse
	err := provider.postJSON(ctx, "/token?grant_type=refresh_token", map[string]string{
		"refresh_token": session.RefreshToken,
	}, "", &grant)
	if err != nil {
		return nil, err
	}
	refreshed := provider.grantToSession(grant)
	if saveErr := provider.store.Save(ctx, refreshed); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	provider.notify(refreshed)
	userCopy := refreshed.User
	return &authkit.Result{User: &userCopy, Session: refreshed.Clone()}, nil
}

// ResetPassword asks the backend to start a password recovery flow.
func (provider *Provider) ResetPassword(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return authkit.ErrValidation("email is required")
	}
	return provider.postJSON(ctx, "/recover", map[string]string{"email": email}, "", nil)
}

// UpdateUser applies a partial profile update through the backend.
func (provider *Provider) UpdateUser(ctx context.Context, update authkit.UserUpdate) (*authkit.User, error) {
	session, loadErr := provider.store.Load(ctx)
	if loadErr != nil || session == nil {
		return nil, authkit.ErrUnauthorized("no active session")
	}
	payload := map[string]any{}
	if update.Email != nil {
		payload["email"] = *update.Email
	}
	if update.Password != nil {
		payload["password"] = *update.Password
	}
	metadata := map[string]any{}
	for key, value := range update.Metadata {
		metadata[key] = value
	}
	if update.DisplayName != nil {
		metadata["display_name"] = *update.DisplayName
	}
	if update.AvatarURL != nil {
		metadata["avatar_url"] = *update.AvatarURL
	}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}
	var updated userPayload
	if err := provider.requestJSON(ctx, http.MethodPut, "/user", payload, session.AccessToken, &updated); err != nil {
		return nil, err
	}
	user := updated.toUser()
	session.User = *user
	if saveErr := provider.store.Save(ctx, session); saveErr != nil {
		return nil, authkit.ErrProvider("persisting session", saveErr)
	}
	provider.notify(session)
	return user, nil
}

// Subscribe registers a callback invoked on every session change; a nil
// session signals sign-out. The returned function tears the subscription
// down.
func (provider *Provider) Subscribe(callback func(*authkit.Session)) func() {
	provider.subscriberMutex.Lock()
	defer provider.subscriberMutex.Unlock()
	provider.subscriberSeq++
	id := provider.subscriberSeq
	provider.subscribers[id] = callback
	return func() {
		provider.subscriberMutex.Lock()
		defer provider.subscriberMutex.Unlock()
		delete(provider.subscribers, id)
	}
}

// StartAutoRefresh refreshes the session shortly before expiry until the
// context is cancelled. Subscribers observe each refreshed session.
func (provider *Provider) StartAutoRefresh(ctx context.Context, leeway time.Duration) {
	if leeway <= 0 {
		leeway = time.Minute
	}
	go func() {
		for {
			session, _ := provider.store.Load(ctx)
			if session == nil || session.ExpiresAt.IsZero() {
				return
			}
			wait := session.ExpiresAt.Sub(provider.clock.Now()) - leeway
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if _, err := provider.RefreshSession(ctx); err != nil {
				provider.logger.Warn("hosted auto-refresh failed", zap.Error(err))
				return
			}
		}
	}()
}

func (provider *Provider) notify(session *authkit.Session) {
	provider.subscriberMutex.Lock()
	callbacks := make([]func(*authkit.Session), 0, len(provider.subscribers))
	for _, callback := range provider.subscribers {
		callbacks = append(callbacks, callback)
	}
	provider.subscriberMutex.Unlock()
	for _, callback := range callbacks {
		callback(session.Clone())
	}
}

func (provider *Provider) grantToSession(grant grantResponse) *authkit.Session {
	session := &authkit.Session{
		User:         *grant.User.toUser(),
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	}
	if grant.ExpiresIn > 0 {
		session.ExpiresAt = provider.clock.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	}
	return session
}

func (provider *Provider) postJSON(ctx context.Context, path string, payload any, bearer string, out any) error {
	return provider.requestJSON(ctx, http.MethodPost, path, payload, bearer, out)
}

func (provider *Provider) requestJSON(ctx context.Context, method string, path string, payload any, bearer string, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, encodeErr := json.Marshal(payload)
		if encodeErr != nil {
			return authkit.ErrProvider("encoding request", encodeErr)
		}
		body = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, provider.baseURL+path, body)
	if requestErr != nil {
		return authkit.ErrProvider("building request", requestErr)
	}
	request.Header.Set("Content-Type", "application/json")
	if provider.apiKey != "" {
		request.Header.Set("apikey", provider.apiKey)
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, doErr := provider.httpClient.Do(request)
	if doErr != nil {
		return authkit.ErrProvider("hosted auth API unreachable", doErr)
	}
	defer func() { _ = response.Body.Close() }()

	responseBody, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if readErr != nil {
		return authkit.ErrProvider("reading response", readErr)
	}
	if response.StatusCode >= 400 {
		return translateAPIError(response.StatusCode, responseBody)
	}
	if out != nil && len(responseBody) > 0 {
		if decodeErr := json.Unmarshal(responseBody, out); decodeErr != nil {
			return authkit.ErrProvider("decoding response", decodeErr)
		}
	}
	return nil
}

type grantResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
	AppMetadata      struct {
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	} `json:"app_metadata"`
}

func (payload userPayload) toUser() *authkit.User {
	user := &authkit.User{
		ID:            payload.ID,
		Email:         payload.Email,
		Roles:         payload.AppMetadata.Roles,
		Permissions:   payload.AppMetadata.Permissions,
		Metadata:      payload.UserMetadata,
		EmailVerified: payload.EmailConfirmedAt != "",
	}
	if displayName, ok := payload.UserMetadata["display_name"].(string); ok {
		user.DisplayName = displayName
	}
	if avatarURL, ok := payload.UserMetadata["avatar_url"].(string); ok {
		user.AvatarURL = avatarURL
	}
	if createdAt, parseErr := time.Parse(time.RFC3339, payload.CreatedAt); parseErr == nil {
		user.CreatedAt = createdAt
	}
	if updatedAt, parseErr := time.Parse(time.RFC3339, payload.UpdatedAt); parseErr == nil {
		user.UpdatedAt = updatedAt
	}
	user.Normalize()
	return user
}

type apiErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
	Code             string `json:"error_code"`
}

// translateAPIError maps the backend's error vocabulary onto the shared
// taxonomy. Anything unmapped becomes provider_error with the raw payload
// kept in details so the cause is never lost.
func translateAPIError(statusCode int, responseBody []byte) error {
	var parsed apiErrorBody
	_ = json.Unmarshal(responseBody, &parsed)
	message := parsed.ErrorDescription
	if message == "" {
		message = parsed.Message
	}
	if message == "" {
		message = parsed.Error
	}

	switch {
	case parsed.Error == "invalid_grant", parsed.Code == "invalid_credentials":
		return authkit.ErrInvalidCredentials(message)
	case parsed.Code == "email_not_confirmed":
		return authkit.ErrEmailNotVerified(message)
	case parsed.Code == "user_already_exists", statusCode == http.StatusUnprocessableEntity:
		return authkit.ErrUserAlreadyExists(message)
	case statusCode == http.StatusTooManyRequests:
		return authkit.ErrTooManyRequests(message)
	case statusCode == http.StatusUnauthorized:
		return authkit.ErrUnauthorized(message)
	case statusCode == http.StatusForbidden:
		return authkit.ErrForbidden(message)
	case statusCode == http.StatusBadRequest:
		return authkit.ErrValidation(message)
	default:
		return authkit.ErrProvider(
			fmt.Sprintf("hosted auth API returned %d", statusCode),
			fmt.Errorf("hosted: %s", string(responseBody)),
		).WithDetails(string(responseBody))
	}
}
