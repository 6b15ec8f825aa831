package authkit

import "time"

// User is the normalized identity record shared by every provider.
// Instances are replaced wholesale on each backend call, never mutated.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email,omitempty"`
	DisplayName   string         `json:"display_name,omitempty"`
	AvatarURL     string         `json:"avatar_url,omitempty"`
	Roles         []string       `json:"roles"`
	Permissions   []string       `json:"permissions"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	CreatedAt     time.Time      `json:"created_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at,omitempty"`
}

// Clone returns a deep copy so callers can hand the user across goroutines
// without aliasing the provider's internal state.
func (user *User) Clone() *User {
	if user == nil {
		return nil
	}
	clone := *user
	clone.Roles = append([]string(nil), user.Roles...)
	clone.Permissions = append([]string(nil), user.Permissions...)
	if user.Metadata != nil {
		clone.Metadata = make(map[string]any, len(user.Metadata))
		for key, value := range user.Metadata {
			clone.Metadata[key] = value
		}
	}
	return &clone
}

// Normalize guarantees role and permission sets are non-nil before the
// guard utilities consume them.
func (user *User) Normalize() {
	if user == nil {
		return
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	if user.Permissions == nil {
		user.Permissions = []string{}
	}
}

// Session couples a user with the transport credentials that prove it.
type Session struct {
	User         User      `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Clone returns a deep copy of the session.
func (session *Session) Clone() *Session {
	if session == nil {
		return nil
	}
	clone := *session
	if userClone := session.User.Clone(); userClone != nil {
		clone.User = *userClone
	}
	return &clone
}

// Expired reports whether the session's expiry has passed at the given time.
// Sessions without an expiry never expire here; their backend decides.
func (session *Session) Expired(now time.Time) bool {
	if session == nil {
		return true
	}
	return !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt)
}

// Result is the uniform return value of every mutating provider operation.
// At most one of User/Session is populated; a result with neither signals a
// redirect-only hand-off (RedirectTo carries the destination).
type Result struct {
	User              *User    `json:"user,omitempty"`
	Session           *Session `json:"session,omitempty"`
	NeedsVerification bool     `json:"needs_verification,omitempty"`
	RedirectTo        string   `json:"redirect_to,omitempty"`
}

// SignInOptions carry the credentials for a password sign-in.
type SignInOptions struct {
	Identifier string
	Password   string
	Remember   bool
	RedirectTo string
}

// SignUpOptions carry the registration payload.
type SignUpOptions struct {
	Email       string
	Password    string
	DisplayName string
	Metadata    map[string]any
	RedirectTo  string
}

// OAuthOptions select the upstream identity provider for a redirect flow.
type OAuthOptions struct {
	Provider   string
	RedirectTo string
	Scopes     []string
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Email       *string
	DisplayName *string
	AvatarURL   *string
	Password    *string
	Metadata    map[string]any
}
