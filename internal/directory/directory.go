// Package directory abstracts the durable user stores behind the local-JWT,
// database, and session-service providers. It deals in credentials and
// profiles only; session issuance belongs to the providers.
package directory

import (
	"context"
	"errors"

	"github.com/mprlab/authbridge/internal/authkit"
)

var (
	// ErrNotFound indicates no user matched the identifier.
	ErrNotFound = errors.New("directory.not_found")
	// ErrExists indicates the email is already registered.
	ErrExists = errors.New("directory.exists")
	// ErrBadPassword indicates the password check failed. Callers translate
	// this and ErrNotFound to the same taxonomy code so responses do not
	// leak which accounts exist.
	ErrBadPassword = errors.New("directory.bad_password")
)

// NewUser is the registration payload.
type NewUser struct {
	Email       string
	Password    string
	DisplayName string
	Roles       []string
	Permissions []string
	Metadata    map[string]any
}

// Directory persists users and verifies their credentials.
type Directory interface {
	Authenticate(ctx context.Context, identifier string, password string) (*authkit.User, error)
	Create(ctx context.Context, newUser NewUser) (*authkit.User, error)
	Lookup(ctx context.Context, userID string) (*authkit.User, error)
	Update(ctx context.Context, userID string, update authkit.UserUpdate) (*authkit.User, error)
	Delete(ctx context.Context, userID string) error
}
