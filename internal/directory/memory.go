package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mprlab/authbridge/internal/authkit"
)

// MemoryDirectory keeps users in process memory, hashed with bcrypt. It
// backs tests and single-node deployments of the local-JWT provider.
type MemoryDirectory struct {
	mutex   sync.Mutex
	byID    map[string]*memoryUser
	byEmail map[string]string
	now     func() time.Time
	cost    int
}

type memoryUser struct {
	user         authkit.User
	passwordHash []byte
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]*memoryUser),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
		cost:    bcrypt.DefaultCost,
	}
}

// Authenticate verifies the identifier/password pair.
func (store *MemoryDirectory) Authenticate(ctx context.Context, identifier string, password string) (*authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	userID, ok := store.byEmail[normalizeEmail(identifier)]
	if !ok {
		return nil, ErrNotFound
	}
	record := store.byID[userID]
	if record == nil {
		return nil, ErrNotFound
	}
	if compareErr := bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)); compareErr != nil {
		return nil, ErrBadPassword
	}
	return record.user.Clone(), nil
}

// Create registers a new user with a fresh uuid.
func (store *MemoryDirectory) Create(ctx context.Context, newUser NewUser) (*authkit.User, error) {
	email := normalizeEmail(newUser.Email)
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(newUser.Password), store.cost)
	if hashErr != nil {
		return nil, fmt.Errorf("directory.memory.create: %w", hashErr)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, taken := store.byEmail[email]; taken {
		return nil, ErrExists
	}
	now := store.now()
	roles := newUser.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	user := authkit.User{
		ID:            uuid.NewString(),
		Email:         email,
		DisplayName:   newUser.DisplayName,
		Roles:         roles,
		Permissions:   append([]string{}, newUser.Permissions...),
		Metadata:      newUser.Metadata,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	user.Normalize()
	store.byID[user.ID] = &memoryUser{user: user, passwordHash: passwordHash}
	store.byEmail[email] = user.ID
	return user.Clone(), nil
}

// Lookup returns the user by id.
func (store *MemoryDirectory) Lookup(ctx context.Context, userID string) (*authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.byID[userID]
	if record == nil {
		return nil, ErrNotFound
	}
	return record.user.Clone(), nil
}

// Update applies the non-nil fields of the partial update.
func (store *MemoryDirectory) Update(ctx context.Context, userID string, update authkit.UserUpdate) (*authkit.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[userID]
	if record == nil {
		return nil, ErrNotFound
	}
	if update.Email != nil {
		newEmail := normalizeEmail(*update.Email)
		if existingID, taken := store.byEmail[newEmail]; taken && existingID != userID {
			return nil, ErrExists
		}
		delete(store.byEmail, record.user.Email)
		store.byEmail[newEmail] = userID
		record.user.Email = newEmail
	}
	if update.DisplayName != nil {
		record.user.DisplayName = *update.DisplayName
	}
	if update.AvatarURL != nil {
		record.user.AvatarURL = *update.AvatarURL
	}
	if update.Password != nil {
		passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(*update.Password), store.cost)
		if hashErr != nil {
			return nil, fmt.Errorf("directory.memory.update: %w", hashErr)
		}
		record.passwordHash = passwordHash
	}
	if update.Metadata != nil {
		record.user.Metadata = update.Metadata
	}
	record.user.UpdatedAt = store.now()
	return record.user.Clone(), nil
}

// Delete removes the user.
func (store *MemoryDirectory) Delete(ctx context.Context, userID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.byID[userID]
	if record == nil {
		return ErrNotFound
	}
	delete(store.byEmail, record.user.Email)
	delete(store.byID, userID)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
