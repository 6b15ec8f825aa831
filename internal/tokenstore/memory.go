package tokenstore

import (
	"context"
	"encoding/base64"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store intended for tests and single-node dev.
type MemoryStore struct {
	mutex      sync.Mutex
	byID       map[string]*memoryToken
	byHash     map[string]string
	sequenceID uint64
	now        func() time.Time
}

type memoryToken struct {
	tokenID     string
	userID      string
	hash        string
	expiresAt   time.Time
	revokedAt   time.Time
	rotatedFrom string
	issuedAt    time.Time
}

// NewMemoryStore creates a new in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*memoryToken),
		byHash: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a new token, optionally linked to the token it rotates from.
func (store *MemoryStore) Issue(ctx context.Context, userID string, expiresAt time.Time, rotatedFrom string) (string, string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	opaque, hashValue, err := generateOpaque()
	if err != nil {
		return "", "", err
	}
	tokenID := store.nextIDLocked()
	record := &memoryToken{
		tokenID:     tokenID,
		userID:      userID,
		hash:        hashValue,
		expiresAt:   expiresAt,
		rotatedFrom: rotatedFrom,
		issuedAt:    store.now(),
	}
	store.byID[tokenID] = record
	store.byHash[hashValue] = tokenID
	return tokenID, opaque, nil
}

// Validate checks the opaque token against the stored hash.
func (store *MemoryStore) Validate(ctx context.Context, opaque string) (Token, error) {
	if opaque == "" {
		return Token{}, ErrEmptyOpaque
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[hashOpaque(opaque)]
	if !ok {
		return Token{}, ErrNotFound
	}
	record := store.byID[tokenID]
	if record == nil {
		return Token{}, ErrNotFound
	}
	if !record.revokedAt.IsZero() {
		return Token{}, ErrRevoked
	}
	if record.expiresAt.Before(store.now()) {
		return Token{}, ErrExpired
	}
	return Token{
		ID:          record.tokenID,
		UserID:      record.userID,
		ExpiresAt:   record.expiresAt,
		RotatedFrom: record.rotatedFrom,
	}, nil
}

// Revoke marks a token as revoked.
func (store *MemoryStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return ErrNotFound
	}
	if !record.revokedAt.IsZero() {
		return ErrAlreadyRevoked
	}
	record.revokedAt = store.now()
	return nil
}

func (store *MemoryStore) nextIDLocked() string {
	store.sequenceID++
	sequenceFragment := base64.RawURLEncoding.EncodeToString([]byte{byte(store.sequenceID % 255)})
	return newTokenID(store.now()) + "-" + sequenceFragment
}
