package oidcidp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

var (
	// ErrFlowNotFound indicates the state token was not issued or already consumed.
	ErrFlowNotFound = errors.New("oidcidp.flow_not_found")
	// ErrFlowExpired indicates the state token expired before the callback.
	ErrFlowExpired = errors.New("oidcidp.flow_expired")
)

// FlowState is the per-authorization data bound to a state token.
type FlowState struct {
	Nonce      string
	RedirectTo string
}

// FlowStore issues one-time state tokens binding an authorization request to
// its callback. Consume invalidates; a replayed state must fail.
type FlowStore interface {
	Issue(ctx context.Context, flow FlowState) (string, error)
	Consume(ctx context.Context, state string) (FlowState, error)
}

type flowEntry struct {
	flow   FlowState
	expiry time.Time
}

type memoryFlowStore struct {
	mutex     sync.Mutex
	entries   map[string]flowEntry
	ttl       time.Duration
	now       func() time.Time
	tokenSize int
}

// NewMemoryFlowStore constructs an in-memory FlowStore with the provided TTL.
func NewMemoryFlowStore(ttl time.Duration) FlowStore {
	return &memoryFlowStore{
		entries:   make(map[string]flowEntry),
		ttl:       ttl,
		now:       time.Now,
		tokenSize: 32,
	}
}

func (store *memoryFlowStore) Issue(ctx context.Context, flow FlowState) (string, error) {
	state, err := randomToken(store.tokenSize)
	if err != nil {
		return "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[state] = flowEntry{flow: flow, expiry: store.now().Add(store.ttl)}
	return state, nil
}

func (store *memoryFlowStore) Consume(ctx context.Context, state string) (FlowState, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, ok := store.entries[state]
	if !ok {
		store.purgeExpiredLocked()
		return FlowState{}, ErrFlowNotFound
	}
	delete(store.entries, state)
	if store.now().After(entry.expiry) {
		store.purgeExpiredLocked()
		return FlowState{}, ErrFlowExpired
	}
	store.purgeExpiredLocked()
	return entry.flow, nil
}

func (store *memoryFlowStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for state, entry := range store.entries {
		if now.After(entry.expiry) {
			delete(store.entries, state)
		}
	}
}

func randomToken(size int) (string, error) {
	buffer := make([]byte, size)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
