package credstore

import (
	"context"
	"sync"

	"github.com/mprlab/authbridge/internal/authkit"
)

// Memory holds the session in process memory. Each adapter instance owns
// its store, so the mutex only defends against concurrent calls on the same
// instance.
type Memory struct {
	mutex   sync.Mutex
	session *authkit.Session
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save replaces the held session.
func (store *Memory) Save(ctx context.Context, session *authkit.Session) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.session = session.Clone()
	return nil
}

// Load returns a copy of the held session, or nil when absent.
func (store *Memory) Load(ctx context.Context) (*authkit.Session, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.session.Clone(), nil
}

// Clear drops the held session.
func (store *Memory) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.session = nil
	return nil
}
