package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mprlab/authbridge/internal/authkit"
)

// File persists the session as JSON on disk, the storage strategy used by
// CLI and daemon deployments that must survive a restart. The file is
// written with owner-only permissions since it carries live tokens.
type File struct {
	mutex sync.Mutex
	path  string
}

// NewFile constructs a file-backed store at the given path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("credstore.file: empty path")
	}
	return &File{path: path}, nil
}

// Save writes the session to disk atomically via a sibling temp file.
func (store *File) Save(ctx context.Context, session *authkit.Session) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	payload, marshalErr := json.Marshal(session)
	if marshalErr != nil {
		return fmt.Errorf("credstore.file.save: %w", marshalErr)
	}
	temporaryPath := store.path + ".tmp"
	if writeErr := os.WriteFile(temporaryPath, payload, 0o600); writeErr != nil {
		return fmt.Errorf("credstore.file.save: %w", writeErr)
	}
	if renameErr := os.Rename(temporaryPath, store.path); renameErr != nil {
		return fmt.Errorf("credstore.file.save: %w", renameErr)
	}
	return nil
}

// Load reads the session from disk; a missing file means no session.
func (store *File) Load(ctx context.Context) (*authkit.Session, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	payload, readErr := os.ReadFile(store.path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("credstore.file.load: %w", readErr)
	}
	var session authkit.Session
	if unmarshalErr := json.Unmarshal(payload, &session); unmarshalErr != nil {
		return nil, fmt.Errorf("credstore.file.load: %w", unmarshalErr)
	}
	return &session, nil
}

// Clear removes the session file; a missing file is already clear.
func (store *File) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if removeErr := os.Remove(store.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("credstore.file.clear: %w", removeErr)
	}
	return nil
}

// DefaultPath places the session file under the user config directory.
func DefaultPath(applicationName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("credstore.file.default_path: %w", err)
	}
	return filepath.Join(configDir, applicationName, "session.json"), nil
}
