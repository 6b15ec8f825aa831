// Package credstore provides the session persistence strategies adapters are
// constructed with. The caller decides where a session lives (memory, file)
// instead of the adapter probing its environment at runtime.
package credstore

import (
	"context"

	"github.com/mprlab/authbridge/internal/authkit"
)

// Store persists at most one session. Load reports absence as (nil, nil);
// an error means the store itself failed, not that no session exists.
type Store interface {
	Save(ctx context.Context, session *authkit.Session) error
	Load(ctx context.Context) (*authkit.Session, error)
	Clear(ctx context.Context) error
}
