package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStoresShareSentinelErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		store func(t *testing.T) Store
	}{
		{
			name: "memory",
			store: func(t *testing.T) Store {
				t.Helper()
				return NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			store: func(t *testing.T) Store {
				t.Helper()
				store, err := NewDatabaseStore(context.Background(), "sqlite://file::memory:?cache=shared")
				if err != nil {
					t.Fatalf("failed to create sqlite store: %v", err)
				}
				return store
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			store := testCase.store(t)

			if _, err := store.Validate(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			tokenID, opaque, issueErr := store.Issue(context.Background(), "user", time.Now().Add(time.Minute), "")
			if issueErr != nil {
				t.Fatalf("issue failed: %v", issueErr)
			}

			if err := store.Revoke(context.Background(), tokenID); err != nil {
				t.Fatalf("revoke failed: %v", err)
			}
			if err := store.Revoke(context.Background(), tokenID); !errors.Is(err, ErrAlreadyRevoked) {
				t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
			}

			if _, err := store.Validate(context.Background(), opaque); !errors.Is(err, ErrRevoked) {
				t.Fatalf("expected ErrRevoked, got %v", err)
			}

			_, expiredOpaque, issueExpiredErr := store.Issue(context.Background(), "user", time.Now().Add(-time.Minute), "")
			if issueExpiredErr != nil {
				t.Fatalf("issue expired failed: %v", issueExpiredErr)
			}
			if _, err := store.Validate(context.Background(), expiredOpaque); !errors.Is(err, ErrExpired) {
				t.Fatalf("expected ErrExpired, got %v", err)
			}

			if err := store.Revoke(context.Background(), "missing-token"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound when revoking missing token, got %v", err)
			}
		})
	}
}

func TestMemoryStoreRotationLink(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	firstID, _, err := store.Issue(context.Background(), "user-1", time.Now().Add(time.Hour), "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, secondOpaque, err := store.Issue(context.Background(), "user-1", time.Now().Add(time.Hour), firstID)
	if err != nil {
		t.Fatalf("issue rotated: %v", err)
	}
	validated, validateErr := store.Validate(context.Background(), secondOpaque)
	if validateErr != nil {
		t.Fatalf("validate: %v", validateErr)
	}
	if validated.RotatedFrom != firstID {
		t.Fatalf("rotated_from = %q, want %q", validated.RotatedFrom, firstID)
	}
}

func TestMemoryStoreEmptyOpaque(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	if _, err := store.Validate(context.Background(), ""); !errors.Is(err, ErrEmptyOpaque) {
		t.Fatalf("expected ErrEmptyOpaque, got %v", err)
	}
}
