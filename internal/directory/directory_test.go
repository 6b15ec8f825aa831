package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/mprlab/authbridge/internal/authkit"
)

func newDirectories(t *testing.T) map[string]Directory {
	t.Helper()
	database, err := NewDatabaseDirectory(context.Background(), "sqlite://file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite directory: %v", err)
	}
	return map[string]Directory{
		"memory": NewMemoryDirectory(),
		"sqlite": database,
	}
}

func TestDirectoryContract(t *testing.T) {
	t.Parallel()
	for name, store := range newDirectories(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			email := name + "-alice@example.com"

			created, createErr := store.Create(ctx, NewUser{
				Email:       email,
				Password:    "hunter2!",
				DisplayName: "Alice",
			})
			if createErr != nil {
				t.Fatalf("create: %v", createErr)
			}
			if created.ID == "" {
				t.Fatalf("expected backend-assigned id")
			}
			if len(created.Roles) == 0 {
				t.Fatalf("expected default role set")
			}

			if _, dupErr := store.Create(ctx, NewUser{Email: email, Password: "other"}); !errors.Is(dupErr, ErrExists) {
				t.Fatalf("duplicate create: want ErrExists, got %v", dupErr)
			}

			authenticated, authErr := store.Authenticate(ctx, email, "hunter2!")
			if authErr != nil {
				t.Fatalf("authenticate: %v", authErr)
			}
			if authenticated.ID != created.ID {
				t.Fatalf("authenticate returned a different user: %q vs %q", authenticated.ID, created.ID)
			}

			if _, badErr := store.Authenticate(ctx, email, "wrong"); !errors.Is(badErr, ErrBadPassword) {
				t.Fatalf("wrong password: want ErrBadPassword, got %v", badErr)
			}
			if _, missingErr := store.Authenticate(ctx, "nobody@example.com", "x"); !errors.Is(missingErr, ErrNotFound) {
				t.Fatalf("unknown user: want ErrNotFound, got %v", missingErr)
			}

			newName := "Alice Liddell"
			updated, updateErr := store.Update(ctx, created.ID, authkit.UserUpdate{DisplayName: &newName})
			if updateErr != nil {
				t.Fatalf("update: %v", updateErr)
			}
			if updated.DisplayName != newName {
				t.Fatalf("display name not updated: %q", updated.DisplayName)
			}

			if deleteErr := store.Delete(ctx, created.ID); deleteErr != nil {
				t.Fatalf("delete: %v", deleteErr)
			}
			if _, lookupErr := store.Lookup(ctx, created.ID); !errors.Is(lookupErr, ErrNotFound) {
				t.Fatalf("lookup after delete: want ErrNotFound, got %v", lookupErr)
			}
			if deleteErr := store.Delete(ctx, created.ID); !errors.Is(deleteErr, ErrNotFound) {
				t.Fatalf("second delete: want ErrNotFound, got %v", deleteErr)
			}
		})
	}
}

func TestMemoryDirectoryPasswordRotation(t *testing.T) {
	t.Parallel()
	store := NewMemoryDirectory()
	ctx := context.Background()

	created, err := store.Create(ctx, NewUser{Email: "bob@example.com", Password: "original"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rotated := "rotated-secret"
	if _, err := store.Update(ctx, created.ID, authkit.UserUpdate{Password: &rotated}); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if _, err := store.Authenticate(ctx, "bob@example.com", "original"); !errors.Is(err, ErrBadPassword) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := store.Authenticate(ctx, "bob@example.com", rotated); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestEmailNormalization(t *testing.T) {
	t.Parallel()
	store := NewMemoryDirectory()
	ctx := context.Background()
	if _, err := store.Create(ctx, NewUser{Email: "  Carol@Example.COM ", Password: "pw"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Authenticate(ctx, "carol@example.com", "pw"); err != nil {
		t.Fatalf("normalized lookup failed: %v", err)
	}
}
