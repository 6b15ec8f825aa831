package oidcidp

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFlowStoreIssueAndConsume(t *testing.T) {
	t.Parallel()
	store := NewMemoryFlowStore(2 * time.Minute).(*memoryFlowStore)
	store.now = func() time.Time { return time.Unix(1000, 0) }

	state, err := store.Issue(context.Background(), FlowState{Nonce: "n1", RedirectTo: "/after"})
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}
	if state == "" {
		t.Fatalf("expected state token")
	}

	flow, consumeErr := store.Consume(context.Background(), state)
	if consumeErr != nil {
		t.Fatalf("consume state: %v", consumeErr)
	}
	if flow.Nonce != "n1" || flow.RedirectTo != "/after" {
		t.Fatalf("flow payload lost: %+v", flow)
	}

	if _, err := store.Consume(context.Background(), state); err != ErrFlowNotFound {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestMemoryFlowStoreExpiry(t *testing.T) {
	t.Parallel()
	store := NewMemoryFlowStore(time.Minute).(*memoryFlowStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	state, err := store.Issue(context.Background(), FlowState{Nonce: "n1"})
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}

	current = current.Add(2 * time.Minute)

	if _, err := store.Consume(context.Background(), state); err != ErrFlowExpired {
		t.Fatalf("expected ErrFlowExpired, got %v", err)
	}
}
