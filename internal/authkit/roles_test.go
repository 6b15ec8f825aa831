package authkit

import "testing"

func TestHasAnyRole(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		userRoles []string
		wanted    []string
		expect    bool
	}{
		{"has_first", []string{"admin"}, []string{"admin", "editor"}, true},
		{"has_second", []string{"editor"}, []string{"admin", "editor"}, true},
		{"has_both", []string{"admin", "editor"}, []string{"admin", "editor"}, true},
		{"has_neither", []string{"viewer"}, []string{"admin", "editor"}, false},
		{"empty_roles", []string{}, []string{"admin", "editor"}, false},
		{"empty_wanted", []string{"admin"}, nil, false},
	}
	for _, testCase := range cases {
		user := &User{ID: "u1", Roles: testCase.userRoles}
		if got := HasAnyRole(user, testCase.wanted...); got != testCase.expect {
			t.Fatalf("%s: HasAnyRole = %v, want %v", testCase.name, got, testCase.expect)
		}
	}
}

func TestHasAllRoles(t *testing.T) {
	t.Parallel()
	user := &User{ID: "u1", Roles: []string{"admin", "editor"}}
	if !HasAllRoles(user, "admin", "editor") {
		t.Fatalf("expected all roles satisfied")
	}
	if HasAllRoles(user, "admin", "owner") {
		t.Fatalf("missing role must fail the all quantifier")
	}
	if !HasAllRoles(user) {
		t.Fatalf("empty requirement is vacuously satisfied")
	}
}

func TestRolePredicatesNilUser(t *testing.T) {
	t.Parallel()
	if HasRole(nil, "admin") || HasAnyRole(nil, "admin") || HasAllRoles(nil, "admin") {
		t.Fatalf("nil user must satisfy no role predicate")
	}
	if HasPermission(nil, "read") || HasAnyPermission(nil, "read") || HasAllPermissions(nil, "read") {
		t.Fatalf("nil user must satisfy no permission predicate")
	}
}

func TestPermissionPredicates(t *testing.T) {
	t.Parallel()
	user := &User{ID: "u1", Permissions: []string{"posts:read", "posts:write"}}
	if !HasPermission(user, "posts:read") {
		t.Fatalf("expected direct permission hit")
	}
	if !HasAnyPermission(user, "posts:delete", "posts:write") {
		t.Fatalf("expected any-quantifier hit")
	}
	if HasAllPermissions(user, "posts:read", "posts:delete") {
		t.Fatalf("missing permission must fail the all quantifier")
	}
}

func TestNormalizeDefaultsSets(t *testing.T) {
	t.Parallel()
	user := &User{ID: "u1"}
	user.Normalize()
	if user.Roles == nil || user.Permissions == nil {
		t.Fatalf("normalize must default sets to empty, never nil")
	}
}
