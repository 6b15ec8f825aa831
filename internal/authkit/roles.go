package authkit

// Role and permission predicates are pure membership tests over the user's
// normalized sets. A nil user satisfies nothing; an empty requirement list
// is satisfied by nobody for "any" and by everybody for "all", matching the
// quantifier semantics exactly.

// HasRole reports whether the user carries the given role.
func HasRole(user *User, role string) bool {
	if user == nil {
		return false
	}
	return contains(user.Roles, role)
}

// HasAnyRole reports whether the user carries at least one of the roles.
func HasAnyRole(user *User, roles ...string) bool {
	if user == nil {
		return false
	}
	for _, role := range roles {
		if contains(user.Roles, role) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the user carries every listed role.
func HasAllRoles(user *User, roles ...string) bool {
	if user == nil {
		return false
	}
	for _, role := range roles {
		if !contains(user.Roles, role) {
			return false
		}
	}
	return true
}

// HasPermission reports whether the user carries the given permission.
func HasPermission(user *User, permission string) bool {
	if user == nil {
		return false
	}
	return contains(user.Permissions, permission)
}

// HasAnyPermission reports whether the user carries at least one permission.
func HasAnyPermission(user *User, permissions ...string) bool {
	if user == nil {
		return false
	}
	for _, permission := range permissions {
		if contains(user.Permissions, permission) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the user carries every listed permission.
func HasAllPermissions(user *User, permissions ...string) bool {
	if user == nil {
		return false
	}
	for _, permission := range permissions {
		if !contains(user.Permissions, permission) {
			return false
		}
	}
	return true
}

func contains(values []string, wanted string) bool {
	for _, value := range values {
		if value == wanted {
			return true
		}
	}
	return false
}
