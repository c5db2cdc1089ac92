package rbac

// Subject is anything carrying a materialized permission set: a fetched
// user record or the claims of a verified access token.
type Subject interface {
	GrantedPermissions() []Permission
}

func HasPermission(s Subject, p Permission) bool {
	if s == nil {
		return false
	}
	for _, granted := range s.GrantedPermissions() {
		if granted == p {
			return true
		}
	}
	return false
}

func HasAnyPermission(s Subject, perms ...Permission) bool {
	for _, p := range perms {
		if HasPermission(s, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions is true for an empty list.
func HasAllPermissions(s Subject, perms ...Permission) bool {
	for _, p := range perms {
		if !HasPermission(s, p) {
			return false
		}
	}
	return true
}

// Strings converts a permission set for serialization into token claims.
func Strings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func FromStrings(raw []string) []Permission {
	out := make([]Permission, len(raw))
	for i, p := range raw {
		out[i] = Permission(p)
	}
	return out
}
