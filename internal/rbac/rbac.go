package rbac

import "sort"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
	RoleViewer  Role = "viewer"
)

type Permission string

const (
	// identity management
	PermUsersRead   Permission = "users:read"
	PermUsersCreate Permission = "users:create"
	PermUsersUpdate Permission = "users:update"
	PermUsersDelete Permission = "users:delete"
	PermUsersUnlock Permission = "users:unlock"

	PermSessionsRead   Permission = "sessions:read"
	PermSessionsRevoke Permission = "sessions:revoke"

	// business records
	PermClientsRead      Permission = "clients:read"
	PermClientsWrite     Permission = "clients:write"
	PermClientsDelete    Permission = "clients:delete"
	PermPropertiesRead   Permission = "properties:read"
	PermPropertiesWrite  Permission = "properties:write"
	PermPropertiesDelete Permission = "properties:delete"
	PermContractsRead    Permission = "contracts:read"
	PermContractsWrite   Permission = "contracts:write"
	PermContractsApprove Permission = "contracts:approve"

	PermReportsRead   Permission = "reports:read"
	PermReportsExport Permission = "reports:export"

	PermSettingsRead  Permission = "settings:read"
	PermSettingsWrite Permission = "settings:write"
)

// rolePermissions is the only source of permissions. Users carry a
// materialized copy taken when their role was last assigned.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermUsersRead, PermUsersCreate, PermUsersUpdate, PermUsersDelete, PermUsersUnlock,
		PermSessionsRead, PermSessionsRevoke,
		PermClientsRead, PermClientsWrite, PermClientsDelete,
		PermPropertiesRead, PermPropertiesWrite, PermPropertiesDelete,
		PermContractsRead, PermContractsWrite, PermContractsApprove,
		PermReportsRead, PermReportsExport,
		PermSettingsRead, PermSettingsWrite,
	},
	RoleManager: {
		PermUsersRead, PermUsersUnlock,
		PermSessionsRead,
		PermClientsRead, PermClientsWrite, PermClientsDelete,
		PermPropertiesRead, PermPropertiesWrite, PermPropertiesDelete,
		PermContractsRead, PermContractsWrite, PermContractsApprove,
		PermReportsRead, PermReportsExport,
		PermSettingsRead,
	},
	RoleAgent: {
		PermClientsRead, PermClientsWrite,
		PermPropertiesRead, PermPropertiesWrite,
		PermContractsRead, PermContractsWrite,
		PermReportsRead,
	},
	RoleViewer: {
		PermClientsRead,
		PermPropertiesRead,
		PermContractsRead,
		PermReportsRead,
	},
}

func ValidRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	out := make([]Role, 0, len(rolePermissions))
	for r := range rolePermissions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PermissionsFor returns a fresh copy of the permission set for role.
// Unknown roles get no permissions.
func PermissionsFor(r Role) []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
