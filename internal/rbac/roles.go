package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner           = "owner"
	RoleAgent           = "agent"
	RoleAdmin           = "admin"
	RoleSuperAdmin      = "super_admin"
	RoleNetworkOperator = "network_operator" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsKnown reports whether role is one tokens may carry.
func IsKnown(role string) bool {
	switch role {
	case RoleOwner, RoleAgent, RoleAdmin, RoleSuperAdmin, RoleNetworkOperator:
		return true
	default:
		return false
	}
}
