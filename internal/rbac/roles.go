package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleTenantAdmin owns a billable account and its sub-users.
	RoleTenantAdmin = "tenant_admin"
	// RoleSubUser bills against its parent tenant account.
	RoleSubUser = "sub_user"
	// RolePlatformOperator is never billed and never alerted.
	RolePlatformOperator = "platform_operator"
)

func IsPlatformOperator(role string) bool { return role == RolePlatformOperator }

// IsBillingExempt reports whether usage by this role is never charged.
func IsBillingExempt(role string) bool { return role == RolePlatformOperator }
