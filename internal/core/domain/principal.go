package domain

// Role is the authority a credential grants.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleFirmOwner     Role = "firm_owner"
	RoleStaff         Role = "staff"
	RoleDriver        Role = "driver"
	RoleClient        Role = "client"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleFirmOwner, RoleStaff, RoleDriver, RoleClient:
		return true
	}
	return false
}

// BranchBound reports whether the role is pinned to a single branch of its firm.
func (r Role) BranchBound() bool {
	return r == RoleStaff || r == RoleDriver
}

// WildcardTenant is the tenant id of an unrestricted platform-admin scope.
const WildcardTenant = "*"

// Principal is the caller identity decoded from a verified credential. It
// lives for a single request and is never persisted.
type Principal struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	BranchID string `json:"branch_id,omitempty"`
}

// IsPlatformAdmin reports whether p is a platform administrator.
func (p *Principal) IsPlatformAdmin() bool {
	return p != nil && p.Role == RolePlatformAdmin
}

// TenantScope is the firm/branch boundary a request may act within.
type TenantScope struct {
	TenantID             string `json:"tenant_id"`
	BranchID             string `json:"branch_id,omitempty"`
	CanAccessAllBranches bool   `json:"can_access_all_branches"`
}

// IsWildcard reports whether the scope spans every tenant.
func (s TenantScope) IsWildcard() bool {
	return s.TenantID == WildcardTenant
}

// Covers reports whether a record owned by tenantID/branchID falls inside the scope.
func (s TenantScope) Covers(tenantID, branchID string) bool {
	if !s.IsWildcard() && s.TenantID != tenantID {
		return false
	}
	return s.BranchID == "" || s.BranchID == branchID
}
