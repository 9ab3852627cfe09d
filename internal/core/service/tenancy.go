package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
)

// TenancyGuard is the single authority that computes a request's tenant
// scope from its principal. Client-supplied tenant and branch ids are hints
// that may narrow the computed scope; they never widen it.
type TenancyGuard struct {
	branches ports.BranchRepository
	timeout  time.Duration
}

func NewTenancyGuard(branches ports.BranchRepository, timeout time.Duration) *TenancyGuard {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &TenancyGuard{branches: branches, timeout: timeout}
}

// ResolveScope applies the scope rules in order: platform admins are
// unrestricted, everyone else is confined to their own tenant, and
// branch-bound roles are further confined to their own branch.
func (g *TenancyGuard) ResolveScope(ctx context.Context, p *domain.Principal, requestedTenantID, requestedBranchID string) (*domain.TenantScope, error) {
	if p == nil {
		return nil, &domain.AuthError{Reason: domain.AuthMissing}
	}

	if p.Role == domain.RolePlatformAdmin {
		tenant := requestedTenantID
		if tenant == "" {
			tenant = domain.WildcardTenant
		}
		return &domain.TenantScope{
			TenantID:             tenant,
			BranchID:             requestedBranchID,
			CanAccessAllBranches: true,
		}, nil
	}

	if p.TenantID == "" {
		return nil, fmt.Errorf("%w: %s principal has no tenant", domain.ErrForbidden, p.Role)
	}
	if requestedTenantID != "" && requestedTenantID != p.TenantID {
		return nil, fmt.Errorf("%w: tenant %s is outside the caller's tenant", domain.ErrForbidden, requestedTenantID)
	}

	switch p.Role {
	case domain.RoleFirmOwner:
		if requestedBranchID != "" {
			if err := g.ownBranch(ctx, p.TenantID, requestedBranchID); err != nil {
				return nil, err
			}
		}
		return &domain.TenantScope{
			TenantID:             p.TenantID,
			BranchID:             requestedBranchID,
			CanAccessAllBranches: requestedBranchID == "",
		}, nil

	case domain.RoleStaff, domain.RoleDriver:
		if p.BranchID == "" {
			return nil, fmt.Errorf("%w: %s principal has no branch", domain.ErrForbidden, p.Role)
		}
		if requestedBranchID != "" && requestedBranchID != p.BranchID {
			return nil, fmt.Errorf("%w: branch %s is outside the caller's branch", domain.ErrForbidden, requestedBranchID)
		}
		return &domain.TenantScope{
			TenantID: p.TenantID,
			BranchID: p.BranchID,
		}, nil
	}

	return nil, fmt.Errorf("%w: role %s has no tenant scope", domain.ErrForbidden, p.Role)
}

// ownBranch confirms branchID belongs to tenantID. An unknown branch is
// outside every tenant; a lookup failure denies with Unavailable.
func (g *TenancyGuard) ownBranch(ctx context.Context, tenantID, branchID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	owner, err := g.branches.FirmOf(ctx, branchID)
	switch {
	case errors.Is(err, domain.ErrBranchNotFound):
		return fmt.Errorf("%w: branch %s is not a branch of the caller's firm", domain.ErrForbidden, branchID)
	case err != nil:
		return domain.Unavailable("resolve branch", err)
	case owner != tenantID:
		return fmt.Errorf("%w: branch %s is not a branch of the caller's firm", domain.ErrForbidden, branchID)
	}
	return nil
}
