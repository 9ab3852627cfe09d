package ports

import (
	"context"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

// RegisterInput carries a self-service sign-up. FirmName is required for firm owners.
type RegisterInput struct {
	Username string
	Password string
	Role     domain.Role
	FirmName string
}

// MemberInput carries a staff or driver account created by a firm owner.
// The firm comes from the resolved scope, never from the request body.
type MemberInput struct {
	Username string
	Password string
	Role     domain.Role
	BranchID string
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, username, password string) (string, *domain.User, error)
	CreateMember(ctx context.Context, scope domain.TenantScope, in MemberInput) (*domain.User, error)
}
