package ports

import (
	"context"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

// AuthRepository defines the interface for user authentication persistence.
type AuthRepository interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	// Delete removes the user with id, or returns domain.ErrUserNotFound.
	Delete(ctx context.Context, id string) error
}
