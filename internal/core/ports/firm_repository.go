package ports

import (
	"context"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

// FirmRepository is the tenant-state store owned by the firm lifecycle.
type FirmRepository interface {
	Create(ctx context.Context, firm *domain.FirmState) error
	FindByID(ctx context.Context, firmID string) (*domain.FirmState, error)
	// CompareAndSwap persists next only while the stored version still equals
	// expectedVersion. It returns domain.ErrVersionConflict when another writer
	// got there first and domain.ErrFirmNotFound when the firm does not exist.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next *domain.FirmState) error
	ListByStatus(ctx context.Context, status domain.FirmStatus) ([]*domain.FirmState, error)
	// ListVisible returns ACTIVE firms flagged visible to clients.
	ListVisible(ctx context.Context) ([]*domain.FirmState, error)
}

// FirmLifecycle defines the use-case operations over a firm's approval state.
type FirmLifecycle interface {
	CreateDraft(ctx context.Context, firmID, name, ownerID string) (*domain.FirmState, error)
	Get(ctx context.Context, firmID string) (*domain.FirmState, error)
	ListByStatus(ctx context.Context, status domain.FirmStatus) ([]*domain.FirmState, error)
	ListVisible(ctx context.Context) ([]*domain.FirmState, error)
	// Guard reports whether t is currently legal for the firm without changing it.
	Guard(ctx context.Context, firmID string, t domain.FirmTransition) error
	Transition(ctx context.Context, actor *domain.Principal, firmID string, t domain.FirmTransition, reason string) (*domain.FirmState, error)
}
