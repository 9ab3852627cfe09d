package ports

import (
	"context"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

// SubscriptionRepository stores the subscription fields of each firm.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.SubscriptionState) error
	FindByFirmID(ctx context.Context, firmID string) (*domain.SubscriptionState, error)
	// MarkTrialExpired flips TRIAL_ACTIVE to TRIAL_EXPIRED. It reports whether
	// this call performed the flip; a firm already flipped is not an error.
	MarkTrialExpired(ctx context.Context, firmID string) (bool, error)
	SetStatus(ctx context.Context, firmID string, status domain.SubscriptionStatus) error
}

// SubscriptionGate decides whether a firm's subscription entitles it to service.
type SubscriptionGate interface {
	StartTrial(ctx context.Context, firmID string) (*domain.SubscriptionState, error)
	Evaluate(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error)
	CheckAndUpdateTrialStatus(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error)
	ChangePlan(ctx context.Context, firmID string, status domain.SubscriptionStatus) (*domain.SubscriptionInfo, error)
}
