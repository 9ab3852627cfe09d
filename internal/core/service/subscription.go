package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/pkg/metrics"
)

// SubscriptionService computes trial/paid entitlement. Reads never write;
// CheckAndUpdateTrialStatus is the single path that persists an expiry.
type SubscriptionService struct {
	repo        ports.SubscriptionRepository
	trialLength time.Duration
	timeout     time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

func NewSubscriptionService(repo ports.SubscriptionRepository, trialLength, timeout time.Duration, log zerolog.Logger) *SubscriptionService {
	if trialLength <= 0 {
		trialLength = 14 * 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &SubscriptionService{
		repo:        repo,
		trialLength: trialLength,
		timeout:     timeout,
		log:         log,
		now:         time.Now,
	}
}

// StartTrial opens the trial window of a newly onboarded firm.
func (s *SubscriptionService) StartTrial(ctx context.Context, firmID string) (*domain.SubscriptionState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sub := domain.NewTrial(firmID, s.now().UTC(), s.trialLength)
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, domain.Unavailable("create subscription", err)
	}
	s.log.Info().Str("firm_id", firmID).Time("trial_end_at", sub.TrialEndAt).Msg("trial started")
	return sub, nil
}

// Evaluate derives the firm's entitlement at the current time.
func (s *SubscriptionService) Evaluate(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sub, err := s.load(ctx, firmID)
	if err != nil {
		return nil, err
	}
	info := sub.Evaluate(s.now())
	return &info, nil
}

// CheckAndUpdateTrialStatus evaluates the firm and, the first time it sees
// an expired TRIAL_ACTIVE record, persists TRIAL_EXPIRED. Safe to repeat.
func (s *SubscriptionService) CheckAndUpdateTrialStatus(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sub, err := s.load(ctx, firmID)
	if err != nil {
		return nil, err
	}
	info := sub.Evaluate(s.now())
	if sub.Status != domain.SubscriptionTrialActive || !info.IsTrialExpired {
		return &info, nil
	}

	flipped, err := s.repo.MarkTrialExpired(ctx, firmID)
	if err != nil {
		return nil, domain.Unavailable("expire trial", err)
	}
	if flipped {
		metrics.TrialExpirationsTotal.Inc()
		s.log.Info().Str("firm_id", firmID).Msg("trial expired")
	}
	info.Status = domain.SubscriptionTrialExpired
	return &info, nil
}

// ChangePlan moves the firm onto a paid tier.
func (s *SubscriptionService) ChangePlan(ctx context.Context, firmID string, status domain.SubscriptionStatus) (*domain.SubscriptionInfo, error) {
	if !status.IsPaid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPlan, status)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.repo.SetStatus(ctx, firmID, status); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, domain.Unavailable("set subscription status", err)
	}
	sub, err := s.load(ctx, firmID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("firm_id", firmID).Str("status", string(status)).Msg("subscription plan changed")
	info := sub.Evaluate(s.now())
	return &info, nil
}

func (s *SubscriptionService) load(ctx context.Context, firmID string) (*domain.SubscriptionState, error) {
	sub, err := s.repo.FindByFirmID(ctx, firmID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, domain.Unavailable("load subscription", err)
	}
	return sub, nil
}
