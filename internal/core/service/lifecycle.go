package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/pkg/metrics"
	"github.com/deliverly/marketplace-api/pkg/logger"
)

const (
	defaultStoreTimeout        = 3 * time.Second
	defaultLifecycleMaxRetries = 3
)

// LifecycleOptions tunes store access of the firm lifecycle.
type LifecycleOptions struct {
	StoreTimeout time.Duration
	MaxRetries   int
}

// LifecycleService governs a firm's approval state. Transitions are computed
// on a snapshot and persisted with a version compare-and-swap, so two
// concurrent transitions on the same firm can never both apply from the same
// starting state.
type LifecycleService struct {
	repo       ports.FirmRepository
	timeout    time.Duration
	maxRetries int
	log        zerolog.Logger
	now        func() time.Time
}

func NewLifecycleService(repo ports.FirmRepository, opts LifecycleOptions, log zerolog.Logger) *LifecycleService {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultLifecycleMaxRetries
	}
	return &LifecycleService{
		repo:       repo,
		timeout:    opts.StoreTimeout,
		maxRetries: opts.MaxRetries,
		log:        log,
		now:        time.Now,
	}
}

// CreateDraft stores a new, invisible DRAFT firm.
func (s *LifecycleService) CreateDraft(ctx context.Context, firmID, name, ownerID string) (*domain.FirmState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	firm := domain.NewDraftFirm(firmID, name, ownerID, s.now().UTC())
	if err := s.repo.Create(ctx, firm); err != nil {
		return nil, domain.Unavailable("create firm", err)
	}
	s.log.Info().Str("firm_id", firmID).Str("owner_id", ownerID).Msg("draft firm created")
	return firm, nil
}

// Get returns the current lifecycle state of a firm.
func (s *LifecycleService) Get(ctx context.Context, firmID string) (*domain.FirmState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.load(ctx, firmID)
}

func (s *LifecycleService) ListByStatus(ctx context.Context, status domain.FirmStatus) ([]*domain.FirmState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	firms, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, domain.Unavailable("list firms", err)
	}
	return firms, nil
}

// ListVisible returns the public storefront: ACTIVE firms visible to clients.
func (s *LifecycleService) ListVisible(ctx context.Context) ([]*domain.FirmState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	firms, err := s.repo.ListVisible(ctx)
	if err != nil {
		return nil, domain.Unavailable("list visible firms", err)
	}
	return firms, nil
}

// Guard reports whether t is legal for the firm right now. It never writes;
// Transition re-checks atomically.
func (s *LifecycleService) Guard(ctx context.Context, firmID string, t domain.FirmTransition) error {
	firm, err := s.Get(ctx, firmID)
	if err != nil {
		return err
	}
	return firm.CanApply(t)
}

// Transition applies t to the firm on behalf of actor.
func (s *LifecycleService) Transition(ctx context.Context, actor *domain.Principal, firmID string, t domain.FirmTransition, reason string) (*domain.FirmState, error) {
	ctx, span := otel.Tracer("lifecycle").Start(ctx, "FirmLifecycle."+string(t))
	defer span.End()
	span.SetAttributes(attribute.String("firm.id", firmID))

	log := logger.Ctx(ctx, s.log)
	firm, err := s.transition(ctx, actor, firmID, t, reason)
	result := transitionResult(err)
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(t), result).Inc()
	if err != nil {
		span.SetStatus(codes.Error, result)
		span.RecordError(err)
		log.Info().Err(err).
			Str("firm_id", firmID).
			Str("transition", string(t)).
			Msg("firm transition refused")
		return nil, err
	}

	log.Info().
		Str("firm_id", firmID).
		Str("transition", string(t)).
		Str("status", string(firm.Status)).
		Int64("version", firm.Version).
		Msg("firm transitioned")
	return firm, nil
}

func (s *LifecycleService) transition(ctx context.Context, actor *domain.Principal, firmID string, t domain.FirmTransition, reason string) (*domain.FirmState, error) {
	if err := authorizeTransition(actor, firmID, t); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		next, err := s.attempt(ctx, firmID, t, reason)
		if errors.Is(err, domain.ErrVersionConflict) {
			s.log.Debug().Str("firm_id", firmID).Int("attempt", attempt+1).Msg("firm version conflict, reloading")
			continue
		}
		return next, err
	}
	return nil, fmt.Errorf("%s firm %s: %w", t, firmID, domain.ErrVersionConflict)
}

func (s *LifecycleService) attempt(ctx context.Context, firmID string, t domain.FirmTransition, reason string) (*domain.FirmState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	current, err := s.load(ctx, firmID)
	if err != nil {
		return nil, err
	}
	next, err := current.Apply(t, reason, s.now().UTC())
	if err != nil {
		return nil, err
	}

	switch err := s.repo.CompareAndSwap(ctx, current.Version, next); {
	case err == nil:
		return next, nil
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrFirmNotFound):
		return nil, err
	default:
		return nil, domain.Unavailable("update firm", err)
	}
}

func (s *LifecycleService) load(ctx context.Context, firmID string) (*domain.FirmState, error) {
	firm, err := s.repo.FindByID(ctx, firmID)
	if err != nil {
		if errors.Is(err, domain.ErrFirmNotFound) {
			return nil, err
		}
		return nil, domain.Unavailable("load firm", err)
	}
	return firm, nil
}

// authorizeTransition checks the actor named by the transition table. Firm
// owners may only submit their own firm.
func authorizeTransition(actor *domain.Principal, firmID string, t domain.FirmTransition) error {
	role, ok := t.Actor()
	if !ok {
		return fmt.Errorf("%w: unknown transition %q", domain.ErrInvalidStateTransition, t)
	}
	if actor == nil || actor.Role != role {
		return fmt.Errorf("%w: %s requires %s", domain.ErrForbidden, t, role)
	}
	if role == domain.RoleFirmOwner && actor.TenantID != firmID {
		return fmt.Errorf("%w: firm %s is not owned by the caller", domain.ErrForbidden, firmID)
	}
	return nil
}

func transitionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrRejectionReasonRequired):
		return "invalid"
	case errors.Is(err, domain.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
