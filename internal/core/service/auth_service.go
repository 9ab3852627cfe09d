package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
)

// AuthService implements registration, login and firm member accounts.
// Registering a firm owner also onboards the firm: a DRAFT firm plus an
// open trial.
type AuthService struct {
	repo         ports.AuthRepository
	branches     ports.BranchRepository
	issuer       *TokenIssuer
	lifecycle    ports.FirmLifecycle
	subscription ports.SubscriptionGate
	timeout      time.Duration
	log          zerolog.Logger
	now          func() time.Time
	newFirmID    func() string
}

func NewAuthService(
	repo ports.AuthRepository,
	branches ports.BranchRepository,
	issuer *TokenIssuer,
	lifecycle ports.FirmLifecycle,
	subscription ports.SubscriptionGate,
	timeout time.Duration,
	log zerolog.Logger,
) *AuthService {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &AuthService{
		repo:         repo,
		branches:     branches,
		issuer:       issuer,
		lifecycle:    lifecycle,
		subscription: subscription,
		timeout:      timeout,
		log:          log,
		now:          time.Now,
		newFirmID:    uuid.NewString,
	}
}

func (s *AuthService) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	if in.Username == "" || in.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}
	if in.Role != domain.RoleClient && in.Role != domain.RoleFirmOwner {
		return nil, domain.ErrInvalidRole
	}

	firmName := strings.TrimSpace(in.FirmName)
	var firmID string
	if in.Role == domain.RoleFirmOwner {
		if firmName == "" {
			return nil, domain.ErrFirmNameRequired
		}
		firmID = s.newFirmID()
	}

	user, err := s.createUser(ctx, in.Username, in.Password, in.Role, firmID, "")
	if err != nil {
		return nil, err
	}

	if firmID != "" {
		if err := s.onboard(ctx, firmID, firmName, user.ID); err != nil {
			s.discard(ctx, user)
			return nil, err
		}
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("role", string(user.Role)).
		Str("firm_id", user.FirmID).
		Msg("user registered")
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	if username == "" || password == "" {
		return "", nil, domain.ErrInvalidCredentials
	}

	user, err := s.findUser(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", nil, domain.ErrInvalidCredentials
		}
		return "", nil, domain.Unavailable("find user", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(user.Principal())
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// CreateMember adds a staff or driver account to the firm of scope.
func (s *AuthService) CreateMember(ctx context.Context, scope domain.TenantScope, in ports.MemberInput) (*domain.User, error) {
	if in.Username == "" || in.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}
	if in.Role != domain.RoleStaff && in.Role != domain.RoleDriver {
		return nil, domain.ErrInvalidRole
	}
	if in.BranchID == "" {
		return nil, domain.ErrBranchRequired
	}
	if scope.IsWildcard() || scope.TenantID == "" {
		return nil, fmt.Errorf("%w: members belong to a single firm", domain.ErrForbidden)
	}
	if !scope.Covers(scope.TenantID, in.BranchID) {
		return nil, fmt.Errorf("%w: branch %s is outside the caller's scope", domain.ErrForbidden, in.BranchID)
	}
	if err := s.claimBranch(ctx, scope.TenantID, in.BranchID); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, in.Username, in.Password, in.Role, scope.TenantID, in.BranchID)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("user_id", user.ID).
		Str("role", string(user.Role)).
		Str("firm_id", user.FirmID).
		Str("branch_id", user.BranchID).
		Msg("firm member created")
	return user, nil
}

// EnsureAdmin creates the bootstrap platform admin when it does not exist yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.findUser(ctx, username)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return domain.Unavailable("find admin", err)
	}

	if _, err := s.createUser(ctx, username, password, domain.RolePlatformAdmin, "", ""); err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil
		}
		return err
	}
	s.log.Info().Str("username", username).Msg("platform admin bootstrapped")
	return nil
}

func (s *AuthService) createUser(ctx context.Context, username, password string, role domain.Role, firmID, branchID string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &domain.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		FirmID:       firmID,
		BranchID:     branchID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil, err
		}
		return nil, domain.Unavailable("create user", err)
	}
	return created, nil
}

func (s *AuthService) findUser(ctx context.Context, username string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.FindByUsername(ctx, username)
}

// onboard creates the owner's DRAFT firm and opens its trial.
func (s *AuthService) onboard(ctx context.Context, firmID, firmName, ownerID string) error {
	if _, err := s.lifecycle.CreateDraft(ctx, firmID, firmName, ownerID); err != nil {
		return fmt.Errorf("onboard firm %s: %w", firmID, err)
	}
	if _, err := s.subscription.StartTrial(ctx, firmID); err != nil {
		return fmt.Errorf("start trial for firm %s: %w", firmID, err)
	}
	return nil
}

// discard removes an owner whose firm could not be onboarded, so the
// username is free again and no account points at a missing firm.
func (s *AuthService) discard(ctx context.Context, user *domain.User) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.repo.Delete(ctx, user.ID); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		s.log.Error().
			Err(err).
			Str("user_id", user.ID).
			Str("firm_id", user.FirmID).
			Msg("failed to remove owner after onboarding error")
	}
}

func (s *AuthService) claimBranch(ctx context.Context, firmID, branchID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.branches.Claim(ctx, firmID, branchID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrBranchTaken):
		return fmt.Errorf("%w: branch %s belongs to another firm", domain.ErrForbidden, branchID)
	}
	return domain.Unavailable("claim branch", err)
}
