package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/pkg/metrics"
	"github.com/deliverly/marketplace-api/pkg/logger"
)

// AuthMode selects how a route treats credentials.
type AuthMode int

const (
	// AuthNone ignores credentials entirely.
	AuthNone AuthMode = iota
	// AuthOptional personalizes when a valid credential is present and
	// degrades to anonymous otherwise.
	AuthOptional
	// AuthRequired denies without a valid credential.
	AuthRequired
)

// RoutePolicy declares which checks guard a route.
type RoutePolicy struct {
	// Name identifies the route in rate-limit keys, metrics and logs.
	Name string
	Auth AuthMode
	// Rate is nil for routes that are not rate checked.
	Rate *ports.RatePolicy
	// TenantScoped routes resolve a tenant scope for the principal.
	TenantScoped bool
	// Roles, when non-empty, lists the only roles allowed through.
	Roles []domain.Role
	// RequireEntitlement denies firms without an active trial or paid plan.
	RequireEntitlement bool
	// Transition, when set, prechecks that the firm may take this lifecycle step.
	Transition domain.FirmTransition
}

// Request is the transport-independent view of an inbound request.
type Request struct {
	Authorization string
	ClientIP      string
	// TenantID and BranchID are the caller's requested scope. They are hints.
	TenantID string
	BranchID string
}

// AuthorizedContext is what a handler receives once every check passed.
type AuthorizedContext struct {
	Principal    *domain.Principal
	Scope        *domain.TenantScope
	Rate         *ports.RateDecision
	Subscription *domain.SubscriptionInfo

	identityKey string
	policy      RoutePolicy
}

// IdentityVerifier turns a bearer credential into a principal.
type IdentityVerifier interface {
	Verify(raw string) (*domain.Principal, error)
	VerifyOptional(raw string) *domain.Principal
}

// Limiter charges and refunds rate-limit hits.
type Limiter interface {
	Allow(ctx context.Context, identityKey, routeKey string, policy ports.RatePolicy) ports.RateDecision
	Refund(identityKey, routeKey string, policy ports.RatePolicy)
}

// ScopeResolver computes the effective tenant scope of a principal.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, p *domain.Principal, requestedTenantID, requestedBranchID string) (*domain.TenantScope, error)
}

// RequestArbiter composes identity, rate, tenancy, entitlement and lifecycle
// checks into one verdict per request. Checks short-circuit cheapest first.
type RequestArbiter struct {
	identity     IdentityVerifier
	limiter      Limiter
	tenancy      ScopeResolver
	subscription ports.SubscriptionGate
	lifecycle    ports.FirmLifecycle
	queue        ports.TaskQueue
	log          zerolog.Logger
}

func NewRequestArbiter(
	identity IdentityVerifier,
	limiter Limiter,
	tenancy ScopeResolver,
	subscription ports.SubscriptionGate,
	lifecycle ports.FirmLifecycle,
	queue ports.TaskQueue,
	log zerolog.Logger,
) *RequestArbiter {
	return &RequestArbiter{
		identity:     identity,
		limiter:      limiter,
		tenancy:      tenancy,
		subscription: subscription,
		lifecycle:    lifecycle,
		queue:        queue,
		log:          log,
	}
}

// Authorize runs the pipeline for one request. On denial the returned
// context is still non-nil once the rate check ran, so the transport can
// emit quota headers alongside the error.
func (a *RequestArbiter) Authorize(ctx context.Context, req Request, policy RoutePolicy) (*AuthorizedContext, error) {
	ctx, span := otel.Tracer("arbiter").Start(ctx, "RequestArbiter.Authorize")
	defer span.End()
	span.SetAttributes(attribute.String("route", policy.Name))

	authz, err := a.authorize(ctx, req, policy)
	outcome := denialReason(err)
	metrics.AuthzDecisionsTotal.WithLabelValues(policy.Name, outcome).Inc()
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		log := logger.Ctx(ctx, a.log)
		ev := log.Debug()
		if errors.Is(err, domain.ErrInfrastructureUnavailable) {
			ev = log.Error()
		}
		ev.Err(err).Str("route", policy.Name).Str("outcome", outcome).Msg("request denied")
	}
	return authz, err
}

func (a *RequestArbiter) authorize(ctx context.Context, req Request, policy RoutePolicy) (*AuthorizedContext, error) {
	principal, err := a.identify(req, policy.Auth)
	if err != nil {
		return nil, err
	}

	authz := &AuthorizedContext{
		Principal:   principal,
		identityKey: identityKey(principal, req.ClientIP),
		policy:      policy,
	}

	if policy.Rate != nil {
		decision := a.limiter.Allow(ctx, authz.identityKey, policy.Name, *policy.Rate)
		authz.Rate = &decision
		if !decision.Allowed {
			return authz, &domain.RateLimitError{
				Limit:     decision.Limit,
				Remaining: decision.Remaining,
				ResetAt:   decision.ResetAt,
			}
		}
	}

	if policy.TenantScoped || len(policy.Roles) > 0 {
		if principal == nil {
			return authz, &domain.AuthError{Reason: domain.AuthMissing}
		}
	}
	if policy.TenantScoped {
		scope, err := a.tenancy.ResolveScope(ctx, principal, req.TenantID, req.BranchID)
		if err != nil {
			return authz, err
		}
		authz.Scope = scope
	}
	if len(policy.Roles) > 0 && !slices.Contains(policy.Roles, principal.Role) {
		return authz, fmt.Errorf("%w: role %s may not call %s", domain.ErrForbidden, principal.Role, policy.Name)
	}

	if policy.RequireEntitlement && authz.Scope != nil && !authz.Scope.IsWildcard() {
		info, err := a.entitlement(ctx, authz.Scope.TenantID)
		if info != nil {
			authz.Subscription = info
		}
		if err != nil {
			return authz, err
		}
	}

	if policy.Transition != "" {
		firmID := req.TenantID
		if authz.Scope != nil && !authz.Scope.IsWildcard() {
			firmID = authz.Scope.TenantID
		}
		if err := a.lifecycle.Guard(ctx, firmID, policy.Transition); err != nil {
			return authz, err
		}
	}

	return authz, nil
}

func (a *RequestArbiter) identify(req Request, mode AuthMode) (*domain.Principal, error) {
	switch mode {
	case AuthRequired:
		token, err := BearerToken(req.Authorization)
		if err != nil {
			return nil, err
		}
		return a.identity.Verify(token)
	case AuthOptional:
		token, err := BearerToken(req.Authorization)
		if err != nil {
			return nil, nil
		}
		return a.identity.VerifyOptional(token), nil
	default:
		return nil, nil
	}
}

func (a *RequestArbiter) entitlement(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error) {
	info, err := a.subscription.Evaluate(ctx, firmID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("%w: firm %s has no subscription", domain.ErrSubscriptionRequired, firmID)
		}
		return nil, err
	}
	if info.HasAccess {
		return info, nil
	}

	if info.Status == domain.SubscriptionTrialActive {
		a.scheduleTrialExpiry(firmID)
	}
	return info, fmt.Errorf("%w: trial expired for firm %s", domain.ErrSubscriptionRequired, firmID)
}

// scheduleTrialExpiry lets the stored status converge without putting a
// write on the request path.
func (a *RequestArbiter) scheduleTrialExpiry(firmID string) {
	if a.queue == nil {
		return
	}
	a.queue.Enqueue(firmID, "subscription.expire_trial", func(ctx context.Context) error {
		_, err := a.subscription.CheckAndUpdateTrialStatus(ctx, firmID)
		return err
	})
}

// Release settles the rate charge once the handler finished. Policies that
// skip failed requests get their hit refunded when status >= 400.
func (a *RequestArbiter) Release(authz *AuthorizedContext, status int) {
	if authz == nil || authz.Rate == nil || authz.policy.Rate == nil {
		return
	}
	if !authz.policy.Rate.SkipFailedRequests || status < 400 {
		return
	}
	if !authz.Rate.Allowed || authz.Rate.Degraded {
		return
	}
	a.limiter.Refund(authz.identityKey, authz.policy.Name, *authz.policy.Rate)
}

func identityKey(p *domain.Principal, clientIP string) string {
	if p != nil {
		return "user:" + p.ID
	}
	return "ip:" + clientIP
}

func denialReason(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrSubscriptionRequired):
		return "subscription_required"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, domain.ErrFirmNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInfrastructureUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
