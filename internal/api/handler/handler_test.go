package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/labstack/echo/v4"

	"github.com/deliverly/marketplace-api/internal/api/middleware"
	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/core/service"
)

type stubAuthService struct {
	registerFn func(ctx context.Context, in ports.RegisterInput) (*domain.User, error)
	loginFn    func(ctx context.Context, username, password string) (string, *domain.User, error)
	memberFn   func(ctx context.Context, scope domain.TenantScope, in ports.MemberInput) (*domain.User, error)
}

func (s *stubAuthService) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	return s.registerFn(ctx, in)
}

func (s *stubAuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	return s.loginFn(ctx, username, password)
}

func (s *stubAuthService) CreateMember(ctx context.Context, scope domain.TenantScope, in ports.MemberInput) (*domain.User, error) {
	return s.memberFn(ctx, scope, in)
}

type stubLifecycle struct {
	getFn        func(ctx context.Context, firmID string) (*domain.FirmState, error)
	listFn       func(ctx context.Context, status domain.FirmStatus) ([]*domain.FirmState, error)
	visibleFn    func(ctx context.Context) ([]*domain.FirmState, error)
	transitionFn func(ctx context.Context, actor *domain.Principal, firmID string, t domain.FirmTransition, reason string) (*domain.FirmState, error)
}

func (s *stubLifecycle) CreateDraft(context.Context, string, string, string) (*domain.FirmState, error) {
	panic("not used by handlers")
}

func (s *stubLifecycle) Get(ctx context.Context, firmID string) (*domain.FirmState, error) {
	return s.getFn(ctx, firmID)
}

func (s *stubLifecycle) ListByStatus(ctx context.Context, status domain.FirmStatus) ([]*domain.FirmState, error) {
	return s.listFn(ctx, status)
}

func (s *stubLifecycle) ListVisible(ctx context.Context) ([]*domain.FirmState, error) {
	return s.visibleFn(ctx)
}

func (s *stubLifecycle) Guard(context.Context, string, domain.FirmTransition) error {
	panic("not used by handlers")
}

func (s *stubLifecycle) Transition(ctx context.Context, actor *domain.Principal, firmID string, t domain.FirmTransition, reason string) (*domain.FirmState, error) {
	return s.transitionFn(ctx, actor, firmID, t, reason)
}

type stubGate struct {
	evaluateFn func(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error)
	refreshFn  func(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error)
	planFn     func(ctx context.Context, firmID string, status domain.SubscriptionStatus) (*domain.SubscriptionInfo, error)
}

func (s *stubGate) StartTrial(context.Context, string) (*domain.SubscriptionState, error) {
	panic("not used by handlers")
}

func (s *stubGate) Evaluate(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error) {
	return s.evaluateFn(ctx, firmID)
}

func (s *stubGate) CheckAndUpdateTrialStatus(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error) {
	return s.refreshFn(ctx, firmID)
}

func (s *stubGate) ChangePlan(ctx context.Context, firmID string, status domain.SubscriptionStatus) (*domain.SubscriptionInfo, error) {
	return s.planFn(ctx, firmID, status)
}

var (
	ownerA = &domain.Principal{ID: "owner-a", Role: domain.RoleFirmOwner, TenantID: "firm-a"}
	admin  = &domain.Principal{ID: "admin", Role: domain.RolePlatformAdmin}
)

// newContext builds an echo context the way the router would hand it to a
// guarded handler: validator installed, path params bound, authz stored.
func newContext(method, target string, body io.Reader, authz *service.AuthorizedContext, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()

	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	if authz != nil {
		middleware.SetAuthz(c, authz)
	}
	return c, rec
}

func ownerScope() *service.AuthorizedContext {
	return &service.AuthorizedContext{
		Principal: ownerA,
		Scope:     &domain.TenantScope{TenantID: "firm-a", CanAccessAllBranches: true},
	}
}

// httpStatus is the status the API error handler renders for a
// transport-level error; 0 for anything else.
func httpStatus(err error) int {
	var he *echo.HTTPError
	var fe FieldErrors
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.As(err, &fe):
		return http.StatusBadRequest
	}
	return 0
}

