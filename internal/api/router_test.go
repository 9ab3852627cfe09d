package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
	"github.com/deliverly/marketplace-api/internal/core/service"
	"github.com/deliverly/marketplace-api/internal/infrastructure/db/redis"
	"github.com/deliverly/marketplace-api/internal/pkg/config"
)

const testSecret = "router-test-secret"

// fakeLifecycle serves a fixed set of firms and applies transitions in memory.
type fakeLifecycle struct {
	firms map[string]*domain.FirmState
}

func (f *fakeLifecycle) CreateDraft(context.Context, string, string, string) (*domain.FirmState, error) {
	return nil, nil
}

func (f *fakeLifecycle) Get(_ context.Context, firmID string) (*domain.FirmState, error) {
	firm, ok := f.firms[firmID]
	if !ok {
		return nil, domain.ErrFirmNotFound
	}
	return firm, nil
}

func (f *fakeLifecycle) ListByStatus(_ context.Context, status domain.FirmStatus) ([]*domain.FirmState, error) {
	var out []*domain.FirmState
	for _, firm := range f.firms {
		if firm.Status == status {
			out = append(out, firm)
		}
	}
	return out, nil
}

func (f *fakeLifecycle) ListVisible(context.Context) ([]*domain.FirmState, error) {
	return nil, nil
}

func (f *fakeLifecycle) Guard(ctx context.Context, firmID string, t domain.FirmTransition) error {
	firm, err := f.Get(ctx, firmID)
	if err != nil {
		return err
	}
	return firm.CanApply(t)
}

func (f *fakeLifecycle) Transition(ctx context.Context, _ *domain.Principal, firmID string, t domain.FirmTransition, reason string) (*domain.FirmState, error) {
	firm, err := f.Get(ctx, firmID)
	if err != nil {
		return nil, err
	}
	next, err := firm.Apply(t, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	f.firms[firmID] = next
	return next, nil
}

// fakeBranches maps branch ids to their firm.
type fakeBranches map[string]string

func (b fakeBranches) Claim(_ context.Context, firmID, branchID string) error {
	if owner, ok := b[branchID]; ok && owner != firmID {
		return domain.ErrBranchTaken
	}
	b[branchID] = firmID
	return nil
}

func (b fakeBranches) FirmOf(_ context.Context, branchID string) (string, error) {
	owner, ok := b[branchID]
	if !ok {
		return "", domain.ErrBranchNotFound
	}
	return owner, nil
}

type fakeGate struct{}

func (fakeGate) StartTrial(context.Context, string) (*domain.SubscriptionState, error) {
	return nil, nil
}

func (fakeGate) Evaluate(_ context.Context, firmID string) (*domain.SubscriptionInfo, error) {
	return &domain.SubscriptionInfo{FirmID: firmID, Status: domain.SubscriptionPro, HasAccess: true}, nil
}

func (g fakeGate) CheckAndUpdateTrialStatus(ctx context.Context, firmID string) (*domain.SubscriptionInfo, error) {
	return g.Evaluate(ctx, firmID)
}

func (g fakeGate) ChangePlan(ctx context.Context, firmID string, _ domain.SubscriptionStatus) (*domain.SubscriptionInfo, error) {
	return g.Evaluate(ctx, firmID)
}

type routerFixture struct {
	e      http.Handler
	issuer *service.TokenIssuer
	firms  *fakeLifecycle
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	firms := &fakeLifecycle{firms: map[string]*domain.FirmState{
		"firm-a": domain.NewDraftFirm("firm-a", "Acme", "owner-a", time.Now().UTC()),
		"firm-b": {FirmID: "firm-b", Name: "Bolt", Status: domain.FirmPendingReview, Version: 2},
	}}
	log := zerolog.Nop()
	limiter := service.NewRateLimiter(redis.NewCounterStore(client), nil, time.Second, log)
	tenancy := service.NewTenancyGuard(fakeBranches{"br-a1": "firm-a", "br-b1": "firm-b"}, time.Second)
	arbiter := service.NewRequestArbiter(service.NewTokenVerifier(testSecret), limiter, tenancy, fakeGate{}, firms, nil, log)

	rates := NewRatePolicies(config.RateLimitConfig{
		AuthWindow:      time.Minute,
		AuthMax:         10,
		APIWindow:       time.Minute,
		APIMax:          100,
		SensitiveWindow: time.Minute,
		SensitiveMax:    5,
	})
	e := NewRouter(Dependencies{
		Arbiter:      arbiter,
		Lifecycle:    firms,
		Subscription: fakeGate{},
		Log:          log,
	}, rates)

	return &routerFixture{e: e, issuer: service.NewTokenIssuer(testSecret, time.Hour), firms: firms}
}

func (f *routerFixture) do(t *testing.T, method, target string, p *domain.Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if p != nil {
		token, err := f.issuer.Issue(p)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

var (
	ownerA   = &domain.Principal{ID: "owner-a", Role: domain.RoleFirmOwner, TenantID: "firm-a"}
	clientU  = &domain.Principal{ID: "client-1", Role: domain.RoleClient}
	platform = &domain.Principal{ID: "admin-1", Role: domain.RolePlatformAdmin}
)

func TestRouter_RouteProtection(t *testing.T) {
	f := newRouterFixture(t)

	cases := []struct {
		name   string
		method string
		target string
		who    *domain.Principal
		status int
		code   string
	}{
		{"liveness is public", http.MethodGet, "/health", nil, http.StatusOK, ""},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound, "not_found"},
		{"tenant read needs a token", http.MethodGet, "/v1/firms/firm-a", nil, http.StatusUnauthorized, "unauthenticated"},
		{"owner reads own firm", http.MethodGet, "/v1/firms/firm-a", ownerA, http.StatusOK, ""},
		{"owner cannot read another firm", http.MethodGet, "/v1/firms/firm-b", ownerA, http.StatusForbidden, "forbidden"},
		{"owner narrows to own branch", http.MethodGet, "/v1/firms/firm-a?branch_id=br-a1", ownerA, http.StatusOK, ""},
		{"owner cannot narrow to another firm's branch", http.MethodGet, "/v1/firms/firm-a?branch_id=br-b1", ownerA, http.StatusForbidden, "forbidden"},
		{"client has no tenant", http.MethodGet, "/v1/firms/firm-a", clientU, http.StatusForbidden, "forbidden"},
		{"client cannot list review queue", http.MethodGet, "/v1/admin/firms", clientU, http.StatusForbidden, "forbidden"},
		{"admin lists review queue", http.MethodGet, "/v1/admin/firms", platform, http.StatusOK, ""},
		{"admin reads any firm", http.MethodGet, "/v1/firms/firm-b", platform, http.StatusOK, ""},
		{"illegal transition is refused before the handler", http.MethodPost, "/v1/admin/firms/firm-a/approve", platform, http.StatusBadRequest, "invalid_state_transition"},
		{"owner may not approve", http.MethodPost, "/v1/admin/firms/firm-b/approve", ownerA, http.StatusForbidden, "forbidden"},
		{"public listing works anonymously", http.MethodGet, "/v1/firms/public", nil, http.StatusOK, ""},
	}
	for _, tc := range cases {
		rec := f.do(t, tc.method, tc.target, tc.who)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		if tc.code != "" && !strings.Contains(rec.Body.String(), `"code":"`+tc.code+`"`) {
			t.Fatalf("%s: unexpected body %s", tc.name, rec.Body.String())
		}
	}
}

func TestRouter_AdminApprovesAndOwnerSubmits(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/admin/firms/firm-b/approve", platform)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"is_visible_to_clients":true`) {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/firms/firm-a/submit", ownerA)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"PENDING_REVIEW"`) {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}

	// The firm is now under review, so a second submit is refused by the precheck.
	rec = f.do(t, http.MethodPost, "/v1/firms/firm-a/submit", ownerA)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second submit: expected 400, got %d", rec.Code)
	}
}

func TestRouter_SensitiveLimit(t *testing.T) {
	f := newRouterFixture(t)

	for i := 1; i <= 5; i++ {
		rec := f.do(t, http.MethodPost, "/v1/admin/firms/firm-a/suspend", platform)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d: expected transition refusal, got %d", i, rec.Code)
		}
	}
	rec := f.do(t, http.MethodPost, "/v1/admin/firms/firm-a/suspend", platform)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 5 sensitive calls, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After on 429")
	}
}

func TestRouter_Metrics(t *testing.T) {
	f := newRouterFixture(t)
	f.do(t, http.MethodGet, "/v1/firms/public", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "marketplace_authz_decisions_total") {
		t.Fatalf("authorization metrics not exported")
	}
}

func TestNewRatePolicies(t *testing.T) {
	rates := NewRatePolicies(config.RateLimitConfig{AuthMax: 10, APIMax: 120, SensitiveMax: 5})
	if !rates.Auth.SkipFailedRequests || rates.API.SkipFailedRequests || rates.Sensitive.SkipFailedRequests {
		t.Fatalf("only the auth policy refunds failures: %+v", rates)
	}
	prefixes := map[string]bool{}
	for _, p := range []ports.RatePolicy{rates.Auth, rates.API, rates.Sensitive} {
		if prefixes[p.KeyPrefix] {
			t.Fatalf("duplicate key prefix %q", p.KeyPrefix)
		}
		prefixes[p.KeyPrefix] = true
	}
}
