package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
)

type stubAuthRepo struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	err      error
	deadline bool // a call ran under a deadline
}

func newStubAuthRepo() *stubAuthRepo {
	return &stubAuthRepo{users: make(map[string]*domain.User)}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

func (r *stubAuthRepo) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.deadline = ctx.Deadline()
	if r.err != nil {
		return nil, r.err
	}
	if _, exists := r.users[user.Username]; exists {
		return nil, domain.ErrUserExists
	}
	copy := cloneUser(user)
	if copy.ID == "" {
		copy.ID = "id-" + user.Username
	}
	r.users[copy.Username] = cloneUser(copy)
	return cloneUser(copy), nil
}

func (r *stubAuthRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.deadline = ctx.Deadline()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *stubAuthRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, u := range r.users {
		if u.ID == id {
			delete(r.users, name)
			return nil
		}
	}
	return domain.ErrUserNotFound
}

type authFixture struct {
	svc      *AuthService
	users    *stubAuthRepo
	firms    *stubFirmRepo
	subs     *stubSubscriptionRepo
	branches *stubBranchRepo
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		users:    newStubAuthRepo(),
		firms:    newStubFirmRepo(),
		subs:     newStubSubscriptionRepo(),
		branches: newStubBranchRepo(),
	}
	f.svc = NewAuthService(
		f.users,
		f.branches,
		NewTokenIssuer(testSecret, time.Hour),
		newLifecycle(f.firms),
		newSubscriptionSvc(f.subs),
		time.Second,
		zerolog.Nop(),
	)
	f.svc.newFirmID = func() string { return "firm-new" }
	return f
}

func TestAuthService_Register_Client(t *testing.T) {
	f := newAuthFixture()

	user, err := f.svc.Register(context.Background(), ports.RegisterInput{Username: "alice", Password: "pass123", Role: domain.RoleClient})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if user.PasswordHash == "pass123" {
		t.Fatalf("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("pass123")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
	if user.FirmID != "" || len(f.firms.firms) != 0 {
		t.Fatalf("client registration must not create a firm")
	}
}

func TestAuthService_Register_FirmOwnerOnboardsFirm(t *testing.T) {
	f := newAuthFixture()

	user, err := f.svc.Register(context.Background(), ports.RegisterInput{
		Username: "bob",
		Password: "pass123",
		Role:     domain.RoleFirmOwner,
		FirmName: " Bob's Bikes ",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.FirmID != "firm-new" {
		t.Fatalf("owner not bound to the new firm: %+v", user)
	}

	firm, err := f.firms.FindByID(context.Background(), "firm-new")
	if err != nil {
		t.Fatalf("firm not created: %v", err)
	}
	if firm.Status != domain.FirmDraft || firm.Name != "Bob's Bikes" || firm.OwnerID != user.ID || firm.IsVisibleToClients {
		t.Fatalf("unexpected firm: %+v", firm)
	}
	sub, err := f.subs.FindByFirmID(context.Background(), "firm-new")
	if err != nil || sub.Status != domain.SubscriptionTrialActive {
		t.Fatalf("trial not started: %+v, %v", sub, err)
	}
}

func TestAuthService_Register_OnboardingFailureRemovesOwner(t *testing.T) {
	cases := map[string]func(f *authFixture){
		"firm store down":         func(f *authFixture) { f.firms.createErr = errors.New("server selection timeout") },
		"subscription store down": func(f *authFixture) { f.subs.createErr = errors.New("server selection timeout") },
	}
	for name, breakStore := range cases {
		f := newAuthFixture()
		breakStore(f)
		in := ports.RegisterInput{Username: "bob", Password: "pass123", Role: domain.RoleFirmOwner, FirmName: "Bob's Bikes"}

		if _, err := f.svc.Register(context.Background(), in); !errors.Is(err, domain.ErrInfrastructureUnavailable) {
			t.Fatalf("%s: expected ErrInfrastructureUnavailable, got %v", name, err)
		}
		if _, err := f.users.FindByUsername(context.Background(), "bob"); !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("%s: owner left behind after failed onboarding: %v", name, err)
		}

		// Once the store recovers the same username can register.
		f.firms.createErr, f.subs.createErr = nil, nil
		user, err := f.svc.Register(context.Background(), in)
		if err != nil || user.FirmID != "firm-new" {
			t.Fatalf("%s: retry failed: %+v, %v", name, user, err)
		}
	}
}

func TestAuthService_Register_Validation(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, ports.RegisterInput{Password: "pass", Role: domain.RoleClient}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	for _, role := range []domain.Role{domain.RolePlatformAdmin, domain.RoleStaff, "wrong"} {
		if _, err := f.svc.Register(ctx, ports.RegisterInput{Username: "x", Password: "p", Role: role}); !errors.Is(err, domain.ErrInvalidRole) {
			t.Fatalf("%s: expected ErrInvalidRole, got %v", role, err)
		}
	}
	if _, err := f.svc.Register(ctx, ports.RegisterInput{Username: "x", Password: "p", Role: domain.RoleFirmOwner}); !errors.Is(err, domain.ErrFirmNameRequired) {
		t.Fatalf("expected ErrFirmNameRequired, got %v", err)
	}
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	_, _ = f.svc.Register(ctx, ports.RegisterInput{Username: "bob", Password: "pass", Role: domain.RoleClient})
	if _, err := f.svc.Register(ctx, ports.RegisterInput{Username: "bob", Password: "pass2", Role: domain.RoleClient}); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthService_Login_Success(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, ports.RegisterInput{Username: "carol", Password: "s3cret", Role: domain.RoleFirmOwner, FirmName: "Carol Co"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	token, user, err := f.svc.Login(ctx, "carol", "s3cret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user == nil || user.Username != "carol" {
		t.Fatalf("unexpected user: %+v", user)
	}

	p, err := NewTokenVerifier(testSecret).Verify(token)
	if err != nil {
		t.Fatalf("token invalid: %v", err)
	}
	if p.Role != domain.RoleFirmOwner || p.TenantID != "firm-new" || p.ID != user.ID {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthService_Login_Failures(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	_, _ = f.svc.Register(ctx, ports.RegisterInput{Username: "dave", Password: "goodpass", Role: domain.RoleClient})

	if _, _, err := f.svc.Login(ctx, "dave", "badpass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("bad password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "ghost", "pass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
	if !f.users.deadline {
		t.Fatalf("user lookup ran without a store timeout")
	}

	f.users.err = errors.New("server selection timeout")
	if _, _, err := f.svc.Login(ctx, "dave", "goodpass"); !errors.Is(err, domain.ErrInfrastructureUnavailable) {
		t.Fatalf("store down: expected ErrInfrastructureUnavailable, got %v", err)
	}
}

func TestAuthService_CreateMember(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	scope := domain.TenantScope{TenantID: "firm-a", CanAccessAllBranches: true}

	user, err := f.svc.CreateMember(ctx, scope, ports.MemberInput{Username: "sam", Password: "pw", Role: domain.RoleStaff, BranchID: "br-3"})
	if err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	if user.FirmID != "firm-a" || user.BranchID != "br-3" || user.Role != domain.RoleStaff {
		t.Fatalf("unexpected member: %+v", user)
	}

	if _, err := f.svc.CreateMember(ctx, scope, ports.MemberInput{Username: "x", Password: "pw", Role: domain.RoleFirmOwner, BranchID: "br-1"}); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := f.svc.CreateMember(ctx, scope, ports.MemberInput{Username: "x", Password: "pw", Role: domain.RoleDriver}); !errors.Is(err, domain.ErrBranchRequired) {
		t.Fatalf("expected ErrBranchRequired, got %v", err)
	}

	if owner, _ := f.branches.FirmOf(ctx, "br-3"); owner != "firm-a" {
		t.Fatalf("branch not bound to the firm, owner=%q", owner)
	}
	if _, err := f.svc.CreateMember(ctx, scope, ports.MemberInput{Username: "w", Password: "pw", Role: domain.RoleDriver, BranchID: "br-9"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another firm's branch, got %v", err)
	}
	if _, err := f.users.FindByUsername(ctx, "w"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("member created on another firm's branch")
	}

	narrowed := domain.TenantScope{TenantID: "firm-a", BranchID: "br-1"}
	if _, err := f.svc.CreateMember(ctx, narrowed, ports.MemberInput{Username: "y", Password: "pw", Role: domain.RoleDriver, BranchID: "br-2"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden outside branch scope, got %v", err)
	}
	wildcard := domain.TenantScope{TenantID: domain.WildcardTenant, CanAccessAllBranches: true}
	if _, err := f.svc.CreateMember(ctx, wildcard, ports.MemberInput{Username: "z", Password: "pw", Role: domain.RoleDriver, BranchID: "br-1"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for wildcard scope, got %v", err)
	}
}

func TestAuthService_EnsureAdmin(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	if err := f.svc.EnsureAdmin(ctx, "root", "toor"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if err := f.svc.EnsureAdmin(ctx, "root", "other"); err != nil {
		t.Fatalf("second EnsureAdmin: %v", err)
	}
	admin, err := f.users.FindByUsername(ctx, "root")
	if err != nil || admin.Role != domain.RolePlatformAdmin {
		t.Fatalf("admin not bootstrapped: %+v, %v", admin, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("toor")) != nil {
		t.Fatalf("existing admin password was overwritten")
	}
	if err := f.svc.EnsureAdmin(ctx, "", ""); err != nil {
		t.Fatalf("EnsureAdmin without credentials: %v", err)
	}
}
