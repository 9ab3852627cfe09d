package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

type stubSubscriptionRepo struct {
	mu      sync.Mutex
	subs      map[string]*domain.SubscriptionState
	createErr error
	findErr   error
	flips     int
	writes    int
}

func newStubSubscriptionRepo() *stubSubscriptionRepo {
	return &stubSubscriptionRepo{subs: make(map[string]*domain.SubscriptionState)}
}

func (r *stubSubscriptionRepo) Create(_ context.Context, sub *domain.SubscriptionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	clone := *sub
	r.subs[sub.FirmID] = &clone
	return nil
}

func (r *stubSubscriptionRepo) FindByFirmID(_ context.Context, firmID string) (*domain.SubscriptionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	s, ok := r.subs[firmID]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *stubSubscriptionRepo) MarkTrialExpired(_ context.Context, firmID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	s, ok := r.subs[firmID]
	if !ok || s.Status != domain.SubscriptionTrialActive {
		return false, nil
	}
	s.Status = domain.SubscriptionTrialExpired
	r.flips++
	return true, nil
}

func (r *stubSubscriptionRepo) SetStatus(_ context.Context, firmID string, status domain.SubscriptionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	s, ok := r.subs[firmID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	s.Status = status
	return nil
}

func (r *stubSubscriptionRepo) put(sub domain.SubscriptionState) {
	_ = r.Create(context.Background(), &sub)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSubscriptionSvc(repo *stubSubscriptionRepo) *SubscriptionService {
	svc := NewSubscriptionService(repo, 14*24*time.Hour, time.Second, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestSubscription_StartTrial(t *testing.T) {
	repo := newStubSubscriptionRepo()
	svc := newSubscriptionSvc(repo)

	sub, err := svc.StartTrial(context.Background(), "firm-a")
	if err != nil {
		t.Fatalf("StartTrial: %v", err)
	}
	if sub.Status != domain.SubscriptionTrialActive || !sub.TrialEndAt.Equal(fixedNow.Add(14*24*time.Hour)) {
		t.Fatalf("unexpected trial: %+v", sub)
	}

	info, err := svc.Evaluate(context.Background(), "firm-a")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !info.HasAccess || info.DaysRemaining == nil || *info.DaysRemaining != 14 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestSubscription_TrialExpiredOneSecondAgo(t *testing.T) {
	repo := newStubSubscriptionRepo()
	repo.put(domain.SubscriptionState{
		FirmID:     "f",
		Status:     domain.SubscriptionTrialActive,
		TrialEndAt: fixedNow.Add(-time.Second),
	})
	svc := newSubscriptionSvc(repo)

	info, err := svc.Evaluate(context.Background(), "f")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if info.HasAccess || !info.IsTrialExpired || *info.DaysRemaining != 0 {
		t.Fatalf("unexpected info: %+v", info)
	}
	// Evaluate is read-only even when it finds an expired trial.
	if repo.writes != 0 || repo.subs["f"].Status != domain.SubscriptionTrialActive {
		t.Fatalf("Evaluate wrote to the store")
	}
}

func TestSubscription_DaysRemainingRoundsUp(t *testing.T) {
	cases := []struct {
		left time.Duration
		want int
	}{
		{10 * 24 * time.Hour, 10},
		{9*24*time.Hour + time.Minute, 10},
		{time.Hour, 1},
	}
	for _, tc := range cases {
		repo := newStubSubscriptionRepo()
		repo.put(domain.SubscriptionState{FirmID: "f", Status: domain.SubscriptionTrialActive, TrialEndAt: fixedNow.Add(tc.left)})
		info, err := newSubscriptionSvc(repo).Evaluate(context.Background(), "f")
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if *info.DaysRemaining != tc.want || !info.HasAccess {
			t.Fatalf("%s left: got %d days (access=%v), want %d", tc.left, *info.DaysRemaining, info.HasAccess, tc.want)
		}
	}
}

func TestSubscription_PaidTierHasAccess(t *testing.T) {
	repo := newStubSubscriptionRepo()
	repo.put(domain.SubscriptionState{FirmID: "f", Status: domain.SubscriptionPro, TrialEndAt: fixedNow.Add(-30 * 24 * time.Hour)})

	info, err := newSubscriptionSvc(repo).Evaluate(context.Background(), "f")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !info.HasAccess || info.DaysRemaining != nil || info.IsTrialExpired {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestSubscription_CheckAndUpdateFlipsOnce(t *testing.T) {
	repo := newStubSubscriptionRepo()
	repo.put(domain.SubscriptionState{FirmID: "f", Status: domain.SubscriptionTrialActive, TrialEndAt: fixedNow.Add(-time.Minute)})
	svc := newSubscriptionSvc(repo)

	for i := 0; i < 3; i++ {
		info, err := svc.CheckAndUpdateTrialStatus(context.Background(), "f")
		if err != nil {
			t.Fatalf("CheckAndUpdateTrialStatus: %v", err)
		}
		if info.Status != domain.SubscriptionTrialExpired || info.HasAccess {
			t.Fatalf("call %d: unexpected info: %+v", i, info)
		}
	}
	if repo.flips != 1 || repo.writes != 1 {
		t.Fatalf("expected exactly one flip, got flips=%d writes=%d", repo.flips, repo.writes)
	}
}

func TestSubscription_CheckAndUpdateLeavesLiveTrial(t *testing.T) {
	repo := newStubSubscriptionRepo()
	repo.put(domain.SubscriptionState{FirmID: "f", Status: domain.SubscriptionTrialActive, TrialEndAt: fixedNow.Add(time.Hour)})

	info, err := newSubscriptionSvc(repo).CheckAndUpdateTrialStatus(context.Background(), "f")
	if err != nil {
		t.Fatalf("CheckAndUpdateTrialStatus: %v", err)
	}
	if info.Status != domain.SubscriptionTrialActive || repo.writes != 0 {
		t.Fatalf("live trial was touched: %+v writes=%d", info, repo.writes)
	}
}

func TestSubscription_ChangePlan(t *testing.T) {
	repo := newStubSubscriptionRepo()
	repo.put(domain.SubscriptionState{FirmID: "f", Status: domain.SubscriptionTrialExpired, TrialEndAt: fixedNow.Add(-time.Hour)})
	svc := newSubscriptionSvc(repo)

	if _, err := svc.ChangePlan(context.Background(), "f", domain.SubscriptionTrialActive); !errors.Is(err, domain.ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}

	info, err := svc.ChangePlan(context.Background(), "f", domain.SubscriptionBasic)
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if info.Status != domain.SubscriptionBasic || !info.HasAccess {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := svc.ChangePlan(context.Background(), "ghost", domain.SubscriptionMax); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestSubscription_StoreFailure(t *testing.T) {
	repo := newStubSubscriptionRepo()
	repo.findErr = errors.New("no reachable servers")

	if _, err := newSubscriptionSvc(repo).Evaluate(context.Background(), "f"); !errors.Is(err, domain.ErrInfrastructureUnavailable) {
		t.Fatalf("expected ErrInfrastructureUnavailable, got %v", err)
	}
}
