package domain

import (
	"strings"
	"time"
)

// FirmStatus represents the approval state of a tenant.
type FirmStatus string

const (
	FirmDraft         FirmStatus = "DRAFT"
	FirmPendingReview FirmStatus = "PENDING_REVIEW"
	FirmActive        FirmStatus = "ACTIVE"
	FirmSuspended     FirmStatus = "SUSPENDED"
)

// Valid reports whether s is a known firm status.
func (s FirmStatus) Valid() bool {
	switch s {
	case FirmDraft, FirmPendingReview, FirmActive, FirmSuspended:
		return true
	}
	return false
}

// FirmTransition names a lifecycle operation.
type FirmTransition string

const (
	TransitionSubmitForReview FirmTransition = "submit_for_review"
	TransitionApprove         FirmTransition = "approve"
	TransitionReject          FirmTransition = "reject"
	TransitionSuspend         FirmTransition = "suspend"
	TransitionReactivate      FirmTransition = "reactivate"
)

type transitionRule struct {
	from  FirmStatus
	to    FirmStatus
	actor Role
}

// firmTransitions is the complete transition table; anything absent is illegal.
var firmTransitions = map[FirmTransition]transitionRule{
	TransitionSubmitForReview: {from: FirmDraft, to: FirmPendingReview, actor: RoleFirmOwner},
	TransitionApprove:         {from: FirmPendingReview, to: FirmActive, actor: RolePlatformAdmin},
	TransitionReject:          {from: FirmPendingReview, to: FirmDraft, actor: RolePlatformAdmin},
	TransitionSuspend:         {from: FirmActive, to: FirmSuspended, actor: RolePlatformAdmin},
	TransitionReactivate:      {from: FirmSuspended, to: FirmActive, actor: RolePlatformAdmin},
}

// Transitions returns every known transition.
func Transitions() []FirmTransition {
	return []FirmTransition{
		TransitionSubmitForReview,
		TransitionApprove,
		TransitionReject,
		TransitionSuspend,
		TransitionReactivate,
	}
}

// Actor returns the role allowed to perform t.
func (t FirmTransition) Actor() (Role, bool) {
	rule, ok := firmTransitions[t]
	return rule.actor, ok
}

// FirmState is the lifecycle record of a tenant. Version is the optimistic
// concurrency token and increases by one on every persisted transition.
type FirmState struct {
	FirmID             string     `json:"firm_id"`
	Name               string     `json:"name"`
	OwnerID            string     `json:"owner_id,omitempty"`
	Status             FirmStatus `json:"status"`
	IsVisibleToClients bool       `json:"is_visible_to_clients"`
	SubmittedAt        *time.Time `json:"submitted_at"`
	ApprovedAt         *time.Time `json:"approved_at"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewDraftFirm returns an invisible DRAFT firm at version 1.
func NewDraftFirm(firmID, name, ownerID string, now time.Time) *FirmState {
	return &FirmState{
		FirmID:    firmID,
		Name:      name,
		OwnerID:   ownerID,
		Status:    FirmDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanApply reports whether t is legal from the current status.
func (f *FirmState) CanApply(t FirmTransition) error {
	rule, ok := firmTransitions[t]
	if !ok || rule.from != f.Status {
		return &TransitionError{From: f.Status, Attempted: t}
	}
	return nil
}

// Apply computes the state after t without mutating f. The returned state
// carries the next version; persisting it is the caller's job.
func (f *FirmState) Apply(t FirmTransition, reason string, now time.Time) (*FirmState, error) {
	if err := f.CanApply(t); err != nil {
		return nil, err
	}

	next := *f
	next.Status = firmTransitions[t].to
	next.Version = f.Version + 1
	next.UpdatedAt = now

	switch t {
	case TransitionSubmitForReview:
		submitted := now
		next.SubmittedAt = &submitted
		next.RejectionReason = ""
	case TransitionApprove:
		approved := now
		next.ApprovedAt = &approved
	case TransitionReject:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return nil, ErrRejectionReasonRequired
		}
		next.RejectionReason = reason
		next.SubmittedAt = nil
	}

	// Only ACTIVE firms are visible; every other state is forced invisible.
	next.IsVisibleToClients = next.Status == FirmActive
	return &next, nil
}
