package domain

import (
	"math"
	"time"
)

// SubscriptionStatus is the stored entitlement tier of a firm.
type SubscriptionStatus string

const (
	SubscriptionTrialActive  SubscriptionStatus = "TRIAL_ACTIVE"
	SubscriptionTrialExpired SubscriptionStatus = "TRIAL_EXPIRED"
	SubscriptionBasic        SubscriptionStatus = "BASIC"
	SubscriptionPro          SubscriptionStatus = "PRO"
	SubscriptionMax          SubscriptionStatus = "MAX"
)

// IsPaid reports whether s is a paid tier.
func (s SubscriptionStatus) IsPaid() bool {
	switch s {
	case SubscriptionBasic, SubscriptionPro, SubscriptionMax:
		return true
	}
	return false
}

const day = 24 * time.Hour

// SubscriptionState is the stored subscription record of a firm.
type SubscriptionState struct {
	FirmID       string             `json:"firm_id"`
	Status       SubscriptionStatus `json:"status"`
	TrialStartAt time.Time          `json:"trial_start_at"`
	TrialEndAt   time.Time          `json:"trial_end_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewTrial starts a trial of the given length at now.
func NewTrial(firmID string, now time.Time, length time.Duration) *SubscriptionState {
	return &SubscriptionState{
		FirmID:       firmID,
		Status:       SubscriptionTrialActive,
		TrialStartAt: now,
		TrialEndAt:   now.Add(length),
		UpdatedAt:    now,
	}
}

// SubscriptionInfo is the entitlement derived at read time. Never stored.
type SubscriptionInfo struct {
	FirmID         string             `json:"firm_id"`
	Status         SubscriptionStatus `json:"status"`
	DaysRemaining  *int               `json:"days_remaining"`
	IsTrialExpired bool               `json:"is_trial_expired"`
	HasAccess      bool               `json:"has_access"`
	TrialEndAt     time.Time          `json:"trial_end_at"`
}

// Evaluate derives entitlement from the stored state and now.
func (s *SubscriptionState) Evaluate(now time.Time) SubscriptionInfo {
	info := SubscriptionInfo{
		FirmID:     s.FirmID,
		Status:     s.Status,
		TrialEndAt: s.TrialEndAt,
	}
	if s.Status.IsPaid() {
		info.HasAccess = true
		return info
	}

	days := int(math.Ceil(float64(s.TrialEndAt.Sub(now)) / float64(day)))
	if days < 0 {
		days = 0
	}
	info.DaysRemaining = &days
	info.IsTrialExpired = now.After(s.TrialEndAt)
	info.HasAccess = !info.IsTrialExpired
	return info
}
