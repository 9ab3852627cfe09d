package handler

import (
	"time"

	"github.com/deliverly/marketplace-api/internal/core/domain"
)

// errorResponse documents the error envelope rendered by the API error handler.
type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// --- Auth ---

type registerRequest struct {
	Username string `json:"username"  validate:"required,min=3,max=64"`
	Password string `json:"password"  validate:"required,min=8,max=128"`
	Role     string `json:"role"      validate:"required,oneof=client firm_owner"`
	FirmName string `json:"firm_name" validate:"required_if=Role firm_owner,max=120"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type memberRequest struct {
	Username string `json:"username"  validate:"required,min=3,max=64"`
	Password string `json:"password"  validate:"required,min=8,max=128"`
	Role     string `json:"role"      validate:"required,oneof=staff driver"`
	BranchID string `json:"branch_id" validate:"required"`
}

type authResponse struct {
	Token string       `json:"token,omitempty"`
	User  *domain.User `json:"user,omitempty"`
}

// --- Firms ---

type transitionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type firmResponse struct {
	FirmID             string     `json:"firm_id"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	IsVisibleToClients bool       `json:"is_visible_to_clients"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	Version            int64      `json:"version"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type publicFirm struct {
	FirmID string `json:"firm_id"`
	Name   string `json:"name"`
}

type publicFirmsResponse struct {
	Firms  []publicFirm      `json:"firms"`
	Viewer *domain.Principal `json:"viewer,omitempty"`
}

type firmListResponse struct {
	Firms []firmResponse `json:"firms"`
	Total int            `json:"total"`
}

type scopeResponse struct {
	Principal *domain.Principal   `json:"principal"`
	Scope     *domain.TenantScope `json:"scope"`
}

// --- Subscriptions ---

type changePlanRequest struct {
	Plan string `json:"plan" validate:"required,oneof=BASIC PRO MAX"`
}

type subscriptionResponse struct {
	FirmID         string     `json:"firm_id"`
	Status         string     `json:"status"`
	DaysRemaining  *int       `json:"days_remaining"`
	IsTrialExpired bool       `json:"is_trial_expired"`
	HasAccess      bool       `json:"has_access"`
	TrialEndAt     *time.Time `json:"trial_end_at,omitempty"`
}
