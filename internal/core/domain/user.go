package domain

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidRole        = errors.New("role not allowed here")
	ErrBranchRequired     = errors.New("branch is required for this role")
	ErrFirmNameRequired   = errors.New("firm name is required")
)

// User models an account that can obtain a credential.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	FirmID       string    `json:"firm_id,omitempty"`
	BranchID     string    `json:"branch_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal returns the per-request identity this account authenticates as.
func (u *User) Principal() *Principal {
	return &Principal{
		ID:       u.ID,
		Role:     u.Role,
		TenantID: u.FirmID,
		BranchID: u.BranchID,
	}
}
