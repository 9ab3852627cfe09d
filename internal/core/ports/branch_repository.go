package ports

import "context"

// BranchRepository records which firm each branch id belongs to.
type BranchRepository interface {
	// Claim binds branchID to firmID. Claiming a branch the firm already owns
	// succeeds; a branch owned by another firm returns domain.ErrBranchTaken.
	Claim(ctx context.Context, firmID, branchID string) error
	// FirmOf returns the firm owning branchID, or domain.ErrBranchNotFound.
	FirmOf(ctx context.Context, branchID string) (string, error)
}
