package domain

import "errors"

var (
	ErrBranchNotFound = errors.New("branch not found")
	ErrBranchTaken    = errors.New("branch belongs to another firm")
)
