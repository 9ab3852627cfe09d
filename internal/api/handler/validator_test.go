package handler

import (
	"errors"
	"testing"
)

func TestValidator_ReportsFieldsByWireName(t *testing.T) {
	v := NewValidator()

	err := v.Validate(&registerRequest{Username: "al", Password: "s3cret-pass", Role: "firm_owner"})
	var fe FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	if fe["username"] != "username must be at least 3 characters" {
		t.Fatalf("unexpected username message %q", fe["username"])
	}
	if fe["firm_name"] != "firm_name is required for this role" {
		t.Fatalf("unexpected firm_name message %q", fe["firm_name"])
	}
	if err.Error() != fe["firm_name"]+"; "+fe["username"] {
		t.Fatalf("messages not sorted by field: %q", err.Error())
	}
}

func TestValidator_Valid(t *testing.T) {
	v := NewValidator()
	if err := v.Validate(&changePlanRequest{Plan: "PRO"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := v.Validate(&changePlanRequest{Plan: "GOLD"})
	var fe FieldErrors
	if !errors.As(err, &fe) || fe["plan"] != "plan must be one of: BASIC, PRO, MAX" {
		t.Fatalf("unexpected error: %v", err)
	}
}
