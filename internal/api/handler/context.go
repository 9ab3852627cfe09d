package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deliverly/marketplace-api/internal/api/middleware"
	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/service"
)

// authorized returns the context the Guard stored. A handler mounted without
// a guard is a wiring bug, reported as 401 rather than a panic.
func authorized(c echo.Context) (*service.AuthorizedContext, error) {
	authz := middleware.Authz(c)
	if authz == nil || authz.Principal == nil {
		return nil, &domain.AuthError{Reason: domain.AuthMissing}
	}
	return authz, nil
}

// scoped additionally requires a resolved, single-tenant scope.
func scoped(c echo.Context) (*service.AuthorizedContext, error) {
	authz, err := authorized(c)
	if err != nil {
		return nil, err
	}
	if authz.Scope == nil || authz.Scope.IsWildcard() {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "firm_id is required")
	}
	return authz, nil
}

// bindAndValidate decodes the body into req and runs struct validation.
// Validation failures come back as FieldErrors.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	return c.Validate(req)
}
