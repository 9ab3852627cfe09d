package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/deliverly/marketplace-api/internal/core/service"
)

const authzContextKey = "authz"

// Path and query parameter names that carry a requested tenant scope.
const (
	ParamFirmID   = "firm_id"
	ParamBranchID = "branch_id"
)

// BuildRequest extracts the transport-independent request view. A path
// parameter wins over the query string of the same name.
func BuildRequest(c echo.Context) service.Request {
	return service.Request{
		Authorization: c.Request().Header.Get(echo.HeaderAuthorization),
		ClientIP:      c.RealIP(),
		TenantID:      param(c, ParamFirmID),
		BranchID:      param(c, ParamBranchID),
	}
}

func param(c echo.Context, name string) string {
	if v := c.Param(name); v != "" {
		return v
	}
	return c.QueryParam(name)
}

// Authz returns the authorized context stored by Guard, or nil on routes
// that are not guarded.
func Authz(c echo.Context) *service.AuthorizedContext {
	authz, _ := c.Get(authzContextKey).(*service.AuthorizedContext)
	return authz
}

// SetAuthz stores authz on the echo context.
func SetAuthz(c echo.Context, authz *service.AuthorizedContext) {
	c.Set(authzContextKey, authz)
}
