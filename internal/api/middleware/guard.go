package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/service"
	"github.com/deliverly/marketplace-api/pkg/logger"
)

// Arbiter is the authorization pipeline a Guard delegates to.
type Arbiter interface {
	Authorize(ctx context.Context, req service.Request, policy service.RoutePolicy) (*service.AuthorizedContext, error)
	Release(authz *service.AuthorizedContext, status int)
}

// Guard authorizes each request against policy before calling next. Rate
// headers are written whenever the rate check ran, including on denials.
func Guard(arbiter Arbiter, policy service.RoutePolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logger.WithRequest(c.Request().Context(), requestID, policy.Name)
			c.SetRequest(c.Request().WithContext(ctx))

			authz, err := arbiter.Authorize(ctx, BuildRequest(c), policy)
			if authz != nil {
				setRateHeaders(c, authz, err)
			}
			if err != nil {
				c.Error(err)
				arbiter.Release(authz, statusOf(c))
				return nil
			}

			SetAuthz(c, authz)
			if err := next(c); err != nil {
				c.Error(err)
			}
			arbiter.Release(authz, statusOf(c))
			return nil
		}
	}
}

func setRateHeaders(c echo.Context, authz *service.AuthorizedContext, err error) {
	rate := authz.Rate
	if rate == nil {
		return
	}
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(rate.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(rate.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(rate.ResetAt.UnixMilli(), 10))

	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		h.Set("Retry-After", strconv.Itoa(rle.RetryAfter(time.Now())))
	}
}

// statusOf is the status a finished request reported, defaulting to 200
// when the handler wrote nothing.
func statusOf(c echo.Context) int {
	if s := c.Response().Status; s != 0 {
		return s
	}
	return http.StatusOK
}
