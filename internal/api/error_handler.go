package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/deliverly/marketplace-api/internal/api/handler"
	"github.com/deliverly/marketplace-api/internal/core/domain"
)

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps known domain errors to their appropriate HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error", "code", "details"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := resolveError(err, log, c)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, errorResponse) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorResponse{Error: fmt.Sprintf("%v", he.Message), Code: httpCode(he.Code)}
	}

	var (
		te  *domain.TransitionError
		rle *domain.RateLimitError
		fe  handler.FieldErrors
	)
	switch {
	case errors.As(err, &fe):
		return http.StatusBadRequest, errorResponse{
			Error:   "request validation failed",
			Code:    "validation_failed",
			Details: map[string]any{"fields": fe},
		}
	case errors.Is(err, domain.ErrUnauthenticated):
		log.Debug().Err(err).Str("path", c.Path()).Msg("unauthenticated request")
		return http.StatusUnauthorized, errorResponse{Error: "authentication required", Code: "unauthenticated"}
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{Error: "invalid credentials", Code: "invalid_credentials"}
	case errors.As(err, &rle):
		return http.StatusTooManyRequests, errorResponse{
			Error: "rate limit exceeded",
			Code:  "rate_limited",
			Details: map[string]any{
				"limit":    rle.Limit,
				"reset_at": rle.ResetAt.UTC().Format(time.RFC3339),
			},
		}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "access forbidden", Code: "forbidden"}
	case errors.Is(err, domain.ErrSubscriptionRequired):
		return http.StatusPaymentRequired, errorResponse{Error: "an active trial or paid plan is required", Code: "subscription_required"}
	case errors.As(err, &te):
		return http.StatusBadRequest, errorResponse{
			Error: te.Error(),
			Code:  "invalid_state_transition",
			Details: map[string]any{
				"from":      te.From,
				"attempted": te.Attempted,
			},
		}
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_state_transition"}
	case errors.Is(err, domain.ErrRejectionReasonRequired),
		errors.Is(err, domain.ErrInvalidPlan),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrBranchRequired),
		errors.Is(err, domain.ErrFirmNameRequired):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_failed"}
	case errors.Is(err, domain.ErrFirmNotFound):
		return http.StatusNotFound, errorResponse{Error: "firm not found", Code: "not_found"}
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		return http.StatusNotFound, errorResponse{Error: "subscription not found", Code: "not_found"}
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, errorResponse{Error: "user not found", Code: "not_found"}
	case errors.Is(err, domain.ErrUserExists):
		return http.StatusConflict, errorResponse{Error: "user already exists", Code: "conflict"}
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, errorResponse{Error: "concurrent modification, retry", Code: "conflict"}
	case errors.Is(err, domain.ErrInfrastructureUnavailable):
		log.Error().
			Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("dependency unavailable")
		return http.StatusServiceUnavailable, errorResponse{Error: "service temporarily unavailable", Code: "unavailable"}
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: "internal"}
}

func httpCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	if status >= 500 {
		return "internal"
	}
	return "http_error"
}
