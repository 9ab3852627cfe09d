package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deliverly/marketplace-api/internal/api/middleware"
	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
)

type SubscriptionHandler struct {
	gate ports.SubscriptionGate
}

func NewSubscriptionHandler(gate ports.SubscriptionGate) *SubscriptionHandler {
	return &SubscriptionHandler{gate: gate}
}

// Get returns the entitlement derived for the firm right now.
//
// @Summary      Get subscription
// @Tags         subscriptions
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id  path      string  true  "Firm ID"
// @Success      200      {object}  subscriptionResponse
// @Failure      401      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /v1/firms/{firm_id}/subscription [get]
func (h *SubscriptionHandler) Get(c echo.Context) error {
	authz, err := scoped(c)
	if err != nil {
		return err
	}

	info, err := h.gate.Evaluate(c.Request().Context(), authz.Scope.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSubscriptionResponse(info))
}

// Refresh persists an elapsed trial as TRIAL_EXPIRED and returns the result.
//
// @Summary      Refresh trial status
// @Tags         subscriptions
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id  path      string  true  "Firm ID"
// @Success      200      {object}  subscriptionResponse
// @Failure      401      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /v1/firms/{firm_id}/subscription/refresh [post]
func (h *SubscriptionHandler) Refresh(c echo.Context) error {
	authz, err := scoped(c)
	if err != nil {
		return err
	}

	info, err := h.gate.CheckAndUpdateTrialStatus(c.Request().Context(), authz.Scope.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSubscriptionResponse(info))
}

// ChangePlan moves a firm onto a paid tier.
//
// @Summary      Change subscription plan
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id  path      string             true  "Firm ID"
// @Param        body     body      changePlanRequest  true  "Target plan"
// @Success      200      {object}  subscriptionResponse
// @Failure      400      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /v1/admin/firms/{firm_id}/subscription [put]
func (h *SubscriptionHandler) ChangePlan(c echo.Context) error {
	var req changePlanRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	firmID := c.Param(middleware.ParamFirmID)
	info, err := h.gate.ChangePlan(c.Request().Context(), firmID, domain.SubscriptionStatus(req.Plan))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSubscriptionResponse(info))
}
