package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deliverly/marketplace-api/internal/api/middleware"
	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
)

type FirmHandler struct {
	lifecycle ports.FirmLifecycle
}

func NewFirmHandler(lifecycle ports.FirmLifecycle) *FirmHandler {
	return &FirmHandler{lifecycle: lifecycle}
}

// ListPublic returns the firms clients can order from.
//
// @Summary      List public firms
// @Tags         firms
// @Produce      json
// @Success      200  {object}  publicFirmsResponse
// @Failure      429  {object}  errorResponse
// @Failure      503  {object}  errorResponse
// @Router       /v1/firms/public [get]
func (h *FirmHandler) ListPublic(c echo.Context) error {
	firms, err := h.lifecycle.ListVisible(c.Request().Context())
	if err != nil {
		return err
	}

	resp := publicFirmsResponse{Firms: make([]publicFirm, 0, len(firms))}
	for _, f := range firms {
		resp.Firms = append(resp.Firms, publicFirm{FirmID: f.FirmID, Name: f.Name})
	}
	if authz := middleware.Authz(c); authz != nil {
		resp.Viewer = authz.Principal
	}
	return c.JSON(http.StatusOK, resp)
}

// Scope echoes the caller's effective tenant scope.
//
// @Summary      Resolve tenant scope
// @Tags         firms
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id    query     string  false  "Requested firm"
// @Param        branch_id  query     string  false  "Requested branch"
// @Success      200        {object}  scopeResponse
// @Failure      401        {object}  errorResponse
// @Failure      403        {object}  errorResponse
// @Router       /v1/scope [get]
func (h *FirmHandler) Scope(c echo.Context) error {
	authz, err := authorized(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scopeResponse{Principal: authz.Principal, Scope: authz.Scope})
}

// Get returns the lifecycle state of a firm inside the caller's scope.
//
// @Summary      Get firm
// @Tags         firms
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id  path      string  true  "Firm ID"
// @Success      200      {object}  firmResponse
// @Failure      401      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /v1/firms/{firm_id} [get]
func (h *FirmHandler) Get(c echo.Context) error {
	authz, err := scoped(c)
	if err != nil {
		return err
	}

	firm, err := h.lifecycle.Get(c.Request().Context(), authz.Scope.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toFirmResponse(firm))
}

// Submit sends the caller's DRAFT firm to platform review.
//
// @Summary      Submit firm for review
// @Tags         firms
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id  path      string  true  "Firm ID"
// @Success      200      {object}  firmResponse
// @Failure      400      {object}  errorResponse
// @Failure      402      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      409      {object}  errorResponse
// @Router       /v1/firms/{firm_id}/submit [post]
func (h *FirmHandler) Submit(c echo.Context) error {
	authz, err := scoped(c)
	if err != nil {
		return err
	}

	firm, err := h.lifecycle.Transition(c.Request().Context(), authz.Principal, authz.Scope.TenantID, domain.TransitionSubmitForReview, "")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toFirmResponse(firm))
}

// AdminList returns firms in one lifecycle status, PENDING_REVIEW by default.
//
// @Summary      List firms by status
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "DRAFT, PENDING_REVIEW, ACTIVE or SUSPENDED"
// @Success      200     {object}  firmListResponse
// @Failure      400     {object}  errorResponse
// @Failure      403     {object}  errorResponse
// @Router       /v1/admin/firms [get]
func (h *FirmHandler) AdminList(c echo.Context) error {
	status := domain.FirmPendingReview
	if raw := c.QueryParam("status"); raw != "" {
		status = domain.FirmStatus(raw)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown firm status: "+raw)
		}
	}

	firms, err := h.lifecycle.ListByStatus(c.Request().Context(), status)
	if err != nil {
		return err
	}

	resp := firmListResponse{Firms: make([]firmResponse, 0, len(firms)), Total: len(firms)}
	for _, f := range firms {
		resp.Firms = append(resp.Firms, toFirmResponse(f))
	}
	return c.JSON(http.StatusOK, resp)
}

// AdminTransition returns the handler for one platform-admin transition.
// A rejection needs a reason in the body; other transitions ignore it.
//
// @Summary      Apply an admin lifecycle transition
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id  path      string             true   "Firm ID"
// @Param        action   path      string             true   "approve, reject, suspend or reactivate"
// @Param        body     body      transitionRequest  false  "Rejection reason"
// @Success      200      {object}  firmResponse
// @Failure      400      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Failure      409      {object}  errorResponse
// @Router       /v1/admin/firms/{firm_id}/{action} [post]
func (h *FirmHandler) AdminTransition(t domain.FirmTransition) echo.HandlerFunc {
	return func(c echo.Context) error {
		authz, err := authorized(c)
		if err != nil {
			return err
		}

		var req transitionRequest
		if c.Request().ContentLength != 0 {
			if err := bindAndValidate(c, &req); err != nil {
				return err
			}
		}

		firmID := c.Param(middleware.ParamFirmID)
		firm, err := h.lifecycle.Transition(c.Request().Context(), authz.Principal, firmID, t, req.Reason)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toFirmResponse(firm))
	}
}
