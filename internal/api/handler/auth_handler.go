package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deliverly/marketplace-api/internal/core/domain"
	"github.com/deliverly/marketplace-api/internal/core/ports"
)

type AuthHandler struct {
	authService ports.AuthService
}

func NewAuthHandler(authService ports.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register creates a client account, or a firm owner together with a DRAFT
// firm on a fresh trial.
//
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      registerRequest  true  "User registration details"
// @Success      201   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      429   {object}  errorResponse
// @Failure      503   {object}  errorResponse
// @Router       /auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.authService.Register(c.Request().Context(), ports.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Role:     domain.Role(req.Role),
		FirmName: req.FirmName,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, authResponse{User: user})
}

// Login authenticates a user and returns a signed token.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials"
// @Success      200   {object}  authResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      429   {object}  errorResponse
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	token, user, err := h.authService.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, authResponse{Token: token, User: user})
}

// CreateMember adds a staff or driver account to the caller's firm.
//
// @Summary      Create a firm member
// @Tags         firms
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        firm_id  path      string         true  "Firm ID"
// @Param        body     body      memberRequest  true  "Member details"
// @Success      201      {object}  authResponse
// @Failure      400      {object}  errorResponse
// @Failure      401      {object}  errorResponse
// @Failure      402      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      409      {object}  errorResponse
// @Router       /v1/firms/{firm_id}/members [post]
func (h *AuthHandler) CreateMember(c echo.Context) error {
	authz, err := scoped(c)
	if err != nil {
		return err
	}

	var req memberRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.authService.CreateMember(c.Request().Context(), *authz.Scope, ports.MemberInput{
		Username: req.Username,
		Password: req.Password,
		Role:     domain.Role(req.Role),
		BranchID: req.BranchID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, authResponse{User: user})
}
