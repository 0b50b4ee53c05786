package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labmaster/labmaster/internal/platform/auth"
	"github.com/labmaster/labmaster/internal/platform/authz"
	"github.com/labmaster/labmaster/internal/platform/db"
	"github.com/labmaster/labmaster/pkg/pagination"
)

type Handler struct {
	svc      *Service
	jwtCfg   auth.Config
	tokenTTL time.Duration
}

func NewHandler(svc *Service, jwtCfg auth.Config, tokenTTL time.Duration) *Handler {
	return &Handler{svc: svc, jwtCfg: jwtCfg, tokenTTL: tokenTTL}
}

// RegisterRoutes wires the three route groups: public auth endpoints,
// authenticated self-service endpoints, and admin user management. The api
// group carries patient record endpoints.
func (h *Handler) RegisterRoutes(public, users, admin, api *echo.Group) {
	public.POST("/register", h.Register)
	public.POST("/jwt/login", h.Login)

	users.GET("/me", h.Me)
	users.PATCH("/me", h.UpdateMe)

	admin.GET("/users", h.ListUsers)
	admin.PATCH("/users/:id/role", h.ChangeRole)
	admin.PATCH("/users/:id/active", h.SetActive)

	patientWrite := api.Group("", auth.RequireRole(authz.RoleReceptionist))
	patientWrite.POST("/patients", h.CreatePatient)
	patientWrite.PATCH("/patients/:id", h.UpdatePatient)

	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
}

// -- Auth --

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Register(c.Request().Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email" form:"username"`
	Password string `json:"password" form:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login accepts JSON {email, password} or an OAuth2 password form
// (username/password) and returns a bearer token.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}
	token, err := auth.IssueToken(h.jwtCfg, u.ID, u.Role, h.tokenTTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token issuance failed")
	}
	return c.JSON(http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer"})
}

// -- Self-service --

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.GetUser(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type updateMeRequest struct {
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
}

func (h *Handler) UpdateMe(c echo.Context) error {
	var req updateMeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	u, err := h.svc.UpdateProfile(ctx, auth.UserIDFromContext(ctx), req.FullName, req.Password)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// -- Admin --

func (h *Handler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListUsers(ctx, auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) ChangeRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req changeRoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	u, err := h.svc.ChangeRole(ctx, auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx), id, req.Role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type setActiveRequest struct {
	IsActive bool `json:"is_active"`
}

func (h *Handler) SetActive(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setActiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	u, err := h.svc.SetActive(ctx, auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx), id, req.IsActive)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.CreatePatient(ctx, auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx), &p); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPatient(ctx, auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(ctx, auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	ctx := c.Request().Context()
	if err := h.svc.UpdatePatient(ctx, auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx), &p); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrAccountDisabled):
		return echo.NewHTTPError(http.StatusForbidden, "account disabled")
	case errors.Is(err, ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, "email already registered")
	case errors.Is(err, authz.ErrForbidden), errors.Is(err, authz.ErrNotOwner), errors.Is(err, authz.ErrUnknownRole):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, db.ErrStaleState):
		return echo.NewHTTPError(http.StatusConflict, "record was modified concurrently")
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
