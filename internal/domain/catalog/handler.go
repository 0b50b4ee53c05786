package catalog

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labmaster/labmaster/internal/platform/auth"
	"github.com/labmaster/labmaster/internal/platform/authz"
	"github.com/labmaster/labmaster/internal/platform/db"
	"github.com/labmaster/labmaster/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires catalog endpoints. Reads are open to any
// authenticated user; catalog management is admin only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/test-types", h.ListTestTypes)
	api.GET("/test-types/:id", h.GetTestType)

	manage := api.Group("", auth.RequireRole(authz.RoleAdmin))
	manage.POST("/test-types", h.CreateTestType)
	manage.PUT("/test-types/:id", h.UpdateTestType)
	manage.DELETE("/test-types/:id", h.DeactivateTestType)
}

func (h *Handler) CreateTestType(c echo.Context) error {
	var t TestType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTestType(c.Request().Context(), &t); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTestType(c echo.Context) error {
	ctx := c.Request().Context()
	// Accept either the row id or the business code.
	if id, err := uuid.Parse(c.Param("id")); err == nil {
		t, err := h.svc.GetTestType(ctx, id)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, t)
	}
	t, err := h.svc.GetTestTypeByCode(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTestTypes(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly := c.QueryParam("include_inactive") != "true"
	items, total, err := h.svc.ListTestTypes(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateTestType(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var t TestType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	existing, err := h.svc.GetTestType(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	t.Code = existing.Code
	if t.VersionID == 0 {
		t.VersionID = existing.VersionID
	}
	if err := h.svc.UpdateTestType(c.Request().Context(), &t); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeactivateTestType(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrCodeTaken):
		return echo.NewHTTPError(http.StatusConflict, "test type code already exists")
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "test type not found")
	case errors.Is(err, db.ErrStaleState):
		return echo.NewHTTPError(http.StatusConflict, "test type was modified concurrently")
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
