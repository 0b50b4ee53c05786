package lab

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

// RegisterRoutes wires the order, sample, and result endpoints. Role checks
// live in the service; routes only require authentication.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/tests", h.CreateOrder)
	api.GET("/tests", h.ListOrders)
	api.GET("/tests/:id", h.GetOrder)
	api.PATCH("/tests/:id", h.TransitionOrder)
	api.POST("/tests/:id/cancel", h.CancelOrder)
	api.POST("/tests/:id/result", h.AttachResult)
	api.GET("/tests/:id/status-history", h.StatusHistory)

	api.GET("/samples/:id", h.GetSample)
	api.PATCH("/samples/:id", h.TransitionSample)

	api.GET("/results/:id", h.GetResult)
	api.PATCH("/results/:id/verify", h.VerifyResult)
}

func actor(c echo.Context) (authz.Role, uuid.UUID) {
	ctx := c.Request().Context()
	return auth.RoleFromContext(ctx), auth.UserIDFromContext(ctx)
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var in CreateOrderInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, actorID := actor(c)
	detail, err := h.svc.CreateOrder(c.Request().Context(), role, actorID, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, detail)
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, actorID := actor(c)
	detail, err := h.svc.GetOrder(c.Request().Context(), role, actorID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f OrderFilter
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	if raw := c.QueryParam("status"); raw != "" {
		st := OrderState(raw)
		f.Status = &st
	}
	role, actorID := actor(c)
	items, total, err := h.svc.ListOrders(c.Request().Context(), role, actorID, f, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type transitionRequest struct {
	Event  string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) TransitionOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Event == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "event is required")
	}
	role, actorID := actor(c)
	order, err := h.svc.TransitionOrder(c.Request().Context(), role, actorID, id, OrderEvent(req.Event), req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, actorID := actor(c)
	order, err := h.svc.CancelOrder(c.Request().Context(), role, actorID, id, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) AttachResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in AttachResultInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, actorID := actor(c)
	result, err := h.svc.AttachResult(c.Request().Context(), role, actorID, id, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) StatusHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, actorID := actor(c)
	items, err := h.svc.OrderStatusHistory(c.Request().Context(), role, actorID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetSample(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, actorID := actor(c)
	sm, err := h.svc.GetSample(c.Request().Context(), role, actorID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sm)
}

func (h *Handler) TransitionSample(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Event == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "event is required")
	}
	role, actorID := actor(c)
	sm, err := h.svc.TransitionSample(c.Request().Context(), role, actorID, id, CustodyEvent(req.Event), req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sm)
}

func (h *Handler) GetResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, actorID := actor(c)
	result, err := h.svc.GetResult(c.Request().Context(), role, actorID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) VerifyResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, actorID := actor(c)
	result, err := h.svc.VerifyResult(c.Request().Context(), role, actorID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// mapError translates domain rejections into HTTP status classes: guard
// denials 403, lifecycle and concurrency conflicts 409, missing rows 404,
// everything else a validation failure.
func mapError(err error) error {
	switch {
	case errors.Is(err, authz.ErrForbidden), errors.Is(err, authz.ErrNotOwner), errors.Is(err, authz.ErrUnknownRole):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, ErrIllegalTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrCannotCancelProcessedSample):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDualControlRequired):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrStaleState):
		return echo.NewHTTPError(http.StatusConflict, "record was modified concurrently")
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
}
