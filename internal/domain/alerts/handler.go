package alerts

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carewatch/carewatch/internal/platform/auth"
	"github.com/carewatch/carewatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/alerts", auth.RequireRole("admin", "clinician"))
	g.GET("", h.ListAlerts)
	g.GET("/stats", h.GetStats)
	g.GET("/:id", h.GetAlert)
	g.POST("/:id/ack", h.AcknowledgeAlert)
	g.POST("/:id/resolve", h.ResolveAlert)
}

func (h *Handler) ListAlerts(c echo.Context) error {
	p := pagination.FromContext(c)
	f := ListFilter{
		Status:   Status(c.QueryParam("status")),
		Severity: c.QueryParam("severity"),
		Limit:    p.Limit,
		Offset:   p.Offset,
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}

	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if items == nil {
		items = []Alert{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) GetAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	return h.transition(c, h.svc.Acknowledge)
}

func (h *Handler) ResolveAlert(c echo.Context) error {
	return h.transition(c, h.svc.Resolve)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id uuid.UUID, actor string) (*Alert, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if actor == "" {
		actor = "unknown"
	}
	a, err := fn(c.Request().Context(), id, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetStats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
