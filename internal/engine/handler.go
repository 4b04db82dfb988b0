package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carewatch/carewatch/internal/domain/features"
	"github.com/carewatch/carewatch/internal/platform/auth"
	"github.com/carewatch/carewatch/pkg/pagination"
)

// SnapshotSink accepts fresh observations from the ingestion endpoint.
type SnapshotSink interface {
	Put(snap features.PatientSnapshot)
}

type Handler struct {
	engine *Engine
	sink   SnapshotSink
	log    zerolog.Logger
}

func NewHandler(engine *Engine, sink SnapshotSink, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, sink: sink, log: log.With().Str("component", "engine").Logger()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients/:id", auth.RequireRole("admin", "clinician"))
	g.POST("/evaluate", h.Evaluate)
	g.GET("/scores", h.ScoreHistory)
	g.GET("/scores/latest", h.LatestScores)
	g.PUT("/snapshot", h.PutSnapshot)
}

// Evaluate runs the scoring pipeline synchronously and returns the profile.
func (h *Handler) Evaluate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	profile, err := h.engine.GeneratePredictions(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return echo.NewHTTPError(http.StatusNotFound, "no observations for patient")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) LatestScores(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	scores, err := h.engine.LatestScores(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, scores)
}

func (h *Handler) ScoreHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p := pagination.FromContext(c)
	items, total, err := h.engine.ScoreHistory(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

// PutSnapshot ingests fresh observations and kicks off an asynchronous
// evaluation run. The write is acknowledged immediately; scoring happens in
// the background.
func (h *Handler) PutSnapshot(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	var snap features.PatientSnapshot
	if err := c.Bind(&snap); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap.PatientID = id
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	h.sink.Put(snap)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := h.engine.GeneratePredictions(ctx, id); err != nil {
			h.log.Error().Err(err).Stringer("patient_id", id).Msg("background evaluation failed")
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
