package order

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hemalab/lims/internal/platform/apperr"
	"github.com/hemalab/lims/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/orders/intake", h.Intake)
	g.GET("/orders", h.List)
	g.GET("/orders/:id", h.Get)
	g.POST("/orders/:id/results", h.Sync)
	g.GET("/orders/:id/results", h.Results)
	g.POST("/orders/:id/cancel", h.Cancel)
	g.POST("/orders/:id/fail", h.Fail)
	g.POST("/orders/:id/comments", h.AddComment)
	g.GET("/orders/:id/comments", h.Comments)
	g.GET("/orders/:id/comments/:index", h.Comment)
	g.PUT("/orders/:id/comments/:index", h.UpdateComment)
	g.DELETE("/orders/:id/comments/:index", h.DeleteComment)
}

func (h *Handler) Intake(c echo.Context) error {
	var req IntakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Actor = actor(c)

	o, err := h.service.Intake(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) List(c echo.Context) error {
	params := pagination.FromContext(c)

	var subjectID *uuid.UUID
	if raw := c.QueryParam("subject_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid subject_id")
		}
		subjectID = &id
	}

	orders, total, err := h.service.List(c.Request().Context(), c.QueryParam("status"), subjectID, params.Limit, params.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(orders, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	o, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}

type syncRequest struct {
	Values []MeasuredValue `json:"values"`
}

func (h *Handler) Sync(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	o, err := h.service.Sync(c.Request().Context(), id, req.Values, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Results(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	entries, err := h.service.Results(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entries)
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.abort(c, h.service.Cancel)
}

func (h *Handler) Fail(c echo.Context) error {
	return h.abort(c, h.service.Fail)
}

func (h *Handler) abort(c echo.Context, fn func(context.Context, uuid.UUID, string, string) (*Order, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	var req abortRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	o, err := fn(c.Request().Context(), id, actor(c), req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}

type commentRequest struct {
	Body string `json:"body"`
}

func (h *Handler) AddComment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	comment, err := h.service.AddComment(c.Request().Context(), id, req.Body, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *Handler) Comments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	comments, err := h.service.Comments(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, comments)
}

func (h *Handler) Comment(c echo.Context) error {
	id, index, err := commentTarget(c)
	if err != nil {
		return err
	}
	comment, err := h.service.Comment(c.Request().Context(), id, index)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, comment)
}

func (h *Handler) UpdateComment(c echo.Context) error {
	id, index, err := commentTarget(c)
	if err != nil {
		return err
	}
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.service.UpdateComment(c.Request().Context(), id, index, req.Body); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteComment(c echo.Context) error {
	id, index, err := commentTarget(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteComment(c.Request().Context(), id, index); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func commentTarget(c echo.Context) (uuid.UUID, int, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return uuid.Nil, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid comment index")
	}
	return id, index, nil
}

func actor(c echo.Context) string {
	if a := c.Request().Header.Get("X-Actor"); a != "" {
		return a
	}
	return "anonymous"
}
