package interchange

import (
	"net/http"

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
	g.GET("/messages", h.List)
	g.GET("/messages/:id", h.Get)
	g.POST("/messages", h.Record)
	g.POST("/messages/:id/ingest", h.Ingest)
	g.DELETE("/messages/:id", h.Delete)
	g.POST("/messages/purge", h.Purge)
}

func (h *Handler) List(c echo.Context) error {
	params := pagination.FromContext(c)
	messages, total, err := h.service.List(c.Request().Context(), c.QueryParam("status"), params.Limit, params.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(messages, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	m, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}

type recordRequest struct {
	Payload string `json:"payload"`
}

func (h *Handler) Record(c echo.Context) error {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.service.Record(c.Request().Context(), req.Payload)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Ingest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	actor := c.Request().Header.Get("X-Actor")
	if actor == "" {
		actor = "ingest"
	}
	m, err := h.service.Ingest(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Purge(c echo.Context) error {
	deleted, err := h.service.Purge(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}
