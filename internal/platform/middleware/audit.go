package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hemalab/lims/internal/platform/audit"
)

// AccessLog returns Echo middleware that records API access to the audit
// sink. The handler runs first so the response status is captured; recording
// is fire-and-forget and never fails the request.
func AccessLog(logger zerolog.Logger, recorder audit.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			rid, _ := c.Get("request_id").(string)
			actor := req.Header.Get("X-Actor")
			if actor == "" {
				actor = "anonymous"
			}

			entry := audit.Entry{
				ActionType:  methodToAction(req.Method),
				EntityType:  entityFromPath(path),
				Actor:       actor,
				Description: req.Method + " " + path,
				Metadata: map[string]interface{}{
					"request_id": rid,
					"remote_ip":  c.RealIP(),
					"status":     c.Response().Status,
					"timestamp":  time.Now().UTC(),
				},
			}
			if recorder != nil {
				recorder.Record(req.Context(), entry)
			}

			logger.Info().
				Str("type", "access").
				Str("request_id", rid).
				Str("actor", actor).
				Str("action", entry.ActionType).
				Str("entity", entry.EntityType).
				Str("method", req.Method).
				Str("path", path).
				Int("status", c.Response().Status).
				Msg("api_access")

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// entityFromPath picks the first path segment after the API prefix as the
// audited entity type.
func entityFromPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}
