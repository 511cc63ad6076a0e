package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medirec/medirec/internal/platform/auth"
)

// auditPrefixes are the route groups that read or change patient data.
var auditPrefixes = []string{
	"/api/v1/patients",
	"/api/v1/doctor",
	"/api/v1/admin",
}

// Audit emits one "phi_access" log line for every request under the audited
// route groups, after the handler ran, recording who did what to which
// record and the resulting status.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := c.Request().Context()
			evt := logger.Info()
			if status == http.StatusForbidden || status == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("type", "phi_access").
				Str("request_id", RequestIDFrom(c)).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("action", httpMethodToAction(c.Request().Method)).
				Str("resource", extractResource(path)).
				Str("record_id", c.Param("id")).
				Str("method", c.Request().Method).
				Str("path", path).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	for _, p := range auditPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func httpMethodToAction(method string) string {
	switch method {
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

// extractResource returns the path below the group with ids dropped, e.g.
// /api/v1/doctor/appointments/<id>/cancel -> doctor/appointments/cancel.
func extractResource(path string) string {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	kept := segments[:0]
	for _, s := range segments {
		if s == "" || looksLikeID(s) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return "unknown"
	}
	return strings.Join(kept, "/")
}

func looksLikeID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}
