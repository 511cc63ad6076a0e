package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192

var (
	// Logged, not blocked: queries are parameterised.
	sqlPatterns = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1)`)

	scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize rejects requests carrying path traversal, null bytes, header
// injection, oversized headers or script payloads in the query string with
// 400.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return badRequest("path traversal detected")
			}
			if containsNullByte(path) || containsNullByte(rawPath) {
				return badRequest("null byte in path")
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return badRequest("header value too large: " + name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return badRequest("header injection detected: " + name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					if containsNullByte(v) || containsNullByte(key) {
						return badRequest("null byte in query parameter")
					}
					if sqlPatterns.MatchString(v) {
						logger.Warn().
							Str("request_id", RequestIDFrom(c)).
							Str("param", key).
							Str("path", path).
							Str("remote_ip", c.RealIP()).
							Msg("suspicious query parameter")
					}
					if scriptPatterns.MatchString(v) || scriptPatterns.MatchString(key) {
						return badRequest("script injection detected in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

func containsPathTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
