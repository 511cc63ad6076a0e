package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths reachable without a session token.
var publicPaths = map[string]bool{
	"/health":                 true,
	"/health/db":              true,
	"/metrics":                true,
	"/api/v1/auth/signup":     true,
	"/api/v1/auth/login":      true,
	"/api/v1/auth/2fa/verify": true,
}

// AuthSkipper returns true for requests whose matched route is public.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given route path is public.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
