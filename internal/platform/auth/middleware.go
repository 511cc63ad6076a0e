package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medirec/medirec/internal/platform/apperr"
)

// TokenValidator returns the subject of a valid session token.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// IdentityResolver loads the caller behind a token subject. It returns an
// error wrapping apperr.ErrUnauthorized when the account is missing or not
// approved.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, email string) (Identity, error)
}

// Authenticate validates the bearer token, resolves it to a stored account
// and puts the resulting Identity on the request context. Requests for which
// skipper returns true pass through untouched.
func Authenticate(tokens TokenValidator, resolver IdentityResolver, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			subject, err := tokens.Validate(strings.TrimSpace(token))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			id, err := resolver.ResolveIdentity(ctx, subject)
			if err != nil {
				if errors.Is(err, apperr.ErrUnauthorized) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				return apperr.HTTP(err)
			}

			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			return next(c)
		}
	}
}

// CurrentIdentity returns the caller set by Authenticate, or a 401 error when
// the route was reached without one.
func CurrentIdentity(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}
