// Package apperr defines the error kinds services return and their mapping
// to HTTP responses.
package apperr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrDuplicateEmail     = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPendingApproval    = errors.New("account is pending admin approval")
	ErrRejected           = errors.New("registration request has been rejected")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrInvalidState       = errors.New("invalid state transition")
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{ErrDuplicateEmail, http.StatusConflict},
	{ErrInvalidCredentials, http.StatusUnauthorized},
	{ErrPendingApproval, http.StatusForbidden},
	{ErrRejected, http.StatusForbidden},
	{ErrInvalidCode, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrNotFound, http.StatusNotFound},
	{ErrValidation, http.StatusBadRequest},
	{ErrInvalidState, http.StatusConflict},
}

// Status returns the HTTP status for err, or 500 when err is not one of the
// kinds above.
func Status(err error) int {
	for _, k := range statusByKind {
		if errors.Is(err, k.kind) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// HTTP converts a service error into an *echo.HTTPError. Known kinds keep
// their message; anything else becomes a generic 500 with err attached as
// the internal cause so the request logger records it.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	status := Status(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, message(err))
}

// message drops the "validation error: " style prefix added when a kind is
// wrapped with detail, so clients see only the detail.
func message(err error) string {
	msg := err.Error()
	for _, k := range statusByKind {
		prefix := k.kind.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
