package scheduling

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
	"github.com/medirec/medirec/pkg/pagination"
)

const defaultCalendarDays = 30

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("/doctor", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/appointments", h.Create)
	doctor.GET("/appointments", h.ListForDoctor)
	doctor.GET("/calendar", h.Calendar)
	doctor.PUT("/appointments/:id/complete", h.Complete)
	doctor.PUT("/appointments/:id/cancel", h.Cancel)

	patient := api.Group("/patients/me", auth.RequireRole(auth.RolePatient))
	patient.GET("/appointments", h.ListForPatient)
}

func (h *Handler) Create(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Create(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForDoctor(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListForPatient(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// Calendar accepts from and to as RFC 3339 timestamps or YYYY-MM-DD dates.
// Without from it starts at the beginning of the current UTC day; without
// to it covers 30 days.
func (h *Handler) Calendar(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}

	now := h.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if v := c.QueryParam("from"); v != "" {
		if from, err = parseInstant(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
	}
	to := from.AddDate(0, 0, defaultCalendarDays)
	if v := c.QueryParam("to"); v != "" {
		if to, err = parseInstant(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
	}

	items, err := h.svc.Calendar(c.Request().Context(), id, from, to)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func parseInstant(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := db.ParseDate(v)
	if err != nil {
		return time.Time{}, err
	}
	return d.Time, nil
}

func (h *Handler) Complete(c echo.Context) error {
	return h.transition(c, h.svc.Complete)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, doctor auth.Identity, id uuid.UUID) (*Appointment, error)) error {
	doctor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	apptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := fn(c.Request().Context(), doctor, apptID)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}
