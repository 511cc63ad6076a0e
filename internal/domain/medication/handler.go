package medication

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("/doctor", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/prescriptions", h.Prescribe)
	doctor.GET("/prescriptions", h.ListForDoctor)

	patient := api.Group("/patients/me", auth.RequireRole(auth.RolePatient))
	patient.GET("/prescriptions", h.ListForPatient)
}

func (h *Handler) Prescribe(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Prescribe(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
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
