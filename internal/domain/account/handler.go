package account

import (
	"net/http"

	"github.com/google/uuid"
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
	// Public; listed in auth.publicPaths.
	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/2fa/verify", h.VerifyTwoFactor)

	// Any authenticated account.
	api.GET("/auth/2fa/setup", h.SetupTwoFactor)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.GET("/patients/me", h.GetMyProfile)
	patient.PUT("/patients/me", h.UpdateMyProfile)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/doctor/patients", h.ListPatients)
	doctor.GET("/doctor/patients/:id", h.GetPatient)
}

func (h *Handler) Signup(c echo.Context) error {
	var in SignupInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Signup(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) SetupTwoFactor(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	res, err := h.svc.SetupTwoFactor(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) VerifyTwoFactor(c echo.Context) error {
	var in VerifyInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	msg, err := h.svc.VerifyAndEnableTwoFactor(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": msg})
}

func (h *Handler) GetMyProfile(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfile(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateMyProfile(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var u ProfileUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdateProfile(c.Request().Context(), id, u)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}
