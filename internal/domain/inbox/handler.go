package inbox

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

// RegisterRoutes mounts the same mailbox for doctors and for patients.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	h.mount(api.Group("/doctor/messages", auth.RequireRole(auth.RoleDoctor)))
	h.mount(api.Group("/patients/me/messages", auth.RequireRole(auth.RolePatient)))
}

func (h *Handler) mount(g *echo.Group) {
	g.GET("/contacts", h.Contacts)
	g.GET("/contact/:id", h.Conversation)
	g.POST("/contact/:id", h.Send)
}

func (h *Handler) Contacts(c echo.Context) error {
	me, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Contacts(c.Request().Context(), me)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Conversation(c echo.Context) error {
	me, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	contact, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Conversation(c.Request().Context(), me, contact, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Send(c echo.Context) error {
	me, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	recipient, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in SendInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.Send(c.Request().Context(), me, recipient, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}
