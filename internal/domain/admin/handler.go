package admin

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medirec/medirec/internal/domain/account"
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
	g := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	g.GET("/users", h.ListUsers)
	g.POST("/users", h.CreateUser)
	g.GET("/users/:id", h.GetUser)
	g.PUT("/users/:id", h.UpdateUser)
	g.DELETE("/users/:id", h.DeleteUser)

	g.GET("/pending-requests", h.ListPendingRequests)
	g.PUT("/pending-requests/:id/approve", h.ApproveRequest)
	g.PUT("/pending-requests/:id/reject", h.RejectRequest)

	g.GET("/dashboard", h.Dashboard)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListUsers(c.Request().Context(), c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in account.NewAccount
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.CreateUser(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var u UserUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.UpdateUser(c.Request().Context(), id, u)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUser(c.Request().Context(), actor, id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPendingRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPendingRequests(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ApproveRequest(c echo.Context) error {
	return h.decide(c, h.svc.ApproveRequest)
}

func (h *Handler) RejectRequest(c echo.Context) error {
	return h.decide(c, h.svc.RejectRequest)
}

func (h *Handler) decide(c echo.Context, fn func(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Decision, error)) error {
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := fn(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}
