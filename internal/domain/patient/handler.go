package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinic/internal/platform/auth"
	"github.com/ehr/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	g.POST("", h.CreatePatient)
	g.GET("", h.SearchPatients)
	g.GET("/:id", h.GetPatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req QuickCreate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	p, err := h.svc.QuickCreate(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

// GetPatient accepts either the UUID or the PAT- code.
func (h *Handler) GetPatient(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("id")
	if id, err := uuid.Parse(key); err == nil {
		p, err := h.svc.GetPatient(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}
	p, err := h.svc.GetPatientByCode(ctx, key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPatients(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}
