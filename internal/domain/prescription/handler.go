package prescription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	rx := api.Group("/prescriptions", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist))
	rx.GET("", h.GetByVisit)
	rx.GET("/:id", h.GetPrescription)

	doc := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doc.GET("/templates/:id/expand", h.ExpandTemplate)
	doc.GET("/doses", h.ListDoses)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetByVisit(c echo.Context) error {
	vid, err := uuid.Parse(c.QueryParam("visit_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "visit_id is required")
	}
	p, err := h.svc.GetPrescriptionByVisit(c.Request().Context(), vid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ExpandTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	x, err := h.svc.ExpandTemplate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, x)
}

func (h *Handler) ListDoses(c echo.Context) error {
	doses, err := h.svc.ListDoses(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": doses, "total": len(doses)})
}
