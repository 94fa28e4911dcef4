package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	read := api.Group("/bills", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist, auth.RoleAccountant))
	read.GET("", h.ListBills)
	read.GET("/:id", h.GetBill)
	read.GET("/:id/commission", h.GetCommission)

	desk := api.Group("/bills", auth.RequireRole(auth.RoleReceptionist, auth.RoleAccountant))
	desk.POST("/:id/discount", h.ApplyDiscount)
	desk.POST("/:id/generate", h.Generate)
	desk.POST("/:id/payments", h.RecordPayment)

	accounts := api.Group("/bills", auth.RequireRole(auth.RoleAccountant))
	accounts.POST("/:id/refunds", h.Refund)
	accounts.POST("/:id/cancel", h.Cancel)

	clinical := api.Group("/bills", auth.RequireRole(auth.RoleDoctor, auth.RolePharmacist))
	clinical.POST("/:id/items/:line_id/administer", h.MarkAdministered)
}

func billID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	l, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

// ListBills requires ?patient_id=, or ?bill_number= for a single lookup.
func (h *Handler) ListBills(c echo.Context) error {
	ctx := c.Request().Context()
	if number := c.QueryParam("bill_number"); number != "" {
		l, err := h.svc.GetBillByNumber(ctx, number)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, l)
	}
	pid, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBillsByPatient(ctx, pid, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg).WithLinks(c.Request().URL))
}

type discountRequest struct {
	Percentage decimal.Decimal `json:"discount_percentage"`
}

func (h *Handler) ApplyDiscount(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	var req discountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	l, err := h.svc.ApplyDiscount(ctx, id, req.Percentage, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) Generate(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	l, err := h.svc.Generate(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	l, err := h.svc.RecordPayment(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	l, err := h.svc.Refund(ctx, id, req.Amount, req.Reason, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	l, err := h.svc.Cancel(ctx, id, req.Reason, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

type administerRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) MarkAdministered(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	lineID, err := uuid.Parse(c.Param("line_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid line_id")
	}
	var req administerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	l, err := h.svc.MarkLineAdministered(ctx, id, lineID, req.Notes, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) GetCommission(c echo.Context) error {
	id, err := billID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.DoctorCommission(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
