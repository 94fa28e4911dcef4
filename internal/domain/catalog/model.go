package catalog

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
)

// Type tags a priceable item.
type Type string

const (
	TypeConsultation Type = "consultation"
	TypeProcedure    Type = "procedure"
	TypeInjection    Type = "injection"
	TypeLabTest      Type = "labtest"
	TypeMedicine     Type = "medicine"
	TypeOther        Type = "other"
)

var validTypes = map[Type]bool{
	TypeConsultation: true,
	TypeProcedure:    true,
	TypeInjection:    true,
	TypeLabTest:      true,
	TypeMedicine:     true,
	TypeOther:        true,
}

// Valid reports whether t is a known tag.
func (t Type) Valid() bool { return validTypes[t] }

// CommissionMode selects how CommissionValue is applied to a billed amount.
type CommissionMode string

const (
	CommissionNone       CommissionMode = "none"
	CommissionPercentage CommissionMode = "percentage"
	CommissionFixed      CommissionMode = "fixed"
)

var hundred = decimal.NewFromInt(100)

// CatalogEntry maps to the catalog_entries table. Stock is only changed
// through ConsumeStock and AddStock.
type CatalogEntry struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Code            string          `db:"code" json:"code"`
	Name            string          `db:"name" json:"name"`
	Type            Type            `db:"type" json:"type"`
	StandardPrice   decimal.Decimal `db:"standard_price" json:"standard_price"`
	CommissionMode  CommissionMode  `db:"commission_mode" json:"commission_mode"`
	CommissionValue decimal.Decimal `db:"commission_value" json:"commission_value"`
	Taxable         bool            `db:"taxable" json:"taxable"`
	Consumable      bool            `db:"consumable" json:"consumable"`
	ReorderLevel    int             `db:"reorder_level" json:"reorder_level"`
	Active          bool            `db:"active" json:"active"`
	shared.Audit

	currentStock int
}

// CurrentStock is the quantity on hand. Always 0 for untracked entries.
func (e *CatalogEntry) CurrentStock() int { return e.currentStock }

// IsStockTracked reports whether billing this entry consumes stock.
func (e *CatalogEntry) IsStockTracked() bool { return e.Consumable }

// Validate checks master data before it is stored.
func (e *CatalogEntry) Validate() error {
	switch {
	case e.Code == "":
		return apperr.Validation("code", "is required")
	case e.Name == "":
		return apperr.Validation("name", "is required")
	case !e.Type.Valid():
		return apperr.Validation("type", "must be one of consultation, procedure, injection, labtest, medicine, other")
	case e.StandardPrice.IsNegative():
		return apperr.Validation("standard_price", "must not be negative")
	case e.ReorderLevel < 0:
		return apperr.Validation("reorder_level", "must not be negative")
	}
	switch e.CommissionMode {
	case "", CommissionNone:
	case CommissionPercentage:
		if e.CommissionValue.IsNegative() || e.CommissionValue.GreaterThan(hundred) {
			return apperr.Validation("commission_value", "must be within 0-100 for percentage commission")
		}
	case CommissionFixed:
		if e.CommissionValue.IsNegative() {
			return apperr.Validation("commission_value", "must not be negative")
		}
	default:
		return apperr.Validation("commission_mode", "must be none, percentage or fixed")
	}
	return nil
}

// ConsumeStock takes quantity units off the shelf. Either the whole quantity
// is consumed or nothing is.
func (e *CatalogEntry) ConsumeStock(quantity int) error {
	if quantity <= 0 {
		return apperr.Validation("quantity", "must be greater than zero")
	}
	if !e.Consumable {
		return apperr.InvalidState("catalog entry "+e.Code, "untracked", "consume stock")
	}
	if quantity > e.currentStock {
		return &apperr.InsufficientStockError{Code: e.Code, Requested: quantity, Available: e.currentStock}
	}
	e.currentStock -= quantity
	return nil
}

// AddStock returns or receives units.
func (e *CatalogEntry) AddStock(quantity int) error {
	if quantity <= 0 {
		return apperr.Validation("quantity", "must be greater than zero")
	}
	if !e.Consumable {
		return apperr.InvalidState("catalog entry "+e.Code, "untracked", "add stock")
	}
	e.currentStock += quantity
	return nil
}

// CalculateCommission applies the commission rule to a billed amount.
func (e *CatalogEntry) CalculateCommission(amount decimal.Decimal) decimal.Decimal {
	switch e.CommissionMode {
	case CommissionPercentage:
		return amount.Mul(e.CommissionValue).Div(hundred).Round(2)
	case CommissionFixed:
		return e.CommissionValue.Round(2)
	default:
		return decimal.Zero
	}
}

// IsStockLow is true for tracked entries at or below their reorder level.
func (e *CatalogEntry) IsStockLow() bool {
	return e.Consumable && e.currentStock <= e.ReorderLevel
}

type entryJSON CatalogEntry

func (e CatalogEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		entryJSON
		CurrentStock int  `json:"current_stock"`
		StockLow     bool `json:"stock_low"`
	}{entryJSON(e), e.currentStock, e.IsStockLow()})
}

var doseCodePattern = regexp.MustCompile(`^\d+(-\d+)+$`)

// DosesPerDay reads a dose code such as "1-0-1" as the number of doses in a
// day. Unparsable codes count as one dose a day.
func DosesPerDay(doseCode string) int {
	code := strings.TrimSpace(doseCode)
	if !doseCodePattern.MatchString(code) {
		return 1
	}
	n := 0
	for _, part := range strings.Split(code, "-") {
		v, _ := strconv.Atoi(part)
		n += v
	}
	if n == 0 {
		return 1
	}
	return n
}

// TotalUnits is the number of units a regimen consumes: doses per day times
// duration times units per dose. "SOS" (as needed) takes quantity as the
// literal total.
func TotalUnits(doseCode string, durationDays, quantity int) int {
	if strings.EqualFold(strings.TrimSpace(doseCode), "SOS") {
		return quantity
	}
	if durationDays < 1 {
		durationDays = 1
	}
	return DosesPerDay(doseCode) * durationDays * quantity
}
