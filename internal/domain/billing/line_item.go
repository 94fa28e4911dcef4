package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
)

// LineTaxRate is applied to the discounted amount of every taxable line.
var LineTaxRate = decimal.RequireFromString("0.05")

var hundred = decimal.NewFromInt(100)

func money(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// LineItem is one charge on a bill. Name, type, price and taxability are
// snapshots taken when the line is created.
type LineItem struct {
	id             uuid.UUID
	billID         uuid.UUID
	catalogEntryID *uuid.UUID
	itemName       string
	itemType       catalog.Type
	unitPrice      decimal.Decimal
	quantity       int
	taxable        bool

	totalPrice         decimal.Decimal
	discountPercentage decimal.Decimal
	discountAmount     decimal.Decimal
	fixedDiscount      bool
	taxAmount          decimal.Decimal
	totalWithTax       decimal.Decimal
	commissionAmount   decimal.Decimal
	stockConsumed      bool

	administered        bool
	administeredBy      string
	administeredAt      *time.Time
	administrationNotes string

	audit shared.Audit
}

// NewLineItem validates and prices a line.
func NewLineItem(billID uuid.UUID, catalogEntryID *uuid.UUID, name string, itemType catalog.Type, unitPrice decimal.Decimal, quantity int, taxable bool) (*LineItem, error) {
	switch {
	case strings.TrimSpace(name) == "":
		return nil, apperr.Validation("item_name", "is required")
	case unitPrice.IsNegative():
		return nil, apperr.Validation("unit_price", "must not be negative")
	case quantity <= 0:
		return nil, apperr.Validation("quantity", "must be greater than zero")
	}
	if !itemType.Valid() {
		itemType = catalog.TypeOther
	}
	li := &LineItem{
		id:             uuid.New(),
		billID:         billID,
		catalogEntryID: catalogEntryID,
		itemName:       strings.TrimSpace(name),
		itemType:       itemType,
		unitPrice:      money(unitPrice),
		quantity:       quantity,
		taxable:        taxable,
	}
	li.recalculate()
	return li, nil
}

func (li *LineItem) ID() uuid.UUID                       { return li.id }
func (li *LineItem) BillID() uuid.UUID                   { return li.billID }
func (li *LineItem) CatalogEntryID() *uuid.UUID          { return li.catalogEntryID }
func (li *LineItem) ItemName() string                    { return li.itemName }
func (li *LineItem) ItemType() catalog.Type              { return li.itemType }
func (li *LineItem) UnitPrice() decimal.Decimal          { return li.unitPrice }
func (li *LineItem) Quantity() int                       { return li.quantity }
func (li *LineItem) Taxable() bool                       { return li.taxable }
func (li *LineItem) TotalPrice() decimal.Decimal         { return li.totalPrice }
func (li *LineItem) DiscountPercentage() decimal.Decimal { return li.discountPercentage }
func (li *LineItem) DiscountAmount() decimal.Decimal     { return li.discountAmount }
func (li *LineItem) TaxAmount() decimal.Decimal          { return li.taxAmount }
func (li *LineItem) TotalWithTax() decimal.Decimal       { return li.totalWithTax }
func (li *LineItem) CommissionAmount() decimal.Decimal   { return li.commissionAmount }
func (li *LineItem) StockConsumed() bool                 { return li.stockConsumed }
func (li *LineItem) Administered() bool                  { return li.administered }
func (li *LineItem) AdministeredBy() string              { return li.administeredBy }
func (li *LineItem) AdministeredAt() *time.Time          { return li.administeredAt }
func (li *LineItem) Audit() shared.Audit                 { return li.audit }

// NetAmount is the line total after its own discount, before tax.
func (li *LineItem) NetAmount() decimal.Decimal {
	return li.totalPrice.Sub(li.discountAmount)
}

// CalculateTotalUnits reads the line quantity as units per dose and returns
// the units the given regimen consumes.
func (li *LineItem) CalculateTotalUnits(doseCode string, durationDays int) int {
	return catalog.TotalUnits(doseCode, durationDays, li.quantity)
}

// recalculate derives every amount from price, quantity and discount.
// totalWithTax = (unitPrice*quantity - discountAmount) + taxAmount.
func (li *LineItem) recalculate() {
	li.totalPrice = money(li.unitPrice.Mul(decimal.NewFromInt(int64(li.quantity))))
	if li.fixedDiscount {
		if li.totalPrice.IsPositive() {
			li.discountPercentage = money(li.discountAmount.Mul(hundred).Div(li.totalPrice))
		} else {
			li.discountPercentage = decimal.Zero
		}
	} else {
		li.discountAmount = money(li.totalPrice.Mul(li.discountPercentage).Div(hundred))
	}
	net := li.NetAmount()
	if li.taxable {
		li.taxAmount = money(net.Mul(LineTaxRate))
	} else {
		li.taxAmount = decimal.Zero
	}
	li.totalWithTax = net.Add(li.taxAmount)
}

func (li *LineItem) applyDiscount(percentage decimal.Decimal) error {
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return apperr.Validation("discount_percentage", "must be within 0-100")
	}
	li.fixedDiscount = false
	li.discountPercentage = percentage
	li.recalculate()
	return nil
}

func (li *LineItem) applyFixedDiscount(amount decimal.Decimal) error {
	amount = money(amount)
	if amount.IsNegative() {
		return apperr.Validation("discount_amount", "must not be negative")
	}
	if amount.GreaterThan(li.totalPrice) {
		return apperr.Validation("discount_amount", "must not exceed the line total")
	}
	li.fixedDiscount = true
	li.discountAmount = amount
	li.recalculate()
	return nil
}

func (li *LineItem) updateQuantity(quantity int) error {
	if quantity <= 0 {
		return apperr.Validation("quantity", "must be greater than zero")
	}
	if li.stockConsumed {
		return apperr.InvalidState("line item "+li.itemName, "stock consumed", "change quantity")
	}
	return li.reprice(li.unitPrice, quantity)
}

func (li *LineItem) updateUnitPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return apperr.Validation("unit_price", "must not be negative")
	}
	return li.reprice(money(price), li.quantity)
}

// reprice checks that a fixed discount still fits before committing the
// new price and quantity.
func (li *LineItem) reprice(price decimal.Decimal, quantity int) error {
	total := money(price.Mul(decimal.NewFromInt(int64(quantity))))
	if li.fixedDiscount && li.discountAmount.GreaterThan(total) {
		return apperr.Validation("discount_amount", "would exceed the new line total")
	}
	li.unitPrice = price
	li.quantity = quantity
	li.recalculate()
	return nil
}

func (li *LineItem) markAdministered(by, notes string) error {
	if li.administered {
		return apperr.InvalidState("line item "+li.itemName, "administered", "administer again")
	}
	if strings.TrimSpace(by) == "" {
		return apperr.Validation("administered_by", "is required")
	}
	now := shared.Now()
	li.administered = true
	li.administeredBy = by
	li.administeredAt = &now
	li.administrationNotes = notes
	return nil
}

func (li *LineItem) clone() *LineItem {
	cp := *li
	if li.catalogEntryID != nil {
		id := *li.catalogEntryID
		cp.catalogEntryID = &id
	}
	if li.administeredAt != nil {
		at := *li.administeredAt
		cp.administeredAt = &at
	}
	return &cp
}

// LineItemView is the JSON shape of a line.
type LineItemView struct {
	ID                  uuid.UUID       `json:"id"`
	CatalogEntryID      *uuid.UUID      `json:"catalog_entry_id,omitempty"`
	ItemName            string          `json:"item_name"`
	ItemType            catalog.Type    `json:"item_type"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Quantity            int             `json:"quantity"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	DiscountPercentage  decimal.Decimal `json:"discount_percentage"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	Taxable             bool            `json:"taxable"`
	TaxAmount           decimal.Decimal `json:"tax_amount"`
	TotalWithTax        decimal.Decimal `json:"total_with_tax"`
	CommissionAmount    decimal.Decimal `json:"commission_amount"`
	Administered        bool            `json:"administered"`
	AdministeredBy      string          `json:"administered_by,omitempty"`
	AdministeredAt      *time.Time      `json:"administered_at,omitempty"`
	AdministrationNotes string          `json:"administration_notes,omitempty"`
}

func (li *LineItem) View() LineItemView {
	return LineItemView{
		ID:                  li.id,
		CatalogEntryID:      li.catalogEntryID,
		ItemName:            li.itemName,
		ItemType:            li.itemType,
		UnitPrice:           li.unitPrice,
		Quantity:            li.quantity,
		TotalPrice:          li.totalPrice,
		DiscountPercentage:  li.discountPercentage,
		DiscountAmount:      li.discountAmount,
		Taxable:             li.taxable,
		TaxAmount:           li.taxAmount,
		TotalWithTax:        li.totalWithTax,
		CommissionAmount:    li.commissionAmount,
		Administered:        li.administered,
		AdministeredBy:      li.administeredBy,
		AdministeredAt:      li.administeredAt,
		AdministrationNotes: li.administrationNotes,
	}
}

func (li *LineItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(li.View())
}
