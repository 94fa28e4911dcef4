package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/idgen"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusGenerated     Status = "generated"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
)

// ConsultationLineName is the label of the line every ledger opens with.
const ConsultationLineName = "Consultation Fee"

type PaymentKind string

const (
	PaymentKindPayment PaymentKind = "payment"
	PaymentKindRefund  PaymentKind = "refund"
)

// Payment is one entry of a bill's payment history. Payments are recorded
// attestations; no money moves through this service.
type Payment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Kind          PaymentKind     `db:"kind" json:"kind"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Mode          string          `db:"mode" json:"mode,omitempty"`
	TransactionID string          `db:"transaction_id" json:"transaction_id,omitempty"`
	Reason        string          `db:"reason" json:"reason,omitempty"`
	RecordedAt    time.Time       `db:"recorded_at" json:"recorded_at"`
	RecordedBy    string          `db:"recorded_by" json:"recorded_by,omitempty"`
}

// Ledger is the bill of one visit. Totals are never set directly; every
// mutating method ends by recomputing them from the lines, the bill
// discount and the payments. A failed call leaves the ledger untouched.
//
// Ledger holds no lock. Callers serialize access to one instance; across
// processes the repository row lock and version column do.
type Ledger struct {
	id         uuid.UUID
	billNumber string
	visitID    uuid.UUID
	patientID  uuid.UUID
	doctorID   uuid.UUID
	status     Status
	items      []*LineItem

	consultationFee decimal.Decimal
	procedureFee    decimal.Decimal
	medicineFee     decimal.Decimal
	labTestFee      decimal.Decimal
	otherFee        decimal.Decimal

	subTotal           decimal.Decimal
	discountPercentage decimal.Decimal
	discountAmount     decimal.Decimal
	// taxPercentage is stored with the bill but line tax always uses
	// LineTaxRate.
	taxPercentage decimal.Decimal
	totalAmount   decimal.Decimal
	paidAmount    decimal.Decimal
	dueAmount     decimal.Decimal

	paymentMode   string
	transactionID string
	notes         string
	generatedAt   *time.Time
	payments      []Payment

	version int
	audit   shared.Audit
}

// NewLedger opens a Draft bill for a visit with the consultation fee as its
// first, taxable line.
func NewLedger(gen idgen.Generator, visitID, patientID, doctorID uuid.UUID, consultationFee decimal.Decimal, actor string) (*Ledger, error) {
	switch {
	case visitID == uuid.Nil:
		return nil, apperr.Validation("visit_id", "is required")
	case patientID == uuid.Nil:
		return nil, apperr.Validation("patient_id", "is required")
	case doctorID == uuid.Nil:
		return nil, apperr.Validation("doctor_id", "is required")
	case consultationFee.IsNegative():
		return nil, apperr.Validation("consultation_fee", "must not be negative")
	}

	l := &Ledger{
		id:                 uuid.New(),
		billNumber:         gen.Next(idgen.Bill),
		visitID:            visitID,
		patientID:          patientID,
		doctorID:           doctorID,
		status:             StatusDraft,
		discountPercentage: decimal.Zero,
		version:            1,
		audit:              shared.NewAudit(actor),
	}
	li, err := NewLineItem(l.id, nil, ConsultationLineName, catalog.TypeConsultation, consultationFee, 1, true)
	if err != nil {
		return nil, err
	}
	li.audit = l.audit
	l.items = append(l.items, li)
	l.recalculate()
	return l, nil
}

func (l *Ledger) ID() uuid.UUID                       { return l.id }
func (l *Ledger) BillNumber() string                  { return l.billNumber }
func (l *Ledger) VisitID() uuid.UUID                  { return l.visitID }
func (l *Ledger) PatientID() uuid.UUID                { return l.patientID }
func (l *Ledger) DoctorID() uuid.UUID                 { return l.doctorID }
func (l *Ledger) Status() Status                      { return l.status }
func (l *Ledger) ConsultationFee() decimal.Decimal    { return l.consultationFee }
func (l *Ledger) ProcedureFee() decimal.Decimal       { return l.procedureFee }
func (l *Ledger) MedicineFee() decimal.Decimal        { return l.medicineFee }
func (l *Ledger) LabTestFee() decimal.Decimal         { return l.labTestFee }
func (l *Ledger) OtherFee() decimal.Decimal           { return l.otherFee }
func (l *Ledger) SubTotal() decimal.Decimal           { return l.subTotal }
func (l *Ledger) DiscountPercentage() decimal.Decimal { return l.discountPercentage }
func (l *Ledger) DiscountAmount() decimal.Decimal     { return l.discountAmount }
func (l *Ledger) TaxPercentage() decimal.Decimal      { return l.taxPercentage }
func (l *Ledger) TotalAmount() decimal.Decimal        { return l.totalAmount }
func (l *Ledger) PaidAmount() decimal.Decimal         { return l.paidAmount }
func (l *Ledger) DueAmount() decimal.Decimal          { return l.dueAmount }
func (l *Ledger) PaymentMode() string                 { return l.paymentMode }
func (l *Ledger) TransactionID() string               { return l.transactionID }
func (l *Ledger) Notes() string                       { return l.notes }
func (l *Ledger) GeneratedAt() *time.Time             { return l.generatedAt }
func (l *Ledger) Version() int                        { return l.version }
func (l *Ledger) Audit() shared.Audit                 { return l.audit }

// Items returns the lines in billing order. The slice is a copy; lines are
// changed only through the ledger.
func (l *Ledger) Items() []*LineItem {
	out := make([]*LineItem, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Ledger) Payments() []Payment {
	out := make([]Payment, len(l.payments))
	copy(out, l.payments)
	return out
}

// IsFullyPaid reports a Paid bill with nothing due.
func (l *Ledger) IsFullyPaid() bool {
	return l.status == StatusPaid && !l.dueAmount.IsPositive()
}

// Touch stamps the ledger as modified by actor.
func (l *Ledger) Touch(actor string) { l.audit.Touch(actor) }

func (l *Ledger) requireEditable(action string) error {
	if l.status != StatusDraft && l.status != StatusGenerated {
		return apperr.InvalidState("bill "+l.billNumber, string(l.status), action)
	}
	return nil
}

// AddLineItem bills quantity units of a catalog entry, priced at
// customPrice when given. Stock-tracked entries have the quantity consumed;
// when stock is short nothing changes and InsufficientStockError is
// returned. The caller persists the entry's new stock in the same
// transaction as the ledger.
func (l *Ledger) AddLineItem(entry *catalog.CatalogEntry, quantity int, customPrice *decimal.Decimal) (*LineItem, error) {
	if err := l.requireEditable("add line item"); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperr.Validation("catalog_entry", "is required")
	}
	if !entry.Active {
		return nil, apperr.InvalidState("catalog entry "+entry.Code, "inactive", "bill")
	}
	if quantity <= 0 {
		return nil, apperr.Validation("quantity", "must be greater than zero")
	}
	if entry.IsStockTracked() && entry.CurrentStock() < quantity {
		return nil, &apperr.InsufficientStockError{Code: entry.Code, Requested: quantity, Available: entry.CurrentStock()}
	}

	price := entry.StandardPrice
	if customPrice != nil {
		price = *customPrice
	}
	entryID := entry.ID
	li, err := NewLineItem(l.id, &entryID, entry.Name, entry.Type, price, quantity, entry.Taxable)
	if err != nil {
		return nil, err
	}
	li.commissionAmount = entry.CalculateCommission(li.NetAmount())

	if entry.IsStockTracked() {
		if err := entry.ConsumeStock(quantity); err != nil {
			return nil, err
		}
		li.stockConsumed = true
	}
	li.audit = shared.NewAudit(l.audit.UpdatedBy)
	l.items = append(l.items, li)
	l.recalculate()
	return li, nil
}

// AddCustomLineItem bills an item that has no catalog entry. No stock and
// no commission are involved.
func (l *Ledger) AddCustomLineItem(name string, itemType catalog.Type, unitPrice decimal.Decimal, quantity int, taxable bool) (*LineItem, error) {
	if err := l.requireEditable("add line item"); err != nil {
		return nil, err
	}
	li, err := NewLineItem(l.id, nil, name, itemType, unitPrice, quantity, taxable)
	if err != nil {
		return nil, err
	}
	li.audit = shared.NewAudit(l.audit.UpdatedBy)
	l.items = append(l.items, li)
	l.recalculate()
	return li, nil
}

func (l *Ledger) line(id uuid.UUID) (*LineItem, error) {
	for _, li := range l.items {
		if li.id == id {
			return li, nil
		}
	}
	return nil, apperr.NotFound("line item", id.String())
}

// editLine runs fn against one line and recomputes the bill when it
// succeeds.
func (l *Ledger) editLine(lineID uuid.UUID, action string, fn func(li *LineItem) error) error {
	if err := l.requireEditable(action); err != nil {
		return err
	}
	li, err := l.line(lineID)
	if err != nil {
		return err
	}
	if err := fn(li); err != nil {
		return err
	}
	li.audit.Touch(l.audit.UpdatedBy)
	l.recalculate()
	return nil
}

func (l *Ledger) ApplyLineDiscount(lineID uuid.UUID, percentage decimal.Decimal) error {
	return l.editLine(lineID, "discount a line", func(li *LineItem) error { return li.applyDiscount(percentage) })
}

func (l *Ledger) ApplyLineFixedDiscount(lineID uuid.UUID, amount decimal.Decimal) error {
	return l.editLine(lineID, "discount a line", func(li *LineItem) error { return li.applyFixedDiscount(amount) })
}

// UpdateLineQuantity is rejected for lines that consumed stock.
func (l *Ledger) UpdateLineQuantity(lineID uuid.UUID, quantity int) error {
	return l.editLine(lineID, "change a line", func(li *LineItem) error { return li.updateQuantity(quantity) })
}

func (l *Ledger) UpdateLineUnitPrice(lineID uuid.UUID, price decimal.Decimal) error {
	return l.editLine(lineID, "change a line", func(li *LineItem) error { return li.updateUnitPrice(price) })
}

// MarkLineAdministered records who gave a procedure or injection. Allowed
// in any state except Cancelled and Refunded.
func (l *Ledger) MarkLineAdministered(lineID uuid.UUID, by, notes string) error {
	if l.status == StatusCancelled || l.status == StatusRefunded {
		return apperr.InvalidState("bill "+l.billNumber, string(l.status), "administer a line")
	}
	li, err := l.line(lineID)
	if err != nil {
		return err
	}
	if err := li.markAdministered(by, notes); err != nil {
		return err
	}
	li.audit.Touch(by)
	return nil
}

// ApplyDiscount sets the bill-level discount on SubTotal.
func (l *Ledger) ApplyDiscount(percentage decimal.Decimal) error {
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return apperr.Validation("discount_percentage", "must be within 0-100")
	}
	if err := l.requireEditable("apply discount"); err != nil {
		return err
	}
	l.discountPercentage = percentage
	l.recalculate()
	return nil
}

// Generate finalizes a Draft bill. DueAmount then equals TotalAmount.
func (l *Ledger) Generate() error {
	if l.status != StatusDraft {
		return apperr.InvalidState("bill "+l.billNumber, string(l.status), "generate")
	}
	now := shared.Now()
	l.status = StatusGenerated
	l.generatedAt = &now
	l.recalculate()
	return nil
}

// RecordPayment records money received against a generated bill. Payments
// above the amount due are accepted and leave DueAmount negative.
func (l *Ledger) RecordPayment(amount decimal.Decimal, mode, transactionID, recordedBy string) error {
	amount = money(amount)
	switch {
	case !amount.IsPositive():
		return apperr.Validation("amount", "must be greater than zero")
	case strings.TrimSpace(mode) == "":
		return apperr.Validation("payment_mode", "is required")
	}
	switch l.status {
	case StatusGenerated, StatusPartiallyPaid:
	default:
		return apperr.InvalidState("bill "+l.billNumber, string(l.status), "record payment")
	}

	l.paidAmount = l.paidAmount.Add(amount)
	l.paymentMode = mode
	l.transactionID = transactionID
	l.payments = append(l.payments, Payment{
		ID:            uuid.New(),
		Kind:          PaymentKindPayment,
		Amount:        amount,
		Mode:          mode,
		TransactionID: transactionID,
		RecordedAt:    shared.Now(),
		RecordedBy:    recordedBy,
	})

	switch {
	case l.paidAmount.GreaterThanOrEqual(l.totalAmount):
		l.status = StatusPaid
	case l.paidAmount.IsPositive():
		l.status = StatusPartiallyPaid
	default:
		l.status = StatusGenerated
	}
	l.recalculate()
	return nil
}

// Cancel voids a bill that has no payment against it.
func (l *Ledger) Cancel(reason, by string) error {
	if strings.TrimSpace(reason) == "" {
		return apperr.Validation("reason", "is required")
	}
	switch l.status {
	case StatusDraft, StatusGenerated:
	default:
		return apperr.InvalidState("bill "+l.billNumber, string(l.status), "cancel")
	}
	if l.paidAmount.IsPositive() {
		return apperr.InvalidState("bill "+l.billNumber, string(l.status), "cancel a bill with payments")
	}
	l.status = StatusCancelled
	l.prependNote("Cancelled", reason)
	l.audit.Touch(by)
	return nil
}

// Refund returns part or all of the money paid. Only one refund moves the
// bill to Refunded; further refunds are rejected.
func (l *Ledger) Refund(amount decimal.Decimal, reason, by string) error {
	amount = money(amount)
	switch {
	case !amount.IsPositive():
		return apperr.Validation("amount", "must be greater than zero")
	case strings.TrimSpace(reason) == "":
		return apperr.Validation("reason", "is required")
	}
	if l.status != StatusPaid && l.status != StatusPartiallyPaid {
		return apperr.InvalidState("bill "+l.billNumber, string(l.status), "refund")
	}
	if amount.GreaterThan(l.paidAmount) {
		return apperr.InvalidState("bill "+l.billNumber, string(l.status),
			fmt.Sprintf("refund %s of %s paid", amount.StringFixed(2), l.paidAmount.StringFixed(2)))
	}

	l.paidAmount = l.paidAmount.Sub(amount)
	l.status = StatusRefunded
	l.payments = append(l.payments, Payment{
		ID:         uuid.New(),
		Kind:       PaymentKindRefund,
		Amount:     amount,
		Reason:     reason,
		RecordedAt: shared.Now(),
		RecordedBy: by,
	})
	l.prependNote("Refunded "+amount.StringFixed(2), reason)
	l.audit.Touch(by)
	l.recalculate()
	return nil
}

// TotalDoctorCommission sums the commission locked in on each line.
func (l *Ledger) TotalDoctorCommission() decimal.Decimal {
	total := decimal.Zero
	for _, li := range l.items {
		total = total.Add(li.commissionAmount)
	}
	return total
}

func (l *Ledger) prependNote(label, text string) {
	note := fmt.Sprintf("[%s] %s: %s", shared.Now().Format("2006-01-02 15:04"), label, text)
	if l.notes == "" {
		l.notes = note
		return
	}
	l.notes = note + "\n" + l.notes
}

// recalculate derives the fee buckets and all totals.
func (l *Ledger) recalculate() {
	l.consultationFee, l.procedureFee, l.medicineFee, l.labTestFee, l.otherFee =
		decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero

	sub := decimal.Zero
	for _, li := range l.items {
		sub = sub.Add(li.totalWithTax)
		bucket := l.bucket(li.itemType)
		*bucket = bucket.Add(li.totalPrice)
	}
	l.subTotal = sub
	l.discountAmount = money(sub.Mul(l.discountPercentage).Div(hundred))
	l.totalAmount = sub.Sub(l.discountAmount)
	l.dueAmount = l.totalAmount.Sub(l.paidAmount)
}

func (l *Ledger) bucket(t catalog.Type) *decimal.Decimal {
	switch t {
	case catalog.TypeConsultation:
		return &l.consultationFee
	case catalog.TypeProcedure:
		return &l.procedureFee
	case catalog.TypeMedicine:
		return &l.medicineFee
	case catalog.TypeLabTest:
		return &l.labTestFee
	default:
		return &l.otherFee
	}
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	cp := *l
	cp.items = make([]*LineItem, len(l.items))
	for i, li := range l.items {
		cp.items[i] = li.clone()
	}
	cp.payments = append([]Payment(nil), l.payments...)
	if l.generatedAt != nil {
		at := *l.generatedAt
		cp.generatedAt = &at
	}
	return &cp
}

// View is the JSON shape of a bill.
type View struct {
	ID                 uuid.UUID       `json:"id"`
	BillNumber         string          `json:"bill_number"`
	VisitID            uuid.UUID       `json:"visit_id"`
	PatientID          uuid.UUID       `json:"patient_id"`
	DoctorID           uuid.UUID       `json:"doctor_id"`
	Status             Status          `json:"status"`
	ConsultationFee    decimal.Decimal `json:"consultation_fee"`
	ProcedureFee       decimal.Decimal `json:"procedure_fee"`
	MedicineFee        decimal.Decimal `json:"medicine_fee"`
	LabTestFee         decimal.Decimal `json:"labtest_fee"`
	OtherFee           decimal.Decimal `json:"other_fee"`
	SubTotal           decimal.Decimal `json:"sub_total"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	DueAmount          decimal.Decimal `json:"due_amount"`
	PaymentMode        string          `json:"payment_mode,omitempty"`
	TransactionID      string          `json:"transaction_id,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	GeneratedAt        *time.Time      `json:"generated_at,omitempty"`
	Items              []LineItemView  `json:"items"`
	Payments           []Payment       `json:"payments"`
	Version            int             `json:"version"`
	shared.Audit
}

func (l *Ledger) View() View {
	items := make([]LineItemView, len(l.items))
	for i, li := range l.items {
		items[i] = li.View()
	}
	return View{
		ID:                 l.id,
		BillNumber:         l.billNumber,
		VisitID:            l.visitID,
		PatientID:          l.patientID,
		DoctorID:           l.doctorID,
		Status:             l.status,
		ConsultationFee:    l.consultationFee,
		ProcedureFee:       l.procedureFee,
		MedicineFee:        l.medicineFee,
		LabTestFee:         l.labTestFee,
		OtherFee:           l.otherFee,
		SubTotal:           l.subTotal,
		DiscountPercentage: l.discountPercentage,
		DiscountAmount:     l.discountAmount,
		TaxPercentage:      l.taxPercentage,
		TotalAmount:        l.totalAmount,
		PaidAmount:         l.paidAmount,
		DueAmount:          l.dueAmount,
		PaymentMode:        l.paymentMode,
		TransactionID:      l.transactionID,
		Notes:              l.notes,
		GeneratedAt:        l.generatedAt,
		Items:              items,
		Payments:           l.Payments(),
		Version:            l.version,
		Audit:              l.audit,
	}
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.View())
}
