package billing

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/domain/shared"
	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/idgen"
)

var testDay = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixClock(t *testing.T) {
	t.Helper()
	prev := shared.Now
	shared.Now = func() time.Time { return testDay }
	t.Cleanup(func() { shared.Now = prev })
}

func newTestLedger(t *testing.T, fee string) *Ledger {
	t.Helper()
	l, err := NewLedger(idgen.NewSequence(testDay), uuid.New(), uuid.New(), uuid.New(), d(fee), "doc-1")
	require.NoError(t, err)
	return l
}

func stockedEntry(code string, typ catalog.Type, price string, stock int) *catalog.CatalogEntry {
	e := &catalog.CatalogEntry{
		ID:             uuid.New(),
		Code:           code,
		Name:           code + " item",
		Type:           typ,
		StandardPrice:  d(price),
		CommissionMode: catalog.CommissionNone,
		Taxable:        true,
		Consumable:     stock >= 0,
		Active:         true,
	}
	if stock > 0 {
		_ = e.AddStock(stock)
	}
	return e
}

// assertTotals checks the derived totals against the lines and payments.
func assertTotals(t *testing.T, l *Ledger) {
	t.Helper()
	sum := decimal.Zero
	for _, li := range l.Items() {
		sum = sum.Add(li.TotalWithTax())
	}
	assert.True(t, sum.Equal(l.SubTotal()), "sub total %s != sum %s", l.SubTotal(), sum)
	assert.True(t, l.TotalAmount().Equal(l.SubTotal().Sub(l.DiscountAmount())))
	assert.True(t, l.DueAmount().Equal(l.TotalAmount().Sub(l.PaidAmount())))
}

func TestNewLedger_ScenarioA(t *testing.T) {
	l := newTestLedger(t, "500")

	assert.Equal(t, StatusDraft, l.Status())
	assert.Equal(t, "BILL-20261018-000001", l.BillNumber())
	require.Len(t, l.Items(), 1)
	li := l.Items()[0]
	assert.Equal(t, ConsultationLineName, li.ItemName())
	assert.Equal(t, catalog.TypeConsultation, li.ItemType())
	assert.True(t, li.TotalPrice().Equal(d("500")))
	assert.True(t, li.TaxAmount().Equal(d("25")))
	assert.True(t, l.SubTotal().Equal(d("525")))
	assert.True(t, l.TotalAmount().Equal(d("525")))
	assert.True(t, l.DueAmount().Equal(d("525")))
	assert.True(t, l.ConsultationFee().Equal(d("500")))
	assert.True(t, l.DiscountPercentage().IsZero())
	assert.Equal(t, 1, l.Version())
	assertTotals(t, l)
}

func TestNewLedger_Validation(t *testing.T) {
	gen := idgen.NewSequence(testDay)
	id := uuid.New()
	testCases := []struct {
		name                string
		visit, patient, doc uuid.UUID
		fee                 string
		field               string
	}{
		{"no_visit", uuid.Nil, id, id, "100", "visit_id"},
		{"no_patient", id, uuid.Nil, id, "100", "patient_id"},
		{"no_doctor", id, id, uuid.Nil, "100", "doctor_id"},
		{"negative_fee", id, id, id, "-1", "consultation_fee"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLedger(gen, tc.visit, tc.patient, tc.doc, d(tc.fee), "x")
			assert.Nil(t, l)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestLedger_Scenarios(t *testing.T) {
	l := newTestLedger(t, "500")

	// B: 10% bill discount
	require.NoError(t, l.ApplyDiscount(d("10")))
	assert.True(t, l.DiscountAmount().Equal(d("52.5")))
	assert.True(t, l.TotalAmount().Equal(d("472.5")))
	assertTotals(t, l)

	// C: pay in full
	require.NoError(t, l.Generate())
	require.NoError(t, l.RecordPayment(d("472.5"), "cash", "", "desk"))
	assert.Equal(t, StatusPaid, l.Status())
	assert.True(t, l.DueAmount().IsZero())
	assert.True(t, l.IsFullyPaid())
	assertTotals(t, l)

	// D: partial refund
	require.NoError(t, l.Refund(d("100"), "service not rendered", "acct"))
	assert.True(t, l.PaidAmount().Equal(d("372.5")))
	assert.Equal(t, StatusRefunded, l.Status())
	assert.True(t, strings.Contains(l.Notes(), "Refunded 100.00"))
	assertTotals(t, l)

	payments := l.Payments()
	require.Len(t, payments, 2)
	assert.Equal(t, PaymentKindPayment, payments[0].Kind)
	assert.Equal(t, PaymentKindRefund, payments[1].Kind)
	assert.Equal(t, "service not rendered", payments[1].Reason)
}

func TestLedger_AddLineItem(t *testing.T) {
	l := newTestLedger(t, "300")
	proc := stockedEntry("DRESS", catalog.TypeProcedure, "200", -1)
	proc.Consumable = false
	proc.CommissionMode = catalog.CommissionPercentage
	proc.CommissionValue = d("10")

	li, err := l.AddLineItem(proc, 2, nil)
	require.NoError(t, err)
	assert.True(t, li.TotalPrice().Equal(d("400")))
	assert.True(t, li.CommissionAmount().Equal(d("40")))
	assert.False(t, li.StockConsumed())
	assert.True(t, l.ProcedureFee().Equal(d("400")))
	assert.True(t, l.SubTotal().Equal(d("735")))
	assertTotals(t, l)

	custom := d("150")
	lab := stockedEntry("CBC", catalog.TypeLabTest, "300", -1)
	lab.Consumable = false
	lab.Taxable = false
	li, err = l.AddLineItem(lab, 1, &custom)
	require.NoError(t, err)
	assert.True(t, li.UnitPrice().Equal(d("150")))
	assert.True(t, li.TaxAmount().IsZero())
	assert.True(t, l.LabTestFee().Equal(d("150")))
	assert.True(t, l.TotalDoctorCommission().Equal(d("40")))
	assertTotals(t, l)
}

func TestLedger_AddLineItem_ConsumesStock(t *testing.T) {
	l := newTestLedger(t, "300")
	med := stockedEntry("PCM500", catalog.TypeMedicine, "2.5", 20)

	li, err := l.AddLineItem(med, 6, nil)
	require.NoError(t, err)
	assert.True(t, li.StockConsumed())
	assert.Equal(t, 14, med.CurrentStock())
	assert.True(t, l.MedicineFee().Equal(d("15")))
}

func TestLedger_AddLineItem_InsufficientStock(t *testing.T) {
	l := newTestLedger(t, "300")
	med := stockedEntry("AMOX", catalog.TypeMedicine, "10", 3)
	before := l.Clone()

	li, err := l.AddLineItem(med, 5, nil)
	assert.Nil(t, li)
	var stock *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assert.Equal(t, 5, stock.Requested)
	assert.Equal(t, 3, stock.Available)
	assert.Equal(t, 3, med.CurrentStock())
	assert.Equal(t, before.View(), l.View())
}

func TestLedger_AddLineItem_Rejections(t *testing.T) {
	l := newTestLedger(t, "300")
	inactive := stockedEntry("OLD", catalog.TypeProcedure, "10", -1)
	inactive.Active = false

	_, err := l.AddLineItem(inactive, 1, nil)
	var state *apperr.InvalidStateError
	assert.ErrorAs(t, err, &state)

	_, err = l.AddLineItem(nil, 1, nil)
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = l.AddLineItem(stockedEntry("X", catalog.TypeOther, "1", 5), 0, nil)
	assert.ErrorAs(t, err, &ve)

	require.NoError(t, l.Generate())
	require.NoError(t, l.RecordPayment(l.TotalAmount(), "upi", "T1", "desk"))
	_, err = l.AddCustomLineItem("Late fee", catalog.TypeOther, d("10"), 1, false)
	assert.ErrorAs(t, err, &state)
	assert.Len(t, l.Items(), 1)
}

func TestLedger_AddCustomLineItem_Buckets(t *testing.T) {
	l := newTestLedger(t, "100")
	_, err := l.AddCustomLineItem("B12 shot", catalog.TypeInjection, d("80"), 1, false)
	require.NoError(t, err)
	_, err = l.AddCustomLineItem("Misc", catalog.Type("unknown"), d("20"), 2, false)
	require.NoError(t, err)

	assert.True(t, l.OtherFee().Equal(d("120")))
	assert.Equal(t, catalog.TypeOther, l.Items()[2].ItemType())
	assertTotals(t, l)
}

func TestLedger_ApplyDiscount_Range(t *testing.T) {
	l := newTestLedger(t, "100")
	for _, pct := range []string{"-1", "100.01"} {
		var ve *apperr.ValidationError
		assert.ErrorAs(t, l.ApplyDiscount(d(pct)), &ve, pct)
	}
	require.NoError(t, l.ApplyDiscount(d("100")))
	assert.True(t, l.TotalAmount().IsZero())
}

func TestLedger_Generate(t *testing.T) {
	fixClock(t)
	l := newTestLedger(t, "100")
	require.NoError(t, l.Generate())
	assert.Equal(t, StatusGenerated, l.Status())
	require.NotNil(t, l.GeneratedAt())
	assert.Equal(t, testDay, *l.GeneratedAt())
	assert.True(t, l.DueAmount().Equal(l.TotalAmount()))

	var state *apperr.InvalidStateError
	assert.ErrorAs(t, l.Generate(), &state)
}

func TestLedger_RecordPayment(t *testing.T) {
	l := newTestLedger(t, "1000")
	require.NoError(t, l.Generate())

	require.NoError(t, l.RecordPayment(d("500"), "cash", "", "desk"))
	assert.Equal(t, StatusPartiallyPaid, l.Status())
	assert.True(t, l.DueAmount().Equal(d("550")))
	assertTotals(t, l)

	require.NoError(t, l.RecordPayment(d("550"), "card", "TXN-9", "desk"))
	assert.Equal(t, StatusPaid, l.Status())
	assert.Equal(t, "card", l.PaymentMode())
	assert.Equal(t, "TXN-9", l.TransactionID())

	var state *apperr.InvalidStateError
	assert.ErrorAs(t, l.RecordPayment(d("1"), "cash", "", "desk"), &state)
}

func TestLedger_RecordPayment_Rejections(t *testing.T) {
	l := newTestLedger(t, "100")
	var state *apperr.InvalidStateError
	assert.ErrorAs(t, l.RecordPayment(d("10"), "cash", "", "desk"), &state)
	assert.Equal(t, StatusDraft, l.Status())

	require.NoError(t, l.Generate())
	var ve *apperr.ValidationError
	assert.ErrorAs(t, l.RecordPayment(d("0"), "cash", "", "desk"), &ve)
	assert.ErrorAs(t, l.RecordPayment(d("10"), " ", "", "desk"), &ve)
	assert.True(t, l.PaidAmount().IsZero())
	assert.Empty(t, l.Payments())
}

func TestLedger_RecordPayment_Overpayment(t *testing.T) {
	l := newTestLedger(t, "100")
	require.NoError(t, l.Generate())

	require.NoError(t, l.RecordPayment(d("120"), "cash", "", "desk"))
	assert.Equal(t, StatusPaid, l.Status())
	assert.True(t, l.PaidAmount().Equal(d("120")))
	assert.True(t, l.DueAmount().Equal(d("-15")), l.DueAmount().String())
	assertTotals(t, l)
}

func TestLedger_Cancel(t *testing.T) {
	fixClock(t)
	l := newTestLedger(t, "100")
	require.NoError(t, l.Cancel("duplicate visit", "desk"))
	assert.Equal(t, StatusCancelled, l.Status())
	assert.Equal(t, "[2026-10-18 09:30] Cancelled: duplicate visit", l.Notes())

	var state *apperr.InvalidStateError
	assert.ErrorAs(t, l.Cancel("again", "desk"), &state)
}

func TestLedger_Cancel_RejectedAfterPayment(t *testing.T) {
	for _, amount := range []string{"50", "105"} {
		l := newTestLedger(t, "100")
		require.NoError(t, l.Generate())
		require.NoError(t, l.RecordPayment(d(amount), "cash", "", "desk"))
		var state *apperr.InvalidStateError
		assert.ErrorAs(t, l.Cancel("changed mind", "desk"), &state, amount)
	}

	l := newTestLedger(t, "100")
	var ve *apperr.ValidationError
	assert.ErrorAs(t, l.Cancel("", "desk"), &ve)
}

func TestLedger_Refund_Rejections(t *testing.T) {
	l := newTestLedger(t, "100")
	var state *apperr.InvalidStateError
	assert.ErrorAs(t, l.Refund(d("10"), "x", "acct"), &state)

	require.NoError(t, l.Generate())
	require.NoError(t, l.RecordPayment(d("50"), "cash", "", "desk"))
	assert.ErrorAs(t, l.Refund(d("50.01"), "x", "acct"), &state)
	assert.True(t, l.PaidAmount().Equal(d("50")))

	var ve *apperr.ValidationError
	assert.ErrorAs(t, l.Refund(d("10"), "", "acct"), &ve)
	assert.ErrorAs(t, l.Refund(d("-1"), "x", "acct"), &ve)

	require.NoError(t, l.Refund(d("50"), "x", "acct"))
	assert.True(t, l.PaidAmount().IsZero())
	assert.ErrorAs(t, l.Refund(d("1"), "x", "acct"), &state)
}

func TestLedger_LineOperations(t *testing.T) {
	l := newTestLedger(t, "200")
	lineID := l.Items()[0].ID()

	require.NoError(t, l.ApplyLineDiscount(lineID, d("50")))
	li := l.Items()[0]
	assert.True(t, li.DiscountAmount().Equal(d("100")))
	assert.True(t, li.TaxAmount().Equal(d("5")))
	assert.True(t, l.SubTotal().Equal(d("105")))
	assertTotals(t, l)

	require.NoError(t, l.UpdateLineUnitPrice(lineID, d("300")))
	assert.True(t, l.Items()[0].DiscountAmount().Equal(d("150")))
	assertTotals(t, l)

	require.NoError(t, l.ApplyLineFixedDiscount(lineID, d("60")))
	assert.True(t, l.Items()[0].DiscountPercentage().Equal(d("20")))
	assertTotals(t, l)

	require.NoError(t, l.UpdateLineQuantity(lineID, 2))
	assert.True(t, l.Items()[0].TotalPrice().Equal(d("600")))
	assert.True(t, l.ConsultationFee().Equal(d("600")))
	assertTotals(t, l)

	var nf *apperr.NotFoundError
	assert.ErrorAs(t, l.ApplyLineDiscount(uuid.New(), d("1")), &nf)
}

func TestLedger_UpdateLineQuantity_StockConsumed(t *testing.T) {
	l := newTestLedger(t, "200")
	li, err := l.AddLineItem(stockedEntry("ORS", catalog.TypeMedicine, "15", 10), 2, nil)
	require.NoError(t, err)

	var state *apperr.InvalidStateError
	assert.ErrorAs(t, l.UpdateLineQuantity(li.ID(), 3), &state)
	assert.Equal(t, 2, l.Items()[1].Quantity())
}

func TestLedger_MarkLineAdministered(t *testing.T) {
	fixClock(t)
	l := newTestLedger(t, "200")
	li, err := l.AddCustomLineItem("IM injection", catalog.TypeInjection, d("50"), 1, true)
	require.NoError(t, err)

	require.NoError(t, l.MarkLineAdministered(li.ID(), "nurse-1", "left deltoid"))
	got := l.Items()[1]
	assert.True(t, got.Administered())
	assert.Equal(t, "nurse-1", got.AdministeredBy())
	assert.Equal(t, testDay, *got.AdministeredAt())

	var state *apperr.InvalidStateError
	assert.ErrorAs(t, l.MarkLineAdministered(li.ID(), "nurse-2", ""), &state)

	require.NoError(t, l.Cancel("walked out", "desk"))
	li2 := l.Items()[0]
	assert.ErrorAs(t, l.MarkLineAdministered(li2.ID(), "nurse-1", ""), &state)
}

func TestLedger_Clone_IsDeep(t *testing.T) {
	l := newTestLedger(t, "100")
	cp := l.Clone()
	require.NoError(t, l.ApplyLineDiscount(l.Items()[0].ID(), d("10")))
	require.NoError(t, l.Generate())
	require.NoError(t, l.RecordPayment(d("10"), "cash", "", "desk"))

	assert.True(t, cp.Items()[0].DiscountAmount().IsZero())
	assert.Empty(t, cp.Payments())
	assert.Equal(t, StatusDraft, cp.Status())
}

func TestLedger_SubTotalProperty(t *testing.T) {
	l := newTestLedger(t, "99.99")
	prices := []string{"0.01", "12.345", "7", "1000", "33.33"}
	for i, p := range prices {
		_, err := l.AddCustomLineItem("item", catalog.TypeProcedure, d(p), i+1, i%2 == 0)
		require.NoError(t, err)
		assertTotals(t, l)
		require.NoError(t, l.ApplyDiscount(decimal.NewFromInt(int64(i*7))))
		assertTotals(t, l)
	}
}
