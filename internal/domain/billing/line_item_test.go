package billing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinic/internal/domain/catalog"
	"github.com/ehr/clinic/internal/platform/apperr"
)

func TestNewLineItem(t *testing.T) {
	li, err := NewLineItem(uuid.New(), nil, "  Suturing ", catalog.TypeProcedure, d("250"), 2, true)
	require.NoError(t, err)
	assert.Equal(t, "Suturing", li.ItemName())
	assert.True(t, li.TotalPrice().Equal(d("500")))
	assert.True(t, li.TaxAmount().Equal(d("25")))
	assert.True(t, li.TotalWithTax().Equal(d("525")))
	assert.True(t, li.NetAmount().Equal(d("500")))
}

func TestNewLineItem_Validation(t *testing.T) {
	testCases := []struct {
		name  string
		item  string
		price string
		qty   int
		field string
	}{
		{"empty_name", " ", "10", 1, "item_name"},
		{"negative_price", "x", "-0.01", 1, "unit_price"},
		{"zero_quantity", "x", "10", 0, "quantity"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLineItem(uuid.New(), nil, tc.item, catalog.TypeOther, d(tc.price), tc.qty, true)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestLineItem_TotalWithTaxInvariant(t *testing.T) {
	testCases := []struct {
		price, pct string
		qty        int
		taxable    bool
	}{
		{"99.99", "0", 3, true},
		{"10.10", "33", 7, true},
		{"1234.56", "12.5", 1, false},
		{"0", "50", 4, true},
	}
	for _, tc := range testCases {
		li, err := NewLineItem(uuid.New(), nil, "x", catalog.TypeOther, d(tc.price), tc.qty, tc.taxable)
		require.NoError(t, err)
		require.NoError(t, li.applyDiscount(d(tc.pct)))

		net := li.UnitPrice().Mul(decimal.NewFromInt(int64(tc.qty))).Sub(li.DiscountAmount())
		assert.True(t, li.TotalWithTax().Equal(net.Add(li.TaxAmount())), "%+v", tc)
		if !tc.taxable {
			assert.True(t, li.TaxAmount().IsZero())
		}
	}
}

func TestLineItem_FixedDiscount(t *testing.T) {
	li, err := NewLineItem(uuid.New(), nil, "x", catalog.TypeOther, d("80"), 1, true)
	require.NoError(t, err)

	var ve *apperr.ValidationError
	assert.ErrorAs(t, li.applyFixedDiscount(d("80.01")), &ve)
	assert.ErrorAs(t, li.applyFixedDiscount(d("-1")), &ve)

	require.NoError(t, li.applyFixedDiscount(d("20")))
	assert.True(t, li.DiscountPercentage().Equal(d("25")))
	assert.True(t, li.TaxAmount().Equal(d("3")))

	assert.ErrorAs(t, li.updateUnitPrice(d("10")), &ve)
	assert.True(t, li.UnitPrice().Equal(d("80")))

	require.NoError(t, li.applyDiscount(d("10")))
	assert.True(t, li.DiscountAmount().Equal(d("8")))
}

func TestLineItem_CalculateTotalUnits(t *testing.T) {
	li, err := NewLineItem(uuid.New(), nil, "Paracetamol", catalog.TypeMedicine, d("2"), 2, false)
	require.NoError(t, err)

	assert.Equal(t, 2*2*5, li.CalculateTotalUnits("1-0-1", 5))
	assert.Equal(t, 2*3*3, li.CalculateTotalUnits("1-1-1", 3))
	assert.Equal(t, 2*1*4, li.CalculateTotalUnits("bedtime", 4))
	assert.Equal(t, 2, li.CalculateTotalUnits("SOS", 10))
}

func TestLineItem_View(t *testing.T) {
	entry := uuid.New()
	li, err := NewLineItem(uuid.New(), &entry, "CBC", catalog.TypeLabTest, d("300"), 1, false)
	require.NoError(t, err)

	v := li.View()
	assert.Equal(t, li.ID(), v.ID)
	assert.Equal(t, &entry, v.CatalogEntryID)
	assert.Equal(t, catalog.TypeLabTest, v.ItemType)
	assert.False(t, v.Administered)
}
