package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeside-repairs/estimate-worker/internal/model"
)

func testCatalog() *model.Snapshot {
	s := &model.Snapshot{
		Catalog: []model.CatalogEntry{
			{Code: "X1", Name: "Exterior door", UnitPrice: decimal.RequireFromString("125.00")},
			{Code: "GFCI01", Name: "GFCI outlet", UnitPrice: decimal.RequireFromString("12.50"), MinQuantity: decimal.NewFromInt(2)},
			{Code: "SMOKE01", Name: "Smoke detector", UnitPrice: decimal.RequireFromString("45.00")},
		},
	}
	s.BuildIndexes()
	return s
}

func fptr(v float64) *float64 { return &v }

func TestPrice_LineTotalFromCatalog(t *testing.T) {
	res := Price([]model.MappedLineItem{
		{Code: "X1", Description: "replace exterior door", Quantity: fptr(3)},
	}, testCatalog())

	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, "X1", item.Code)
	assert.Equal(t, "Exterior door", item.Name)
	assert.Equal(t, "375.00", item.LineTotal.StringFixed(2))
	assert.Equal(t, "375.00", res.Subtotal.StringFixed(2))
	assert.Empty(t, res.Unmapped)
	assert.Empty(t, res.Diagnostics)
}

func TestPrice_UnknownCodeGoesUnmapped(t *testing.T) {
	res := Price([]model.MappedLineItem{
		{Code: "NOPE99", Description: "mystery repair", Quantity: fptr(1)},
		{Code: "SMOKE01", Description: "missing smoke detector", Quantity: fptr(1)},
	}, testCatalog())

	require.Len(t, res.Items, 1)
	require.Len(t, res.Unmapped, 1)
	assert.Equal(t, "mystery repair", res.Unmapped[0].Phrase)
	assert.Equal(t, ReasonCodeNotInCatalog, res.Unmapped[0].Reason)
	// Unmapped items contribute nothing to the subtotal.
	assert.Equal(t, "45.00", res.Subtotal.StringFixed(2))
}

func TestPrice_QuantityFallsBackToCatalogMinimum(t *testing.T) {
	tests := []struct {
		name string
		qty  *float64
		want string
	}{
		{"nil quantity uses min", nil, "25.00"},
		{"zero quantity uses min", fptr(0), "25.00"},
		{"negative quantity uses min", fptr(-3), "25.00"},
		{"positive quantity used as-is", fptr(4), "50.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Price([]model.MappedLineItem{
				{Code: "GFCI01", Description: "outlets", Quantity: tt.qty},
			}, testCatalog())
			require.Len(t, res.Items, 1)
			assert.Equal(t, tt.want, res.Items[0].LineTotal.StringFixed(2))
		})
	}
}

func TestPrice_MinimumDefaultsToOne(t *testing.T) {
	res := Price([]model.MappedLineItem{
		{Code: "SMOKE01", Description: "smoke detector"},
	}, testCatalog())
	require.Len(t, res.Items, 1)
	assert.Equal(t, "1", res.Items[0].Quantity.String())
	assert.Equal(t, "45.00", res.Items[0].LineTotal.StringFixed(2))
}

func TestPrice_TamperDiagnostic(t *testing.T) {
	res := Price([]model.MappedLineItem{
		{Code: "X1", Description: "door", Quantity: fptr(1), Price: fptr(99.99)},
	}, testCatalog())

	// Catalog price wins; the attempt is visible but non-blocking.
	require.Len(t, res.Items, 1)
	assert.Equal(t, "125.00", res.Items[0].UnitPrice.StringFixed(2))
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "99.99")
	assert.Contains(t, res.Diagnostics[0], "125.00")
}

func TestPrice_MatchingSuppliedPriceIsNotFlagged(t *testing.T) {
	res := Price([]model.MappedLineItem{
		{Code: "X1", Description: "door", Quantity: fptr(1), Price: fptr(125.00)},
	}, testCatalog())
	assert.Empty(t, res.Diagnostics)
}

func TestPrice_RoundsHalfUpAtCents(t *testing.T) {
	s := &model.Snapshot{
		Catalog: []model.CatalogEntry{
			{Code: "C1", Name: "Caulk", UnitPrice: decimal.RequireFromString("0.125")},
		},
	}
	s.BuildIndexes()

	res := Price([]model.MappedLineItem{
		{Code: "C1", Description: "caulking", Quantity: fptr(1)},
	}, s)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "0.13", res.Items[0].LineTotal.StringFixed(2))
}

func TestPrice_Idempotent(t *testing.T) {
	items := []model.MappedLineItem{
		{Code: "X1", Description: "door", Quantity: fptr(3)},
		{Code: "GFCI01", Description: "outlets"},
		{Code: "NOPE99", Description: "mystery"},
	}
	cat := testCatalog()

	first := Price(items, cat)
	second := Price(items, cat)

	require.Equal(t, len(first.Items), len(second.Items))
	for i := range first.Items {
		assert.True(t, first.Items[i].LineTotal.Equal(second.Items[i].LineTotal))
	}
	assert.True(t, first.Subtotal.Equal(second.Subtotal))
	assert.Equal(t, first.Unmapped, second.Unmapped)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
}
