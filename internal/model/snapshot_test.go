package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taxSnapshot(rules ...RuleEntry) *Snapshot {
	s := &Snapshot{Rules: rules}
	s.BuildIndexes()
	return s
}

func TestTaxRate(t *testing.T) {
	fallback := decimal.RequireFromString("0.0825")

	t.Run("percent suffix divides by 100", func(t *testing.T) {
		s := taxSnapshot(RuleEntry{Key: "tax_rate", Value: "8.25%"})
		assert.True(t, s.TaxRate(fallback).Equal(decimal.RequireFromString("0.0825")))
	})

	t.Run("value above one treated as percentage", func(t *testing.T) {
		s := taxSnapshot(RuleEntry{Key: "tax_rate", Value: "10"})
		assert.True(t, s.TaxRate(fallback).Equal(decimal.RequireFromString("0.1")))
	})

	t.Run("fraction passes through", func(t *testing.T) {
		s := taxSnapshot(RuleEntry{Key: "tax_rate", Value: "0.0625"})
		assert.True(t, s.TaxRate(fallback).Equal(decimal.RequireFromString("0.0625")))
	})

	t.Run("exactly one is a fraction", func(t *testing.T) {
		s := taxSnapshot(RuleEntry{Key: "tax_rate", Value: "1"})
		assert.True(t, s.TaxRate(fallback).Equal(decimal.NewFromInt(1)))
	})

	t.Run("non-numeric falls back", func(t *testing.T) {
		s := taxSnapshot(RuleEntry{Key: "tax_rate", Value: "ask accounting"})
		assert.True(t, s.TaxRate(fallback).Equal(fallback))
	})

	t.Run("absent falls back", func(t *testing.T) {
		s := taxSnapshot()
		assert.True(t, s.TaxRate(fallback).Equal(fallback))
	})

	t.Run("lowest priority wins", func(t *testing.T) {
		s := taxSnapshot(
			RuleEntry{Key: "tax_rate", Value: "9%", Priority: 50},
			RuleEntry{Key: "tax_rate", Value: "7%", Priority: 10},
		)
		assert.True(t, s.TaxRate(fallback).Equal(decimal.RequireFromString("0.07")))
	})

	t.Run("key matching tolerates case and spacing", func(t *testing.T) {
		s := taxSnapshot(RuleEntry{Key: " Tax_Rate ", Value: "5%"})
		assert.True(t, s.TaxRate(fallback).Equal(decimal.RequireFromString("0.05")))
	})
}

func TestAliasMatch_LongestPhraseWins(t *testing.T) {
	s := &Snapshot{
		Catalog: []CatalogEntry{
			{Code: "WH40", Name: "Water heater, 40 gal", UnitPrice: decimal.NewFromInt(1250)},
			{Code: "WHTL", Name: "Tankless water heater", UnitPrice: decimal.NewFromInt(2900)},
		},
		Aliases: []AliasEntry{
			{Phrase: "water heater", Code: "WH40"},
			{Phrase: "tankless water heater", Code: "WHTL"},
		},
	}
	s.BuildIndexes()

	code, ok := s.AliasMatch("Install a TANKLESS water heater upstairs")
	require.True(t, ok)
	assert.Equal(t, "WHTL", code, "longer phrase beats its substring")

	code, ok = s.AliasMatch("replace the water heater")
	require.True(t, ok)
	assert.Equal(t, "WH40", code)

	_, ok = s.AliasMatch("fix the roof")
	assert.False(t, ok)
}

func TestEntry(t *testing.T) {
	s := &Snapshot{Catalog: []CatalogEntry{{Code: "X1", Name: "One", UnitPrice: decimal.NewFromInt(10)}}}
	s.BuildIndexes()

	e, ok := s.Entry("X1")
	require.True(t, ok)
	assert.Equal(t, "One", e.Name)

	_, ok = s.Entry("X2")
	assert.False(t, ok)
}
