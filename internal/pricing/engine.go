// Package pricing prices mapped line items against the authoritative
// catalog. It is pure and deterministic: no I/O, identical inputs always
// produce identical outputs, so a crashed job can be re-run safely.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/homeside-repairs/estimate-worker/internal/model"
)

// ReasonCodeNotInCatalog is recorded for items whose code has no catalog entry.
const ReasonCodeNotInCatalog = "code not in catalog"

// Catalog resolves a code to its catalog entry.
type Catalog interface {
	Entry(code string) (model.CatalogEntry, bool)
}

// Result is the output of one pricing pass.
type Result struct {
	Items       []model.PricedLineItem
	Subtotal    decimal.Decimal
	Unmapped    []model.UnmappedItem
	Diagnostics []string
}

// Price prices each mapped item strictly from the catalog. Unknown codes go
// to the unmapped list without failing the batch. An input that carries its
// own price differing from the catalog's is priced from the catalog and
// flagged with a tamper diagnostic.
func Price(items []model.MappedLineItem, catalog Catalog) Result {
	res := Result{Subtotal: decimal.Zero}

	for _, item := range items {
		entry, ok := catalog.Entry(item.Code)
		if !ok {
			res.Unmapped = append(res.Unmapped, model.UnmappedItem{
				Phrase: item.Description,
				Reason: ReasonCodeNotInCatalog,
			})
			continue
		}

		qty := resolveQuantity(item.Quantity, entry.MinQuantity)
		lineTotal := qty.Mul(entry.UnitPrice).Round(2)

		if item.Price != nil {
			supplied := decimal.NewFromFloat(*item.Price).Round(2)
			if !supplied.Equal(entry.UnitPrice.Round(2)) {
				res.Diagnostics = append(res.Diagnostics, fmt.Sprintf(
					"item %s: model supplied price %s, catalog says %s; catalog price used",
					item.Code, supplied.StringFixed(2), entry.UnitPrice.StringFixed(2),
				))
			}
		}

		res.Items = append(res.Items, model.PricedLineItem{
			Code:        entry.Code,
			Name:        entry.Name,
			Description: item.Description,
			Quantity:    qty,
			UnitPrice:   entry.UnitPrice,
			LineTotal:   lineTotal,
		})
		res.Subtotal = res.Subtotal.Add(lineTotal)
	}

	res.Subtotal = res.Subtotal.Round(2)
	return res
}

// resolveQuantity uses the supplied quantity when it is a finite number
// greater than zero, otherwise the catalog's minimum billable quantity,
// defaulting to 1 when the catalog leaves it unset.
func resolveQuantity(supplied *float64, min decimal.Decimal) decimal.Decimal {
	if supplied != nil && !math.IsNaN(*supplied) && !math.IsInf(*supplied, 0) && *supplied > 0 {
		return decimal.NewFromFloat(*supplied)
	}
	if min.IsPositive() {
		return min
	}
	return decimal.NewFromInt(1)
}
