package pipeline

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/internal/pricing"
)

// assemble combines priced line items into the final estimate. The trip fee
// is appended as one synthetic line (code and name from the reserved catalog
// entry, amount from the policy) and counts toward the subtotal; tax applies
// to the post-fee subtotal. Total always equals subtotal plus tax to the
// cent.
func (p *Pipeline) assemble(priced pricing.Result, snap *model.Snapshot) (*model.Estimate, []string) {
	var diags []string
	items := priced.Items

	tripFee := decimal.Zero
	if snap.TripFee != nil {
		if entry, ok := snap.Entry(p.cfg.Pipeline.TripFeeCode); ok {
			tripFee = snap.TripFee.BaseFee.Round(2)
			items = append(items, model.PricedLineItem{
				Code:      entry.Code,
				Name:      entry.Name,
				Quantity:  decimal.NewFromInt(1),
				UnitPrice: tripFee,
				LineTotal: tripFee,
			})
		} else {
			diags = append(diags, fmt.Sprintf(
				"trip fee policy %q configured but catalog has no %s entry; fee skipped",
				snap.TripFee.Label, p.cfg.Pipeline.TripFeeCode,
			))
		}
	}

	rate := snap.TaxRate(decimal.NewFromFloat(p.cfg.Pipeline.DefaultTaxRate))
	subtotal := priced.Subtotal.Add(tripFee)
	tax := subtotal.Mul(rate).Round(2)
	total := subtotal.Add(tax)

	return &model.Estimate{
		LineItems: items,
		Subtotal:  subtotal,
		TripFee:   tripFee,
		TaxRate:   rate,
		TaxAmount: tax,
		Total:     total,
		Unmapped:  priced.Unmapped,
	}, diags
}
