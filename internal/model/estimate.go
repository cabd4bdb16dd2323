package model

import "github.com/shopspring/decimal"

// ExtractedItem is a raw repair finding from the first model stage.
// Carries no price by contract.
type ExtractedItem struct {
	Phrase   string   `json:"phrase"`
	Quantity *float64 `json:"quantity,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// MappedLineItem is a catalog-coded item from the second model stage.
// Price is never trusted from this shape: the field exists only so that a
// model attempting to supply one is caught and reported by the pricing
// engine rather than silently dropped.
type MappedLineItem struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Price       *float64 `json:"price,omitempty"`
}

// PricedLineItem is the only line-item shape that reaches the customer.
// Unit price comes strictly from the catalog.
type PricedLineItem struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// UnmappedItem records an item that could not be priced, with the reason.
type UnmappedItem struct {
	Phrase string `json:"phrase"`
	Reason string `json:"reason"`
}

// Estimate is the final computed result persisted on the job. Line items
// keep pricing order; when a trip fee applies it rides as the last line and
// Subtotal includes it, so Total = Subtotal + TaxAmount. All currency
// fields are non-negative, 2 decimals.
type Estimate struct {
	Summary     string           `json:"summary,omitempty"`
	LineItems   []PricedLineItem `json:"line_items"`
	Subtotal    decimal.Decimal  `json:"subtotal"`
	TripFee     decimal.Decimal  `json:"trip_fee"`
	TaxRate     decimal.Decimal  `json:"tax_rate"`
	TaxAmount   decimal.Decimal  `json:"tax_amount"`
	Total       decimal.Decimal  `json:"total"`
	Assumptions []string         `json:"assumptions,omitempty"`
	Unmapped    []UnmappedItem   `json:"unmapped_items,omitempty"`
}
