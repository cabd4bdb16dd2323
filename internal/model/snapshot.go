package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TaxRateRuleKey is the rule directive holding the tax rate.
const TaxRateRuleKey = "tax_rate"

// CatalogEntry is one authoritative billable repair item.
type CatalogEntry struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	Notes       string          `json:"notes,omitempty"`
}

// AliasEntry maps a free-text phrase to a catalog code.
type AliasEntry struct {
	Phrase string `json:"phrase"`
	Code   string `json:"code"`
}

// RuleEntry is a keyed text directive with a priority for tie-breaking.
// Lower priority value wins when duplicates exist.
type RuleEntry struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Priority int    `json:"priority"`
}

// TripFeePolicy is the fixed surcharge policy. Only BaseFee is consulted by
// the assembler; the surcharge fields are carried for operator tooling.
type TripFeePolicy struct {
	Label         string          `json:"label"`
	BaseFee       decimal.Decimal `json:"base_fee"`
	PerMile       decimal.Decimal `json:"per_mile,omitempty"`
	AfterHoursFee decimal.Decimal `json:"after_hours_fee,omitempty"`
}

// EmailTemplate holds the customer-facing estimate email.
type EmailTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Snapshot is one immutable, versioned configuration bundle. Exactly one
// snapshot is active at a time; the worker loads it fresh each invocation.
type Snapshot struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	Catalog  []CatalogEntry `json:"catalog"`
	Aliases  []AliasEntry   `json:"aliases"`
	Rules    []RuleEntry    `json:"rules"`
	TripFee  *TripFeePolicy `json:"trip_fee,omitempty"`
	Template *EmailTemplate `json:"template,omitempty"`

	byCode  map[string]CatalogEntry
	aliases []AliasEntry // lowercased phrases, longest first
}

// BuildIndexes derives the lookup structures. Must be called once after the
// snapshot tables are loaded and before Entry/AliasMatch.
func (s *Snapshot) BuildIndexes() {
	s.byCode = make(map[string]CatalogEntry, len(s.Catalog))
	for _, e := range s.Catalog {
		s.byCode[e.Code] = e
	}

	s.aliases = make([]AliasEntry, 0, len(s.Aliases))
	for _, a := range s.Aliases {
		phrase := strings.ToLower(strings.TrimSpace(a.Phrase))
		if phrase == "" {
			continue
		}
		s.aliases = append(s.aliases, AliasEntry{Phrase: phrase, Code: a.Code})
	}
	// Longest phrase first so specific aliases beat generic ones.
	sort.SliceStable(s.aliases, func(i, j int) bool {
		return len(s.aliases[i].Phrase) > len(s.aliases[j].Phrase)
	})
}

// Entry looks up a catalog entry by code.
func (s *Snapshot) Entry(code string) (CatalogEntry, bool) {
	e, ok := s.byCode[code]
	return e, ok
}

// AliasMatch returns the catalog code of the longest alias phrase contained
// in the given text (case-insensitive substring containment).
func (s *Snapshot) AliasMatch(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, a := range s.aliases {
		if strings.Contains(lower, a.Phrase) {
			return a.Code, true
		}
	}
	return "", false
}

// TaxRate resolves the tax-rate directive from the rule table. A value with
// a percent sign or greater than 1 is interpreted as a percentage; otherwise
// it is an already-normalized fraction. Absent or non-numeric values fall
// back to the supplied default. The dual interpretation accommodates
// operator-entered data and must be preserved exactly.
func (s *Snapshot) TaxRate(fallback decimal.Decimal) decimal.Decimal {
	var candidates []RuleEntry
	for _, r := range s.Rules {
		if strings.EqualFold(strings.TrimSpace(r.Key), TaxRateRuleKey) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return fallback
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	raw := strings.TrimSpace(candidates[0].Value)
	percent := strings.Contains(raw, "%")
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	if percent || rate.GreaterThan(decimal.NewFromInt(1)) {
		rate = rate.Div(decimal.NewFromInt(100))
	}
	return rate
}
