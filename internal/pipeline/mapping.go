package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/pkg/anthropic"
)

// mapSystemPrompt is the stage B system prompt. The catalog excerpt carries
// codes and names but never prices; pricing happens after the model.
const mapSystemPrompt = `You are an assistant for a home repair company. You receive repair findings
and a catalog of billable repair items. Match each finding to the single best
catalog code and draft the estimate skeleton.

Rules:
- Use only codes from the provided catalog. Never invent a code.
- A finding with no reasonable catalog match goes in "unmapped" with a short
  reason.
- Carry the finding's quantity through when it was given.
- Summarize the overall condition in one or two sentences.
- Record anything you had to assume while matching (quantities, which
  catalog variant applies) in the assumptions list.
- Never include prices, costs, or dollar amounts. Pricing is not your job.

Respond with only a JSON object in this shape:
{
  "summary": "one or two sentences describing the overall condition",
  "line_items": [{"code": "WH40", "description": "finding in plain words", "quantity": 1}],
  "unmapped": [{"phrase": "...", "reason": "..."}],
  "assumptions": ["..."]
}`

// mapResult is the parsed stage B output: the estimate skeleton before
// pricing.
type mapResult struct {
	Summary     string                 `json:"summary"`
	LineItems   []model.MappedLineItem `json:"line_items"`
	Unmapped    []model.UnmappedItem   `json:"unmapped"`
	Assumptions []string               `json:"assumptions"`
}

// runMap performs stage B: extracted findings plus a catalog shortlist in,
// catalog-coded line items out. Snapshot rules ride along as plain-text
// directives so operator guidance (preferred items, exclusions) reaches the
// mapping without code changes.
func (p *Pipeline) runMap(ctx context.Context, items []model.ExtractedItem, catalog []model.CatalogEntry, rules []model.RuleEntry) (*mapResult, anthropic.TokenUsage, error) {
	findingsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, anthropic.TokenUsage{}, &ModelOutputError{Stage: "map", Reason: "marshal findings", Err: err}
	}

	user := fmt.Sprintf("Catalog:\n%s%s\nFindings:\n%s",
		renderCatalog(catalog), renderRules(rules), findingsJSON)

	resp, err := p.model.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.cfg.Anthropic.MapModel,
		MaxTokens:   p.cfg.Anthropic.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(mapSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: zeroTemperature(),
	})
	if err != nil {
		return nil, anthropic.TokenUsage{}, err
	}

	raw := []byte(cleanJSON(resp.Text()))
	if err := validateAgainstSchema(mapSchema, raw); err != nil {
		return nil, resp.Usage, &ModelOutputError{Stage: "map", Reason: "output failed schema validation", Err: err}
	}

	var out mapResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.Usage, &ModelOutputError{Stage: "map", Reason: "malformed JSON", Err: err}
	}
	return &out, resp.Usage, nil
}

// renderRules formats rule directives for the prompt, skipping the tax rate
// which is applied numerically after pricing and must not reach the model.
func renderRules(rules []model.RuleEntry) string {
	var b strings.Builder
	for _, r := range rules {
		if strings.EqualFold(strings.TrimSpace(r.Key), model.TaxRateRuleKey) {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("\nBusiness rules:\n")
		}
		b.WriteString("- ")
		b.WriteString(r.Key)
		b.WriteString(": ")
		b.WriteString(r.Value)
		b.WriteString("\n")
	}
	return b.String()
}

// renderCatalog formats the shortlist one entry per line: code, name, unit,
// minimum billable quantity. Prices are deliberately absent.
func renderCatalog(entries []model.CatalogEntry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Code)
		b.WriteString(" | ")
		b.WriteString(e.Name)
		if e.Unit != "" {
			b.WriteString(" | per ")
			b.WriteString(e.Unit)
		}
		if e.MinQuantity.IsPositive() {
			b.WriteString(" | min qty ")
			b.WriteString(e.MinQuantity.String())
		}
		if e.Notes != "" {
			b.WriteString(" | ")
			b.WriteString(e.Notes)
		}
		b.WriteString("\n")
	}
	return b.String()
}
