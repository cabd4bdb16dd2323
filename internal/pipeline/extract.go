package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/pkg/anthropic"
)

// extractSystemPrompt is the stage A system prompt. It is identical across
// jobs so the prompt cache stays warm between invocations.
const extractSystemPrompt = `You are an assistant for a home repair company. You read home inspection
report text and list every repair or replacement finding it describes.

Rules:
- Report each finding as a short phrase in plain language, close to the
  report's own wording.
- Include a numeric quantity only when the report states or clearly implies
  one. Omit it otherwise.
- Never invent findings that are not in the report.
- Never include prices, costs, or dollar amounts of any kind.
- Put useful context for a finding in its note.

Respond with only a JSON object in this shape:
{
  "items": [{"phrase": "...", "quantity": 2, "note": "optional context"}]
}`

// extractResult is the parsed stage A output.
type extractResult struct {
	Items []model.ExtractedItem `json:"items"`
}

// runExtract performs stage A: inspection text in, raw repair findings out.
func (p *Pipeline) runExtract(ctx context.Context, job *model.Job, docText string) (*extractResult, anthropic.TokenUsage, error) {
	user := fmt.Sprintf("Customer: %s\nCustomer notes: %s\n\nInspection report text:\n%s",
		job.CustomerName, job.Notes, docText)

	resp, err := p.model.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.cfg.Anthropic.ExtractModel,
		MaxTokens:   p.cfg.Anthropic.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(extractSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: zeroTemperature(),
	})
	if err != nil {
		return nil, anthropic.TokenUsage{}, err
	}

	raw := []byte(cleanJSON(resp.Text()))
	if err := validateAgainstSchema(extractSchema, raw); err != nil {
		return nil, resp.Usage, &ModelOutputError{Stage: "extract", Reason: "output failed schema validation", Err: err}
	}

	var out extractResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.Usage, &ModelOutputError{Stage: "extract", Reason: "malformed JSON", Err: err}
	}
	return &out, resp.Usage, nil
}

func zeroTemperature() *float64 {
	t := 0.0
	return &t
}
