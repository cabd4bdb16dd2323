package pipeline

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// extractSchema validates stage A output: repair findings in the customer's
// own words, never coded and never priced.
var extractSchema = map[string]any{
	"type":     "object",
	"required": []any{"items"},
	"properties": map[string]any{
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"phrase"},
				"properties": map[string]any{
					"phrase":   map[string]any{"type": "string", "minLength": 1},
					"quantity": map[string]any{"type": "number"},
					"note":     map[string]any{"type": "string"},
				},
			},
		},
	},
}

// mapSchema validates stage B output. There is deliberately no price
// property: the schema tolerates extra fields so a model that volunteers a
// price is caught downstream by the pricing engine instead of failing the
// whole response here.
var mapSchema = map[string]any{
	"type":     "object",
	"required": []any{"line_items"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"line_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"code"},
				"properties": map[string]any{
					"code":        map[string]any{"type": "string", "minLength": 1},
					"description": map[string]any{"type": "string"},
					"quantity":    map[string]any{"type": "number"},
				},
			},
		},
		"unmapped": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"phrase"},
				"properties": map[string]any{
					"phrase": map[string]any{"type": "string"},
					"reason": map[string]any{"type": "string"},
				},
			},
		},
		"assumptions": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

// validateAgainstSchema validates raw JSON against an inline schema map.
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return eris.Wrap(err, "marshal schema")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return eris.Wrap(err, "add schema resource")
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return eris.Wrap(err, "compile schema")
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "unmarshal output")
	}
	return schema.Validate(v)
}

// cleanJSON strips markdown code fences that models sometimes wrap around
// JSON output, returning the bare payload.
func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
