package tabular

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// candidateValue is the structured shape one LLM extraction call must
// return for a single cell candidate, reflected into the tool schema bound
// on every extraction request.
type candidateValue struct {
	Value         string  `json:"value" jsonschema:"required,description=The extracted value as it appears in the source text"`
	VerbatimQuote string  `json:"verbatim_quote,omitempty" jsonschema:"description=Exact quote from the source supporting this value"`
	SourcePage    int     `json:"source_page,omitempty" jsonschema:"description=Page number the value was found on"`
	SourceSection string  `json:"source_section,omitempty" jsonschema:"description=Section or clause identifier the value was found in"`
	Confidence    float64 `json:"confidence" jsonschema:"required,description=Confidence in [0,1] that this value is correct,minimum=0,maximum=1"`
}

// generateCandidateSchema builds the extract_cell tool's JSON schema from
// candidateValue, following the teacher's functiontool/schema.go
// reflect-then-flatten pattern (ADK-compatible object shape: type,
// properties, required — no $ref/$schema/$id noise).
func generateCandidateSchema() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&candidateValue{})

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tabular: marshal candidate schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tabular: unmarshal candidate schema: %w", err)
	}
	delete(raw, "$schema")
	delete(raw, "$id")

	if raw["type"] != "object" {
		return raw, nil
	}
	result := map[string]any{
		"type":       "object",
		"properties": raw["properties"],
	}
	if required, ok := raw["required"]; ok {
		result["required"] = required
	}
	return result, nil
}
