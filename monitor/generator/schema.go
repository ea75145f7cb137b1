package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema constrains the generated monitoring description.
const documentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["controller", "application", "generated_at", "tiers"],
	"properties": {
		"controller": {"type": "string", "minLength": 1},
		"application": {"type": "string", "minLength": 1},
		"generated_at": {"type": "string"},
		"tiers": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "nodes", "metric_paths"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"agent_type": {"type": "string"},
					"nodes": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["name"],
							"properties": {
								"name": {"type": "string", "minLength": 1},
								"machine": {"type": "string"}
							}
						}
					},
					"metric_paths": {
						"type": "array",
						"minItems": 1,
						"items": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}
}`

// ValidateDocument checks a document against the embedded JSON schema.
func ValidateDocument(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document for validation: %w", err)
	}
	return ValidateJSON(data)
}

// ValidateJSON checks raw JSON against the embedded schema, e.g. for
// documents edited by hand after generation.
func ValidateJSON(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("document does not match schema: %s", strings.Join(problems, "; "))
	}

	return nil
}
