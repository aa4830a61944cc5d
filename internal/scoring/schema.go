package scoring

import "github.com/xeipuuv/gojsonschema"

// Per-section structural rules, expressed as JSON Schemas. A section counts
// toward the validity score only when its content satisfies its schema.
var sectionSchemas = map[string]string{
	"summary": `{
		"type": "string",
		"minLength": 10
	}`,
	"responsibilities": `{
		"type": "array",
		"minItems": 1,
		"items": {"type": "string", "minLength": 1}
	}`,
	"requirements": `{
		"type": "array",
		"minItems": 1,
		"items": {
			"type": "object",
			"required": ["description"],
			"properties": {
				"description": {"type": "string", "minLength": 1},
				"level": {"type": "string"}
			}
		}
	}`,
	"skills": `{
		"type": "array",
		"minItems": 1,
		"items": {
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"level": {"type": "string"}
			}
		}
	}`,
	"qualifications": `{
		"type": "object",
		"anyOf": [
			{"required": ["education"], "properties": {"education": {"type": "array", "minItems": 1}}},
			{"required": ["experience"], "properties": {"experience": {"type": "array", "minItems": 1}}},
			{"required": ["certifications"], "properties": {"certifications": {"type": "array", "minItems": 1}}}
		]
	}`,
}

// sectionValid checks one section's JSON content against its structural schema
func sectionValid(section string, contentJSON string) bool {
	schema, ok := sectionSchemas[section]
	if !ok {
		return false
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(contentJSON),
	)
	if err != nil {
		return false
	}
	return result.Valid()
}
