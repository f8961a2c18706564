package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Content files are author-edited JSON; validate their shape before the
// simulation depends on it.

var kbSchema = jsonschema.MustCompileString("kb-articles.json", `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "title", "content"],
		"properties": {
			"id":      {"type": "string", "minLength": 1},
			"title":   {"type": "string", "minLength": 1},
			"content": {"type": "string", "minLength": 1}
		}
	}
}`)

var templateSchema = jsonschema.MustCompileString("ticket-templates.json", `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["title", "desc"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"desc":  {"type": "string", "minLength": 1}
		}
	}
}`)

// parseValidated checks raw against the schema, then unmarshals it into v.
func parseValidated(schema *jsonschema.Schema, raw []byte, v any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return json.Unmarshal(raw, v)
}
