package schema

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Validator validates JSON payloads against the generated schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles the given schema documents. Each document must
// carry an $id, which is the key for validation.
func NewValidator(documents []map[string]any) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, doc := range documents {
		id, ok := doc["$id"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("schema does not contain $id")
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal schema %s: %w", id, err)
		}
		schema, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", id, err)
		}
		v.schemas[id] = schema
	}
	return v, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemas[schemaID]
	return ok
}

// ValidateStruct validates a Go value against schemaID. A nil return
// means the value is valid.
func (v *Validator) ValidateStruct(value any, schemaID string) error {
	return v.validate(gojsonschema.NewGoLoader(value), schemaID)
}

// ValidateBytes validates raw JSON against schemaID. A nil return
// means the document is valid.
func (v *Validator) ValidateBytes(raw []byte, schemaID string) error {
	return v.validate(gojsonschema.NewBytesLoader(raw), schemaID)
}

func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) error {
	schema, ok := v.schemas[schemaID]
	if !ok {
		return fmt.Errorf("there is no schema %s", schemaID)
	}
	result, err := schema.Validate(loader)
	if err != nil {
		return fmt.Errorf("cannot validate with schema %s: %w", schemaID, err)
	}
	if !result.Valid() {
		msg := "the document is not valid:\n"
		for _, e := range result.Errors() {
			msg += fmt.Sprintf("- %s\n", e)
		}
		return errors.New(msg)
	}
	return nil
}
