/*Package schema generates the JSON schemas that drive the browser
client.

For every mapped resource the service publishes one schema per variant:
insert and update describe the writable payload of the form views,
select describes a full row of the detail view and list describes the
columns and permitted filter lookups of the list view. The browser
renders its forms and filter controls from these documents instead of
hardcoding anything about the resources.
*/
package schema

import (
	"fmt"
	"sort"

	"github.com/notorm-tech/un0/core"
)

// Variant selects which schema of a resource is generated.
type Variant string

// all schema variants
const (
	VariantInsert Variant = "insert"
	VariantUpdate Variant = "update"
	VariantSelect Variant = "select"
	VariantList   Variant = "list"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	switch v {
	case VariantInsert, VariantUpdate, VariantSelect, VariantList:
		return true
	}
	return false
}

// Property describes one mapped column for schema generation.
type Property struct {
	Name        string
	Type        core.ValueType
	Description string
	Required    bool
	// EnumValues are the permitted values for enum properties
	EnumValues []string
	// Related names the referenced resource for related properties
	Related string
	// Searchable properties appear in the list variant's filter section
	Searchable bool
}

// ulidPattern matches Crockford base32 ULIDs as minted by the database
const ulidPattern = "^[0-9A-HJKMNP-TV-Z]{26}$"

// system columns present on every mapped row, never writable
var systemProperties = []Property{
	{Name: "id", Type: core.ValueRelated, Description: "Primary key"},
	{Name: "is_active", Type: core.ValueBoolean},
	{Name: "is_deleted", Type: core.ValueBoolean},
	{Name: "created_at", Type: core.ValueDatetime},
	{Name: "owner_id", Type: core.ValueRelated},
	{Name: "modified_at", Type: core.ValueDatetime},
	{Name: "modified_by_id", Type: core.ValueRelated},
	{Name: "deleted_at", Type: core.ValueDatetime},
	{Name: "deleted_by_id", Type: core.ValueRelated},
}

// Generate builds the JSON schema document of a resource variant. The
// baseID prefixes the document's $id, e.g.
// "https://un0.example.com/schemas".
func Generate(baseID, resource string, properties []Property, variant Variant) (map[string]any, error) {
	if !variant.Valid() {
		return nil, fmt.Errorf("%s is not a valid schema variant", variant)
	}

	doc := map[string]any{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"$id":         SchemaID(baseID, resource, variant),
		"title":       core.CapitalWord(resource),
		"type":        "object",
		"x-un0-kind":  string(variant),
		"description": fmt.Sprintf("%s variant of %s", variant, resource),
	}

	props := map[string]any{}
	var required []string

	for _, p := range properties {
		props[p.Name] = propertySchema(p)
		if p.Required && variant == VariantInsert {
			required = append(required, p.Name)
		}
	}

	switch variant {
	case VariantInsert, VariantUpdate:
		// writable payloads are strict
		doc["additionalProperties"] = false
	case VariantSelect, VariantList:
		for _, p := range systemProperties {
			props[p.Name] = propertySchema(p)
		}
	}

	if variant == VariantList {
		filters := map[string]any{}
		for _, p := range properties {
			if !p.Searchable {
				continue
			}
			lookups := p.Type.Lookups()
			if len(lookups) == 0 {
				continue
			}
			names := make([]string, len(lookups))
			for i, l := range lookups {
				names[i] = string(l)
			}
			filters[p.Name] = names
		}
		doc["x-un0-filters"] = filters

		var order []string
		for name := range props {
			order = append(order, name)
		}
		sort.Strings(order)
		doc["x-un0-columns"] = order
	}

	doc["properties"] = props
	if len(required) > 0 {
		sort.Strings(required)
		doc["required"] = required
	}
	return doc, nil
}

// SchemaID returns the $id of a resource variant schema.
func SchemaID(baseID, resource string, variant Variant) string {
	return fmt.Sprintf("%s/%s/%s.json", baseID, resource, variant)
}

func propertySchema(p Property) map[string]any {
	s := map[string]any{
		"x-un0-value-type": string(p.Type),
	}
	if p.Description != "" {
		s["description"] = p.Description
	}

	switch p.Type {
	case core.ValueText:
		s["type"] = "string"
		s["maxLength"] = 255
	case core.ValueLongText:
		s["type"] = "string"
	case core.ValueInteger:
		s["type"] = "integer"
	case core.ValueDecimal:
		s["type"] = "number"
	case core.ValueBoolean:
		s["type"] = "boolean"
	case core.ValueDate:
		s["type"] = "string"
		s["format"] = "date"
	case core.ValueTime:
		s["type"] = "string"
		s["format"] = "time"
	case core.ValueDatetime:
		s["type"] = "string"
		s["format"] = "date-time"
	case core.ValueEnum:
		s["type"] = "string"
		if len(p.EnumValues) > 0 {
			s["enum"] = p.EnumValues
		}
	case core.ValueJSON:
		// any JSON value
	case core.ValueRelated:
		s["type"] = "string"
		s["pattern"] = ulidPattern
		if p.Related != "" {
			s["x-un0-related"] = p.Related
		}
	}
	return s
}
