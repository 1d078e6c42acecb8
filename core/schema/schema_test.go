package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorm-tech/un0/core"
)

const testBaseID = "https://oppi.example.com/schemas"

var customerProperties = []Property{
	{Name: "name", Type: core.ValueText, Required: true, Searchable: true},
	{Name: "credit_limit", Type: core.ValueDecimal, Searchable: true},
	{Name: "status", Type: core.ValueEnum, EnumValues: []string{"active", "blocked"}, Searchable: true},
	{Name: "notes", Type: core.ValueJSON},
	{Name: "warehouse_id", Type: core.ValueRelated, Related: "warehouse"},
}

func TestGenerateInsert(t *testing.T) {
	doc, err := Generate(testBaseID, "customer", customerProperties, VariantInsert)
	require.NoError(t, err)

	assert.Equal(t, testBaseID+"/customer/insert.json", doc["$id"])
	assert.Equal(t, "Customer", doc["title"])
	assert.Equal(t, false, doc["additionalProperties"])
	assert.Equal(t, []string{"name"}, doc["required"])

	props := doc["properties"].(map[string]any)
	assert.Len(t, props, len(customerProperties))
	// no system columns in the writable variants
	assert.NotContains(t, props, "id")
	assert.NotContains(t, props, "created_at")

	name := props["name"].(map[string]any)
	assert.Equal(t, "string", name["type"])
	assert.Equal(t, 255, name["maxLength"])
	assert.Equal(t, "text", name["x-un0-value-type"])

	status := props["status"].(map[string]any)
	assert.Equal(t, []string{"active", "blocked"}, status["enum"])

	related := props["warehouse_id"].(map[string]any)
	assert.Equal(t, ulidPattern, related["pattern"])
	assert.Equal(t, "warehouse", related["x-un0-related"])
}

func TestGenerateUpdateHasNoRequired(t *testing.T) {
	doc, err := Generate(testBaseID, "customer", customerProperties, VariantUpdate)
	require.NoError(t, err)
	assert.NotContains(t, doc, "required")
}

func TestGenerateSelectIncludesSystemColumns(t *testing.T) {
	doc, err := Generate(testBaseID, "customer", customerProperties, VariantSelect)
	require.NoError(t, err)

	props := doc["properties"].(map[string]any)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "created_at")
	assert.Contains(t, props, "modified_by_id")
	assert.Contains(t, props, "deleted_at")
	assert.NotContains(t, doc, "additionalProperties")
}

func TestGenerateListFilters(t *testing.T) {
	doc, err := Generate(testBaseID, "customer", customerProperties, VariantList)
	require.NoError(t, err)

	filters := doc["x-un0-filters"].(map[string]any)
	assert.Contains(t, filters, "name")
	assert.Contains(t, filters, "credit_limit")
	assert.Contains(t, filters, "status")
	// not searchable, and json would not be filterable anyway
	assert.NotContains(t, filters, "notes")
	assert.NotContains(t, filters, "warehouse_id")

	lookups := filters["credit_limit"].([]string)
	assert.Contains(t, lookups, "between")
	assert.Contains(t, lookups, "less_than")
	assert.NotContains(t, lookups, "contains")

	columns := doc["x-un0-columns"].([]string)
	assert.Contains(t, columns, "name")
	assert.Contains(t, columns, "is_deleted")
}

func TestGenerateRejectsUnknownVariant(t *testing.T) {
	_, err := Generate(testBaseID, "customer", customerProperties, Variant("report"))
	assert.Error(t, err)
}

func TestValidator(t *testing.T) {
	insert, err := Generate(testBaseID, "customer", customerProperties, VariantInsert)
	require.NoError(t, err)
	update, err := Generate(testBaseID, "customer", customerProperties, VariantUpdate)
	require.NoError(t, err)

	v, err := NewValidator([]map[string]any{insert, update})
	require.NoError(t, err)

	insertID := SchemaID(testBaseID, "customer", VariantInsert)
	assert.True(t, v.HasSchema(insertID))
	assert.False(t, v.HasSchema(SchemaID(testBaseID, "customer", VariantSelect)))

	err = v.ValidateBytes([]byte(`{"name":"ACME","credit_limit":1000.0,"status":"active"}`), insertID)
	assert.NoError(t, err)

	// missing required property
	err = v.ValidateBytes([]byte(`{"credit_limit":1000.0}`), insertID)
	assert.Error(t, err)

	// unknown property
	err = v.ValidateBytes([]byte(`{"name":"ACME","color":"red"}`), insertID)
	assert.Error(t, err)

	// enum violation
	err = v.ValidateBytes([]byte(`{"name":"ACME","status":"sleeping"}`), insertID)
	assert.Error(t, err)

	// bad ULID
	err = v.ValidateBytes([]byte(`{"name":"ACME","warehouse_id":"not-a-ulid"}`), insertID)
	assert.Error(t, err)

	err = v.ValidateStruct(map[string]any{"name": "ACME"}, insertID)
	assert.NoError(t, err)

	err = v.ValidateBytes([]byte(`{}`), "unknown")
	assert.Error(t, err)
}
