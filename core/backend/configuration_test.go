package backend

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorm-tech/un0/core"
	"github.com/notorm-tech/un0/core/ddl"
)

const ledgerConfiguration = `{
	"resources": [
		{
			"resource": "customer",
			"properties": [
				{"name": "name", "value_type": "text", "required": true, "searchable": true},
				{"name": "rating", "value_type": "enum", "enum_values": ["good", "bad"]}
			]
		},
		{
			"resource": "sales_order",
			"audit": "history",
			"properties": [
				{"name": "order_no", "value_type": "text", "required": true, "unique": true},
				{"name": "total", "value_type": "decimal", "searchable": true}
			],
			"references": [
				{"resource": "customer", "required": true}
			]
		}
	]
}`

func parseConfiguration(t *testing.T, raw string) Configuration {
	var config Configuration
	require.NoError(t, json.Unmarshal([]byte(raw), &config))
	return config
}

func TestConfigurationValidate(t *testing.T) {
	config := parseConfiguration(t, ledgerConfiguration)
	assert.NoError(t, config.Validate())
}

func TestConfigurationDefaults(t *testing.T) {
	config := parseConfiguration(t, ledgerConfiguration)
	rc := config.Resources[0]
	assert.Equal(t, ddl.PolicyTenant, rc.policy())
	assert.Equal(t, ddl.AuditRecordVersion, rc.auditMode())
	assert.True(t, rc.HasVertex())

	order := config.Resources[1]
	assert.Equal(t, ddl.AuditHistory, order.auditMode())
	require.Len(t, order.References, 1)
	assert.Equal(t, "customer_id", order.References[0].Column())
	assert.Equal(t, "HAS_CUSTOMER", order.References[0].EdgeLabel())
}

func TestConfigurationValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		config Configuration
	}{
		{"duplicate resource", Configuration{Resources: []ResourceConfiguration{
			{Resource: "customer"}, {Resource: "customer"},
		}}},
		{"reserved column", Configuration{Resources: []ResourceConfiguration{
			{Resource: "customer", Properties: []PropertyConfiguration{
				{Name: "tenant_id", Type: core.ValueText},
			}},
		}}},
		{"enum without values", Configuration{Resources: []ResourceConfiguration{
			{Resource: "customer", Properties: []PropertyConfiguration{
				{Name: "rating", Type: core.ValueEnum},
			}},
		}}},
		{"related as property", Configuration{Resources: []ResourceConfiguration{
			{Resource: "customer", Properties: []PropertyConfiguration{
				{Name: "vendor_id", Type: core.ValueRelated},
			}},
		}}},
		{"unknown reference", Configuration{Resources: []ResourceConfiguration{
			{Resource: "sales_order", References: []ReferenceConfiguration{
				{Resource: "customer"},
			}},
		}}},
		{"duplicate column via reference", Configuration{Resources: []ResourceConfiguration{
			{Resource: "customer"},
			{Resource: "sales_order",
				Properties: []PropertyConfiguration{{Name: "customer_id", Type: core.ValueText}},
				References: []ReferenceConfiguration{{Resource: "customer"}},
			},
		}}},
		{"bad rls policy", Configuration{Resources: []ResourceConfiguration{
			{Resource: "customer", RLSPolicy: ddl.PolicyClass("everybody")},
		}}},
		{"bad audit mode", Configuration{Resources: []ResourceConfiguration{
			{Resource: "customer", Audit: ddl.AuditMode("paper")},
		}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Error(t, c.config.Validate())
		})
	}
}

func TestSchemaProperties(t *testing.T) {
	config := parseConfiguration(t, ledgerConfiguration)
	properties := config.Resources[1].schemaProperties()
	require.Len(t, properties, 3)
	assert.Equal(t, "customer_id", properties[2].Name)
	assert.Equal(t, core.ValueRelated, properties[2].Type)
	assert.Equal(t, "customer", properties[2].Related)
	assert.True(t, properties[2].Required)
}

func TestFilterFields(t *testing.T) {
	config := parseConfiguration(t, ledgerConfiguration)

	fields := config.Resources[0].filterFields()
	require.Len(t, fields, 1) // rating is not searchable
	assert.Equal(t, "name", fields[0].Accessor)
	assert.Equal(t, "Name", fields[0].Label)

	fields = config.Resources[1].filterFields()
	require.Len(t, fields, 2) // total plus the reference
	assert.Equal(t, "total", fields[0].Accessor)
	assert.Equal(t, "customer_id", fields[1].Accessor)
	assert.Equal(t, core.ValueRelated, fields[1].Type)
}
