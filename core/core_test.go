package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlural(t *testing.T) {
	assert.Equal(t, "customers", Plural("customer"))
	assert.Equal(t, "companies", Plural("company"))
	assert.Equal(t, "statuses", Plural("status"))
}

func TestCapitalWord(t *testing.T) {
	assert.Equal(t, "StockEntry", CapitalWord("stock_entry"))
	assert.Equal(t, "User", CapitalWord("user"))
	assert.Equal(t, "PurchaseOrderLine", CapitalWord("purchase_order_line"))
}

func TestHeaderConversion(t *testing.T) {
	assert.Equal(t, "Content-Type", PropertyNameToCanonicalHeader("content_type"))
	assert.Equal(t, "content_type", CanonicalHeaderToPropertyName("Content-Type"))
}

func TestOperationUnmarshal(t *testing.T) {
	var op Operation
	assert.NoError(t, json.Unmarshal([]byte(`"insert"`), &op))
	assert.Equal(t, OperationInsert, op)
	assert.Error(t, json.Unmarshal([]byte(`"upsert"`), &op))
}

func TestValueTypeUnmarshal(t *testing.T) {
	var v ValueType
	assert.NoError(t, json.Unmarshal([]byte(`"decimal"`), &v))
	assert.Equal(t, ValueDecimal, v)
	assert.Error(t, json.Unmarshal([]byte(`"money"`), &v))
}

func TestValueTypeColumnType(t *testing.T) {
	assert.Equal(t, "NUMERIC", ValueDecimal.ColumnType())
	assert.Equal(t, "CHAR(26)", ValueRelated.ColumnType())
	assert.Equal(t, "JSONB", ValueJSON.ColumnType())
}

func TestValueTypeLookups(t *testing.T) {
	assert.True(t, ValueText.HasLookup(LookupContains))
	assert.False(t, ValueText.HasLookup(LookupBetween))
	assert.True(t, ValueInteger.HasLookup(LookupBetween))
	assert.False(t, ValueInteger.HasLookup(LookupILike))
	assert.True(t, ValueRelated.HasLookup(LookupIn))
	assert.Empty(t, ValueJSON.Lookups())
}
