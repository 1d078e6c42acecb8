package core

import (
	"encoding/json"
	"fmt"
)

// ValueType classifies a mapped column. It decides the generated DDL
// column type, the permitted filter lookups and how the browser renders
// the form widget for the property.
type ValueType string

// all supported value types
const (
	ValueText     ValueType = "text"
	ValueLongText ValueType = "long_text"
	ValueInteger  ValueType = "integer"
	ValueDecimal  ValueType = "decimal"
	ValueBoolean  ValueType = "boolean"
	ValueDate     ValueType = "date"
	ValueTime     ValueType = "time"
	ValueDatetime ValueType = "datetime"
	ValueEnum     ValueType = "enum"
	ValueJSON     ValueType = "json"
	ValueRelated  ValueType = "related"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (v *ValueType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = ValueType(s)
	switch *v {
	case ValueText, ValueLongText, ValueInteger, ValueDecimal, ValueBoolean,
		ValueDate, ValueTime, ValueDatetime, ValueEnum, ValueJSON, ValueRelated:
		return nil
	default:
		return fmt.Errorf("%s is not a valid ValueType", s)
	}
}

// ColumnType returns the postgres column type for the value type.
func (v ValueType) ColumnType() string {
	switch v {
	case ValueText, ValueEnum:
		return "VARCHAR(255)"
	case ValueLongText:
		return "TEXT"
	case ValueInteger:
		return "BIGINT"
	case ValueDecimal:
		return "NUMERIC"
	case ValueBoolean:
		return "BOOLEAN"
	case ValueDate:
		return "DATE"
	case ValueTime:
		return "TIME"
	case ValueDatetime:
		return "TIMESTAMP WITH TIME ZONE"
	case ValueJSON:
		return "JSONB"
	case ValueRelated:
		return "CHAR(26)"
	}
	return "VARCHAR(255)"
}

// Lookup is a filter lookup operator
type Lookup string

// all supported lookups
const (
	LookupEqual              Lookup = "equal"
	LookupNotEqual           Lookup = "not_equal"
	LookupGreaterThan        Lookup = "greater_than"
	LookupGreaterThanOrEqual Lookup = "greater_than_or_equal"
	LookupLessThan           Lookup = "less_than"
	LookupLessThanOrEqual    Lookup = "less_than_or_equal"
	LookupBetween            Lookup = "between"
	LookupIn                 Lookup = "in"
	LookupNotIn              Lookup = "not_in"
	LookupNull               Lookup = "null"
	LookupNotNull            Lookup = "not_null"
	LookupLike               Lookup = "like"
	LookupILike              Lookup = "ilike"
	LookupNotLike            Lookup = "not_like"
	LookupNotILike           Lookup = "not_ilike"
	LookupStartsWith         Lookup = "starts_with"
	LookupEndsWith           Lookup = "ends_with"
	LookupContains           Lookup = "contains"
)

// lookup sets by value type family
var (
	selectLookups = []Lookup{
		LookupEqual, LookupNotEqual, LookupNull, LookupNotNull, LookupIn, LookupNotIn,
	}
	numericLookups = []Lookup{
		LookupEqual, LookupNotEqual, LookupBetween,
		LookupGreaterThan, LookupGreaterThanOrEqual,
		LookupLessThan, LookupLessThanOrEqual,
		LookupNull, LookupNotNull, LookupIn, LookupNotIn,
	}
	stringLookups = []Lookup{
		LookupEqual, LookupNotEqual,
		LookupLike, LookupNotLike, LookupILike, LookupNotILike,
		LookupStartsWith, LookupEndsWith, LookupContains,
		LookupNull, LookupNotNull,
	}
	booleanLookups = []Lookup{LookupEqual, LookupNotEqual, LookupNull, LookupNotNull}
)

// Lookups returns the permitted filter lookups for the value type.
func (v ValueType) Lookups() []Lookup {
	switch v {
	case ValueText, ValueLongText:
		return stringLookups
	case ValueInteger, ValueDecimal, ValueDate, ValueTime, ValueDatetime:
		return numericLookups
	case ValueBoolean:
		return booleanLookups
	case ValueEnum, ValueRelated:
		return selectLookups
	}
	// json columns are not filterable
	return nil
}

// HasLookup returns true if the lookup is permitted for the value type.
func (v ValueType) HasLookup(lookup Lookup) bool {
	for _, l := range v.Lookups() {
		if l == lookup {
			return true
		}
	}
	return false
}
