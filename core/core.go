/*Package core provides the shared vocabulary of the un0 object layer:
database operations, value types and the lookup sets derived from them.
*/
package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operation represents a database operation on a mapped table,
// one of Select, Insert, Update, Delete, List, Truncate
type Operation string

// all supported database operations
const (
	OperationSelect   Operation = "select"
	OperationInsert   Operation = "insert"
	OperationUpdate   Operation = "update"
	OperationDelete   Operation = "delete"
	OperationList     Operation = "list"
	OperationTruncate Operation = "truncate"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationSelect, OperationInsert, OperationUpdate, OperationDelete, OperationList, OperationTruncate:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Operation", s)
	}
}

// Plural returns the plural form of the passed singular string.
//
// This is the algorithm used to create idiomatic REST routes
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "s") {
		return singular + "es"
	}
	return singular + "s"
}

// CapitalWord converts a snake_case identifier to a CapitalWord,
// the naming convention for graph vertex labels. Example: "stock_entry"
// becomes "StockEntry".
func CapitalWord(snake string) string {
	parts := strings.Split(snake, "_")
	for i, s := range parts {
		if len(s) == 0 {
			continue
		}
		parts[i] = strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	}
	return strings.Join(parts, "")
}

// PropertyNameToCanonicalHeader converts un0 JSON property names
// to their canonical header representation. Example: "content_type"
// becomes "Content-Type".
func PropertyNameToCanonicalHeader(property string) string {
	parts := strings.Split(property, "_")
	for i := 0; i < len(parts); i++ {
		s := parts[i]
		if len(s) == 0 {
			continue
		}
		s = strings.ToLower(s)
		runes := []rune(s)
		r := runes[0]
		if 'a' <= r && r <= 'z' {
			r += 'A' - 'a'
			runes[0] = r
		}
		parts[i] = string(runes)
	}
	return strings.Join(parts, "-")
}

// CanonicalHeaderToPropertyName converts canonical header names
// to un0 JSON property names. Example: "Content-Type"
// becomes "content_type".
func CanonicalHeaderToPropertyName(header string) string {
	return strings.ReplaceAll(strings.ToLower(header), "-", "_")
}
