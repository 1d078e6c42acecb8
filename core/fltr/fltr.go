/*Package fltr turns filter expressions into parameterized WHERE
clauses.

A filter is a tree of conditions joined with and/or/not. Each condition
names a field by its accessor, a lookup operator and the comparison
values. The permitted lookups per field follow from its value type, so
a boolean column cannot be filtered with "contains" and a json column
cannot be filtered at all.

The fields a table exposes for filtering are registered in the
un0.filterfield meta tables, which the browser client reads to render
the filter UI.
*/
package fltr

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/notorm-tech/un0/core"
)

// Field is a filterable column of a mapped table.
type Field struct {
	// Accessor is the column name, e.g. "unit_price"
	Accessor string `json:"accessor"`
	// Label is the human readable name shown in the filter UI
	Label string `json:"label"`
	// Type decides the permitted lookups
	Type core.ValueType `json:"value_type"`
}

// Include selects whether matching rows are kept or removed.
type Include string

// Match joins the parts of an expression.
type Match string

const (
	IncludeInclude Include = "include"
	IncludeExclude Include = "exclude"

	MatchAnd Match = "and"
	MatchOr  Match = "or"
	MatchNot Match = "not"
)

// Condition compares one field against one or more values.
type Condition struct {
	Accessor string      `json:"accessor"`
	Lookup   core.Lookup `json:"lookup"`
	Values   []any       `json:"values,omitempty"`
	// Include defaults to IncludeInclude when empty
	Include Include `json:"include,omitempty"`
}

// Expression is a tree of conditions. Leaves carry Conditions, inner
// nodes combine Children with Match. A MatchNot expression must have
// exactly one condition or child.
type Expression struct {
	Match      Match         `json:"match,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty"`
	Children   []*Expression `json:"children,omitempty"`
}

// Builder compiles expressions against a fixed field set. Placeholders
// start at offset+1 so the clause can be appended to a query that
// already has parameters.
type Builder struct {
	fields map[string]Field
	offset int
	args   []any
}

// NewBuilder returns a builder for the given fields.
func NewBuilder(fields []Field, offset int) *Builder {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Accessor] = f
	}
	return &Builder{fields: m, offset: offset}
}

// Build compiles the expression into a WHERE fragment and its
// arguments. The fragment comes back parenthesized and without the
// WHERE keyword.
func (b *Builder) Build(e *Expression) (string, []any, error) {
	b.args = nil
	clause, err := b.expression(e)
	if err != nil {
		return "", nil, err
	}
	return clause, b.args, nil
}

func (b *Builder) expression(e *Expression) (string, error) {
	if e == nil {
		return "", fmt.Errorf("empty filter expression")
	}
	match := e.Match
	if match == "" {
		match = MatchAnd
	}

	var parts []string
	for i := range e.Conditions {
		part, err := b.condition(&e.Conditions[i])
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	for _, child := range e.Children {
		part, err := b.expression(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("filter expression has no conditions")
	}

	switch match {
	case MatchAnd:
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case MatchOr:
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case MatchNot:
		if len(parts) != 1 {
			return "", fmt.Errorf("not-expression needs exactly one operand, got %d", len(parts))
		}
		return "(NOT " + parts[0] + ")", nil
	}
	return "", fmt.Errorf("%s is not a valid match", match)
}

func (b *Builder) condition(c *Condition) (string, error) {
	field, ok := b.fields[c.Accessor]
	if !ok {
		return "", fmt.Errorf("%s is not a filterable field", c.Accessor)
	}
	if !field.Type.HasLookup(c.Lookup) {
		return "", fmt.Errorf("lookup %s is not permitted for %s (%s)",
			c.Lookup, field.Accessor, field.Type)
	}

	switch c.Lookup {
	case core.LookupNull, core.LookupNotNull:
	default:
		if len(c.Values) == 0 {
			return "", fmt.Errorf("lookup %s needs a value for %s", c.Lookup, field.Accessor)
		}
	}

	column := pq.QuoteIdentifier(field.Accessor)
	var clause string

	switch c.Lookup {
	case core.LookupEqual:
		clause = column + " = " + b.arg(c.Values[0])
	case core.LookupNotEqual:
		clause = column + " <> " + b.arg(c.Values[0])
	case core.LookupGreaterThan:
		clause = column + " > " + b.arg(c.Values[0])
	case core.LookupGreaterThanOrEqual:
		clause = column + " >= " + b.arg(c.Values[0])
	case core.LookupLessThan:
		clause = column + " < " + b.arg(c.Values[0])
	case core.LookupLessThanOrEqual:
		clause = column + " <= " + b.arg(c.Values[0])
	case core.LookupBetween:
		if len(c.Values) != 2 {
			return "", fmt.Errorf("between needs two values for %s", field.Accessor)
		}
		clause = column + " BETWEEN " + b.arg(c.Values[0]) + " AND " + b.arg(c.Values[1])
	case core.LookupIn:
		clause = column + " = ANY(" + b.arg(pq.Array(c.Values)) + ")"
	case core.LookupNotIn:
		clause = column + " <> ALL(" + b.arg(pq.Array(c.Values)) + ")"
	case core.LookupNull:
		clause = column + " IS NULL"
	case core.LookupNotNull:
		clause = column + " IS NOT NULL"
	case core.LookupLike:
		clause = column + " LIKE " + b.arg(c.Values[0])
	case core.LookupILike:
		clause = column + " ILIKE " + b.arg(c.Values[0])
	case core.LookupNotLike:
		clause = column + " NOT LIKE " + b.arg(c.Values[0])
	case core.LookupNotILike:
		clause = column + " NOT ILIKE " + b.arg(c.Values[0])
	case core.LookupStartsWith:
		clause = column + " LIKE " + b.arg(escapePattern(c.Values[0])+"%")
	case core.LookupEndsWith:
		clause = column + " LIKE " + b.arg("%"+escapePattern(c.Values[0]))
	case core.LookupContains:
		clause = column + " ILIKE " + b.arg("%"+escapePattern(c.Values[0])+"%")
	default:
		return "", fmt.Errorf("%s is not a valid lookup", c.Lookup)
	}

	if c.Include == IncludeExclude {
		clause = "NOT (" + clause + ")"
	}
	return "(" + clause + ")", nil
}

func (b *Builder) arg(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", b.offset+len(b.args))
}

// escapePattern escapes the LIKE wildcards in a user supplied value
func escapePattern(value any) string {
	s := fmt.Sprintf("%v", value)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// ParseConstraint parses a filter query parameter of the form
// "accessor.lookup=value" into a condition. The lookup part is
// optional and defaults to equal. Values for in, not_in and between
// are comma separated.
func ParseConstraint(param string) (Condition, error) {
	key, value, found := strings.Cut(param, "=")
	if !found {
		return Condition{}, fmt.Errorf("filter %s is not of the form accessor.lookup=value", param)
	}

	accessor := key
	lookup := core.LookupEqual
	if a, l, found := strings.Cut(key, "."); found {
		accessor, lookup = a, core.Lookup(l)
	}

	c := Condition{Accessor: accessor, Lookup: lookup, Include: IncludeInclude}
	switch lookup {
	case core.LookupNull, core.LookupNotNull:
		// no values
	case core.LookupIn, core.LookupNotIn, core.LookupBetween:
		for _, v := range strings.Split(value, ",") {
			c.Values = append(c.Values, v)
		}
	default:
		c.Values = []any{value}
	}
	return c, nil
}
