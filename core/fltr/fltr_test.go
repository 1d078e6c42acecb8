package fltr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorm-tech/un0/core"
)

var testFields = []Field{
	{Accessor: "name", Label: "Name", Type: core.ValueText},
	{Accessor: "unit_price", Label: "Unit Price", Type: core.ValueDecimal},
	{Accessor: "is_active", Label: "Active", Type: core.ValueBoolean},
	{Accessor: "status", Label: "Status", Type: core.ValueEnum},
	{Accessor: "notes", Label: "Notes", Type: core.ValueJSON},
}

func TestBuildSimpleCondition(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, args, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "name", Lookup: core.LookupEqual, Values: []any{"ACME"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("name" = $1))`, clause)
	assert.Equal(t, []any{"ACME"}, args)
}

func TestBuildAndOr(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, args, err := b.Build(&Expression{
		Match: MatchAnd,
		Conditions: []Condition{
			{Accessor: "is_active", Lookup: core.LookupEqual, Values: []any{true}},
		},
		Children: []*Expression{
			{
				Match: MatchOr,
				Conditions: []Condition{
					{Accessor: "unit_price", Lookup: core.LookupLessThan, Values: []any{10}},
					{Accessor: "unit_price", Lookup: core.LookupGreaterThan, Values: []any{100}},
				},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("is_active" = $1) AND (("unit_price" < $2) OR ("unit_price" > $3)))`, clause)
	assert.Len(t, args, 3)
}

func TestBuildNot(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, _, err := b.Build(&Expression{
		Match: MatchNot,
		Conditions: []Condition{
			{Accessor: "status", Lookup: core.LookupEqual, Values: []any{"closed"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(NOT ("status" = $1))`, clause)

	_, _, err = b.Build(&Expression{
		Match: MatchNot,
		Conditions: []Condition{
			{Accessor: "status", Lookup: core.LookupEqual, Values: []any{"a"}},
			{Accessor: "name", Lookup: core.LookupEqual, Values: []any{"b"}},
		},
	})
	assert.Error(t, err)
}

func TestBuildBetween(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, args, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "unit_price", Lookup: core.LookupBetween, Values: []any{1, 10}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("unit_price" BETWEEN $1 AND $2))`, clause)
	assert.Len(t, args, 2)

	_, _, err = b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "unit_price", Lookup: core.LookupBetween, Values: []any{1}},
		},
	})
	assert.Error(t, err)
}

func TestBuildIn(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, args, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "status", Lookup: core.LookupIn, Values: []any{"open", "paid"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("status" = ANY($1)))`, clause)
	assert.Len(t, args, 1)
}

func TestBuildNullNoArgs(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, args, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "status", Lookup: core.LookupNull},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("status" IS NULL))`, clause)
	assert.Empty(t, args)
}

func TestBuildPatternLookupsEscapeWildcards(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, args, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "name", Lookup: core.LookupContains, Values: []any{"50%"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("name" ILIKE $1))`, clause)
	assert.Equal(t, []any{`%50\%%`}, args)

	clause, args, err = b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "name", Lookup: core.LookupStartsWith, Values: []any{"AC_"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("name" LIKE $1))`, clause)
	assert.Equal(t, []any{`AC\_%`}, args)
}

func TestBuildExclude(t *testing.T) {
	b := NewBuilder(testFields, 0)
	clause, _, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "name", Lookup: core.LookupEqual, Values: []any{"ACME"}, Include: IncludeExclude},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `((NOT ("name" = $1)))`, clause)
}

func TestBuildOffset(t *testing.T) {
	b := NewBuilder(testFields, 4)
	clause, _, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "name", Lookup: core.LookupEqual, Values: []any{"ACME"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `(("name" = $5))`, clause)
}

func TestBuildRejectsUnknownField(t *testing.T) {
	b := NewBuilder(testFields, 0)
	_, _, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "password", Lookup: core.LookupEqual, Values: []any{"x"}},
		},
	})
	assert.ErrorContains(t, err, "not a filterable field")
}

func TestBuildRejectsForbiddenLookup(t *testing.T) {
	b := NewBuilder(testFields, 0)

	// contains is a string lookup, not a boolean one
	_, _, err := b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "is_active", Lookup: core.LookupContains, Values: []any{"t"}},
		},
	})
	assert.ErrorContains(t, err, "not permitted")

	// json columns are not filterable at all
	_, _, err = b.Build(&Expression{
		Conditions: []Condition{
			{Accessor: "notes", Lookup: core.LookupEqual, Values: []any{"{}"}},
		},
	})
	assert.ErrorContains(t, err, "not permitted")
}

func TestBuildEmptyExpression(t *testing.T) {
	b := NewBuilder(testFields, 0)
	_, _, err := b.Build(nil)
	assert.Error(t, err)
	_, _, err = b.Build(&Expression{})
	assert.Error(t, err)
}

func TestParseConstraint(t *testing.T) {
	c, err := ParseConstraint("unit_price.less_than=10")
	require.NoError(t, err)
	assert.Equal(t, "unit_price", c.Accessor)
	assert.Equal(t, core.LookupLessThan, c.Lookup)
	assert.Equal(t, []any{"10"}, c.Values)

	c, err = ParseConstraint("name=ACME")
	require.NoError(t, err)
	assert.Equal(t, core.LookupEqual, c.Lookup)
	assert.Equal(t, []any{"ACME"}, c.Values)

	c, err = ParseConstraint("status.in=open,paid")
	require.NoError(t, err)
	assert.Equal(t, []any{"open", "paid"}, c.Values)

	c, err = ParseConstraint("status.null")
	assert.Error(t, err)

	c, err = ParseConstraint("deleted_at.not_null=")
	require.NoError(t, err)
	assert.Empty(t, c.Values)
}
