package backend

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorm-tech/un0/core"
)

func TestValidID(t *testing.T) {
	assert.True(t, validID.MatchString("01JD5W9VXCJ3M0F7YB4N2QRTKZ"))
	assert.False(t, validID.MatchString("01jd5w9vxcj3m0f7yb4n2qrtkz")) // lowercase
	assert.False(t, validID.MatchString("01JD5W9VXCJ3M0F7YB4N2QRTKI")) // I is excluded
	assert.False(t, validID.MatchString("01JD5W9VXCJ3M0F7YB4N2QRTK"))  // too short
	assert.False(t, validID.MatchString(""))
}

func TestColumnDefs(t *testing.T) {
	config := parseConfiguration(t, ledgerConfiguration)
	r := &resource{ResourceConfiguration: config.Resources[1]}

	defs := r.columnDefs(false)
	require.Equal(t, 1+3+len(systemColumns), len(defs))
	assert.Equal(t, "id", defs[0].name)
	assert.Equal(t, "order_no", defs[1].name)
	assert.Equal(t, "customer_id", defs[3].name)

	metaDefs := r.columnDefs(true)
	assert.Equal(t, 1+len(systemColumns), len(metaDefs))
}

func TestScanDestinations(t *testing.T) {
	defs := []columnDef{
		{"id", core.ValueRelated},
		{"total", core.ValueDecimal},
		{"count", core.ValueInteger},
		{"is_paid", core.ValueBoolean},
		{"details", core.ValueJSON},
	}
	values, object := scanDestinations(defs)
	require.Len(t, values, len(defs))

	*values[0].(*sql.NullString) = sql.NullString{String: "01JD5W9VXCJ3M0F7YB4N2QRTKZ", Valid: true}
	*values[1].(*sql.NullFloat64) = sql.NullFloat64{Float64: 19.5, Valid: true}
	*values[2].(*sql.NullInt64) = sql.NullInt64{}
	*values[3].(*sql.NullBool) = sql.NullBool{Bool: true, Valid: true}
	*values[4].(*[]byte) = []byte(`{"note":"x"}`)

	obj := object()
	assert.Equal(t, "01JD5W9VXCJ3M0F7YB4N2QRTKZ", obj["id"])
	assert.Equal(t, 19.5, obj["total"])
	assert.Nil(t, obj["count"])
	assert.Equal(t, true, obj["is_paid"])
	assert.NotNil(t, obj["details"])
}

func TestInsertValue(t *testing.T) {
	assert.Equal(t, "hello", insertValue("hello"))
	assert.Equal(t, 42.0, insertValue(42.0))
	assert.Equal(t, `{"a":1}`, insertValue(map[string]any{"a": 1}))
	assert.Equal(t, `[1,2]`, insertValue([]any{1, 2}))
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", nullable("x"))
}

func TestEventRequestKey(t *testing.T) {
	assert.Equal(t, "insert customer", eventRequestKey("customer", core.OperationInsert))
}
