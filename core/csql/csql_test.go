package csql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "''", QuoteLiteral(""))
	assert.Equal(t, "'abc'", QuoteLiteral("abc"))
	assert.Equal(t, "'o''connor'", QuoteLiteral("o'connor"))
}

func TestRole(t *testing.T) {
	db := &DB{RolePrefix: "oppi"}
	assert.Equal(t, "oppi_reader", db.Role("reader"))
	assert.Equal(t, "oppi_writer", db.Role("writer"))
	assert.Equal(t, "oppi_admin", db.Role("admin"))
}

func TestClearSchemaRefusesPublic(t *testing.T) {
	db := &DB{Schema: "public"}
	assert.Panics(t, func() { db.ClearSchema() })
}
