/*Package csql encapsulates access to the un0 postgres database.

The database carries two schemas: the un0 meta schema with the auth,
filter and graph bookkeeping tables, and the application schema with the
mapped business tables. All statements issued on behalf of an
authenticated user run inside a transaction that first selects the
proper database role and publishes the rls_var.* session settings, so
row-level security applies to every query.
*/
package csql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/notorm-tech/un0/core/logger"
)

// MetaSchema is the schema holding the un0 bookkeeping tables
const MetaSchema = "un0"

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// DB encapsulates a standard sql.DB with the application schema and the
// role prefix of the provisioned database roles ({prefix}_reader,
// {prefix}_writer, {prefix}_admin).
type DB struct {
	*sql.DB
	Schema     string
	RolePrefix string
}

// OpenWithSchema opens the un0 postgres database with an application
// schema. The schema gets created if it does not exist yet.
func OpenWithSchema(dataSourceName, schema, rolePrefix string) (*DB, error) {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database")
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		rlog.Infoln("selected application schema:", schema)
		if _, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS ` + schema + `;`); err != nil {
			return nil, err
		}
	}
	return &DB{DB: db, Schema: schema, RolePrefix: rolePrefix}, nil
}

// Role returns the full name of one of the provisioned database roles,
// e.g. Role("reader") is "{prefix}_reader".
func (db *DB) Role(role string) string {
	return db.RolePrefix + "_" + role
}

// SessionVars are the rls_var.* settings the row-level-security
// policies read. Empty values are published as well so a transaction
// never inherits settings from a pooled connection.
type SessionVars struct {
	UserID        string
	Email         string
	TenantID      string
	IsSuperuser   bool
	IsTenantAdmin bool
}

// RLSTx begins a transaction running as the given role ("reader" or
// "writer") with the session variables applied. The caller must commit
// or roll back.
func (db *DB) RLSTx(ctx context.Context, role string, vars SessionVars) (*sql.Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	stmts := fmt.Sprintf(`SET LOCAL ROLE %s;
SELECT set_config('rls_var.user_id', %s, true);
SELECT set_config('rls_var.email', %s, true);
SELECT set_config('rls_var.tenant_id', %s, true);
SELECT set_config('rls_var.is_superuser', %s, true);
SELECT set_config('rls_var.is_tenant_admin', %s, true);`,
		db.Role(role),
		QuoteLiteral(vars.UserID),
		QuoteLiteral(vars.Email),
		QuoteLiteral(vars.TenantID),
		QuoteLiteral(strconv.FormatBool(vars.IsSuperuser)),
		QuoteLiteral(strconv.FormatBool(vars.IsTenantAdmin)),
	)
	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("cannot prepare rls transaction: %w", err)
	}
	return tx, nil
}

// ClearSchema clears all the data contained in the application schema.
// Technically this is done by dropping the schema and then recreating it.
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE SCHEMA IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear schema:", db.Schema)
	}
}

// QuoteLiteral quotes s as a postgres string literal. SET ROLE and
// set_config do not take statement parameters, so values are escaped
// by doubling embedded quotes.
func QuoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
