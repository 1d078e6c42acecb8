/*Package ddl emits the SQL that provisions the un0 database.

The package is a collection of parameterized DDL statement templates:
database and role creation, schemas and extensions, privileges and
search paths, the token secret and ULID functions, the meta tables, the
auth tables, row-level-security policies and the trigger-maintained
graph mirror. The Provisioner executes them in the documented order.

Everything here runs at provisioning time with administrative
credentials; none of these statements take user input.
*/
package ddl

import "fmt"

// Config parameterizes all emitted statements.
type Config struct {
	// DBName is the database name and the prefix for the database roles.
	DBName string
	// Schema is the application schema with the mapped business tables.
	Schema string
	// Password is the password of the login role.
	Password string
}

// quoteIdent quotes table names that collide with reserved words so
// they can be used in identifier position.
func quoteIdent(table string) string {
	switch table {
	case "user", "group":
		return `"` + table + `"`
	}
	return table
}

// role names derived from the database name
func (c Config) base() string   { return c.DBName + "_base_role" }
func (c Config) login() string  { return c.DBName + "_login" }
func (c Config) reader() string { return c.DBName + "_reader" }
func (c Config) writer() string { return c.DBName + "_writer" }
func (c Config) admin() string  { return c.DBName + "_admin" }

// LoginRole returns the name of the login role.
func (c Config) LoginRole() string { return c.login() }

// AdminRole returns the name of the admin role.
func (c Config) AdminRole() string { return c.admin() }

// CreateRolesSQL creates the role hierarchy: a base role that all other
// roles inherit from, reader, writer and admin roles, and the login
// role that can SET ROLE to any of them. Idempotent.
func (c Config) CreateRolesSQL() string {
	return fmt.Sprintf(`
DO $$
BEGIN
    -- Create the base role with permissions that all other roles inherit
    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[1]s') THEN
        CREATE ROLE %[1]s NOINHERIT;
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[2]s') THEN
        CREATE ROLE %[2]s INHERIT IN ROLE %[1]s;
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[3]s') THEN
        CREATE ROLE %[3]s INHERIT IN ROLE %[1]s;
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[4]s') THEN
        CREATE ROLE %[4]s INHERIT IN ROLE %[1]s;
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[5]s') THEN
        CREATE ROLE %[5]s NOINHERIT LOGIN PASSWORD '%[6]s' IN ROLE %[1]s;
    END IF;

    -- Allow the login role to SET ROLE to any of the other roles
    GRANT %[2]s, %[3]s, %[4]s TO %[5]s;
END $$;`,
		c.base(), c.reader(), c.writer(), c.admin(), c.login(), c.Password)
}

// DropRolesSQL drops all roles of the application.
func (c Config) DropRolesSQL() string {
	return fmt.Sprintf(`
DROP ROLE IF EXISTS %s;
DROP ROLE IF EXISTS %s;
DROP ROLE IF EXISTS %s;
DROP ROLE IF EXISTS %s;
DROP ROLE IF EXISTS %s;`,
		c.admin(), c.writer(), c.reader(), c.login(), c.base())
}

// CreateDatabaseSQL creates the database owned by the admin role.
func (c Config) CreateDatabaseSQL() string {
	return fmt.Sprintf(`CREATE DATABASE %s WITH OWNER = %s;`, c.DBName, c.admin())
}

// DropDatabaseSQL drops the database.
func (c Config) DropDatabaseSQL() string {
	return fmt.Sprintf(`DROP DATABASE IF EXISTS %s WITH (FORCE);`, c.DBName)
}

// SchemasAndExtensionsSQL creates the un0 meta schema and the
// application schema, loads the extensions and creates the AGE graph.
func (c Config) SchemasAndExtensionsSQL() string {
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS un0 AUTHORIZATION %[1]s;
CREATE SCHEMA IF NOT EXISTS %[2]s AUTHORIZATION %[1]s;

SET search_path TO un0;
CREATE EXTENSION IF NOT EXISTS btree_gist;
CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE EXTENSION IF NOT EXISTS pgjwt;
CREATE EXTENSION IF NOT EXISTS supa_audit CASCADE;
CREATE EXTENSION IF NOT EXISTS age;

GRANT USAGE ON SCHEMA ag_catalog TO %[1]s, %[3]s, %[4]s;
ALTER SCHEMA ag_catalog OWNER TO %[1]s;
SELECT * FROM ag_catalog.create_graph('graph');
ALTER TABLE ag_catalog.ag_graph OWNER TO %[1]s;
ALTER TABLE ag_catalog.ag_label OWNER TO %[1]s;
ALTER TABLE graph._ag_label_edge OWNER TO %[1]s;
ALTER TABLE graph._ag_label_vertex OWNER TO %[1]s;
ALTER SEQUENCE graph._ag_label_edge_id_seq OWNER TO %[1]s;
ALTER SEQUENCE graph._ag_label_vertex_id_seq OWNER TO %[1]s;
ALTER SEQUENCE graph._label_id_seq OWNER TO %[1]s;`,
		c.admin(), c.Schema, c.reader(), c.writer())
}

// PrivilegesAndSearchPathSQL revokes the default privileges, sets the
// search paths for all roles and grants schema usage.
func (c Config) PrivilegesAndSearchPathSQL() string {
	revoke := fmt.Sprintf(`
REVOKE ALL ON SCHEMA un0, audit, graph, ag_catalog, %[1]s FROM
    public, %[2]s, %[3]s, %[4]s, %[5]s, %[6]s;
REVOKE ALL ON ALL TABLES IN SCHEMA un0, audit, graph, ag_catalog, %[1]s FROM
    public, %[2]s, %[3]s, %[4]s, %[5]s, %[6]s;
REVOKE CONNECT ON DATABASE %[7]s FROM public, %[2]s, %[4]s, %[5]s, %[6]s;`,
		c.Schema, c.base(), c.login(), c.reader(), c.writer(), c.admin(), c.DBName)

	paths := ""
	for _, role := range []string{c.base(), c.login(), c.reader(), c.writer(), c.admin()} {
		paths += fmt.Sprintf(`
ALTER ROLE %s SET search_path TO ag_catalog, un0, audit, graph, %s;`, role, c.Schema)
	}

	grants := fmt.Sprintf(`
ALTER SCHEMA audit OWNER TO %[1]s;
ALTER SCHEMA un0 OWNER TO %[1]s;
ALTER SCHEMA graph OWNER TO %[1]s;
ALTER SCHEMA %[2]s OWNER TO %[1]s;
ALTER TABLE audit.record_version OWNER TO %[1]s;

GRANT CONNECT ON DATABASE %[3]s TO %[4]s;
GRANT USAGE ON SCHEMA un0, audit, graph, ag_catalog, %[2]s TO %[4]s, %[1]s, %[5]s, %[6]s;
GRANT CREATE ON SCHEMA un0, audit, graph, %[2]s TO %[1]s;
GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA un0, audit, graph, ag_catalog, %[2]s TO %[4]s, %[1]s, %[5]s, %[6]s;

GRANT %[1]s TO %[4]s WITH INHERIT FALSE, SET TRUE;
GRANT %[6]s TO %[4]s WITH INHERIT FALSE, SET TRUE;
GRANT %[5]s TO %[4]s WITH INHERIT FALSE, SET TRUE;`,
		c.admin(), c.Schema, c.DBName, c.login(), c.reader(), c.writer())

	return revoke + "\n" + paths + "\n" + grants
}

// TablePrivilegesSQL grants the table-level privileges after all tables
// have been created.
func (c Config) TablePrivilegesSQL() string {
	return fmt.Sprintf(`
SET ROLE %[1]s;
GRANT SELECT ON ALL TABLES IN SCHEMA un0, audit, graph, ag_catalog, %[2]s TO %[3]s, %[4]s;
GRANT SELECT, INSERT, UPDATE, DELETE, TRUNCATE, TRIGGER ON ALL TABLES IN SCHEMA un0, audit, graph, %[2]s TO %[4]s, %[1]s;
REVOKE UPDATE (id) ON un0."user" FROM %[3]s, %[4]s;
GRANT ALL ON ALL TABLES IN SCHEMA audit, graph, ag_catalog TO %[1]s;`,
		c.admin(), c.Schema, c.reader(), c.writer())
}

// TokenSecretSQL creates the single-row token secret table. The trigger
// deletes the previous secret before a new one is inserted, so there is
// only ever one secret. The secret lives in the database and nowhere
// else.
func (c Config) TokenSecretSQL() string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE TABLE un0.token_secret (
    secret TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION un0.set_token_secret()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
    DELETE FROM un0.token_secret;
    RETURN NEW;
END;
$$;

CREATE TRIGGER set_token_secret_trigger
BEFORE INSERT ON un0.token_secret
FOR EACH ROW
EXECUTE FUNCTION un0.set_token_secret();`, c.admin())
}

// CreateTriggerSQL emits a trigger on schema.table calling the given
// trigger function.
func CreateTriggerSQL(schema, table, function, timing, operation string) string {
	return fmt.Sprintf(`
CREATE OR REPLACE TRIGGER %[2]s_%[3]s_trigger
    %[4]s %[5]s
    ON %[1]s.%[6]s
    FOR EACH ROW
    EXECUTE FUNCTION un0.%[3]s();`,
		schema, table, function, timing, operation, quoteIdent(table))
}

// AlterGrantSQL configures ownership and privileges of a single table.
func (c Config) AlterGrantSQL(schema, table string) string {
	return fmt.Sprintf(`
SET ROLE %[1]s;
ALTER TABLE %[2]s.%[3]s OWNER TO %[1]s;
GRANT SELECT ON %[2]s.%[3]s TO %[4]s, %[5]s;
GRANT INSERT, UPDATE, DELETE ON %[2]s.%[3]s TO %[5]s;`,
		c.admin(), schema, quoteIdent(table), c.reader(), c.writer())
}
