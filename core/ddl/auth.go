package ddl

import "fmt"

// GroupCaps limits the number of groups per tenant type. A cap of 0
// means unlimited. The caps are enforced in the database through a
// check constraint on the group table.
type GroupCaps struct {
	Enforce    bool `env:"ENFORCE_MAX_GROUPS,default=true"`
	Individual int  `env:"MAX_INDIVIDUAL_GROUPS,default=1"`
	Business   int  `env:"MAX_BUSINESS_GROUPS,default=5"`
	Corporate  int  `env:"MAX_CORPORATE_GROUPS,default=25"`
	Enterprise int  `env:"MAX_ENTERPRISE_GROUPS,default=0"`
}

// AuthTablesSQL creates the authentication and authorization tables in
// the un0 schema: tenant, group, user, role, tablepermission,
// role_tablepermission and user_group_role. The tables carry the same
// ULID primary keys as the mapped business tables, minted through
// un0.insert_related_object.
func (c Config) AuthTablesSQL() string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE TYPE un0.tenanttype AS ENUM (
    'INDIVIDUAL',
    'BUSINESS',
    'CORPORATE',
    'ENTERPRISE'
);

CREATE TABLE un0.tenant (
    id CHAR(26) PRIMARY KEY REFERENCES un0.related_object(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL UNIQUE,
    tenant_type un0.tenanttype NOT NULL DEFAULT 'INDIVIDUAL',
    is_active BOOLEAN NOT NULL DEFAULT true,
    is_deleted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    modified_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    deleted_at TIMESTAMP
);
COMMENT ON TABLE un0.tenant IS 'Application end-user tenants';

CREATE TABLE un0."group" (
    id CHAR(26) PRIMARY KEY REFERENCES un0.related_object(id) ON DELETE CASCADE,
    tenant_id CHAR(26) NOT NULL REFERENCES un0.tenant(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT true,
    is_deleted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    modified_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    deleted_at TIMESTAMP,
    CONSTRAINT uq_group_tenant_name UNIQUE (tenant_id, name)
);
CREATE INDEX ix_group_tenant_id_name ON un0."group"(tenant_id, name);
COMMENT ON TABLE un0."group" IS 'Application end-user groups';

CREATE TABLE un0."user" (
    id CHAR(26) PRIMARY KEY REFERENCES un0.related_object(id) ON DELETE CASCADE,
    email VARCHAR(255) NOT NULL UNIQUE,
    handle VARCHAR(255) NOT NULL UNIQUE,
    full_name VARCHAR(255) NOT NULL,
    tenant_id CHAR(26) REFERENCES un0.tenant(id) ON DELETE CASCADE,
    default_group_id CHAR(26) REFERENCES un0."group"(id) ON DELETE SET NULL,
    is_superuser BOOLEAN NOT NULL DEFAULT false,
    is_tenant_admin BOOLEAN NOT NULL DEFAULT false,
    is_active BOOLEAN NOT NULL DEFAULT true,
    is_deleted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    owner_id CHAR(26) REFERENCES un0."user"(id) ON DELETE CASCADE,
    modified_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    modified_by_id CHAR(26) REFERENCES un0."user"(id) ON DELETE CASCADE,
    deleted_at TIMESTAMP,
    deleted_by_id CHAR(26) REFERENCES un0."user"(id) ON DELETE CASCADE,
    CONSTRAINT ck_user_is_superuser CHECK (
        (is_superuser = false AND default_group_id IS NOT NULL) OR
        (is_superuser = true AND default_group_id IS NULL) AND
        (is_superuser = false AND is_tenant_admin = false) OR
        (is_superuser = true AND is_tenant_admin = false) OR
        (is_superuser = false AND is_tenant_admin = true)
    )
);
CREATE INDEX ix_user_email ON un0."user"(email);
CREATE INDEX ix_user_tenant_id ON un0."user"(tenant_id);
COMMENT ON TABLE un0."user" IS 'Application users';

CREATE TABLE un0.role (
    id CHAR(26) PRIMARY KEY REFERENCES un0.related_object(id) ON DELETE CASCADE,
    tenant_id CHAR(26) NOT NULL REFERENCES un0.tenant(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT true,
    is_deleted BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    modified_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
    deleted_at TIMESTAMP,
    CONSTRAINT uq_role_tenant_name UNIQUE (tenant_id, name)
);
CREATE INDEX ix_role_tenant_id_name ON un0.role(tenant_id, name);
COMMENT ON TABLE un0.role IS 'Roles enable assignment of table permissions by functionality or department to users';

CREATE TYPE un0.permission_name AS ENUM (
    'SELECT',
    'INSERT',
    'UPDATE',
    'DELETE'
);

CREATE TABLE un0.tablepermission (
    id INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    tabletype_id INT NOT NULL REFERENCES un0.tabletype(id) ON DELETE CASCADE,
    actions un0.permission_name[] NOT NULL,
    CONSTRAINT uq_tabletype_actions UNIQUE (tabletype_id, actions)
);
CREATE INDEX ix_tablepermission_tabletype_id ON un0.tablepermission(tabletype_id);
COMMENT ON TABLE un0.tablepermission IS 'Permissible action combinations per mapped table, created automatically when the table is registered';

CREATE TABLE un0.role_tablepermission (
    role_id CHAR(26) NOT NULL REFERENCES un0.role(id) ON DELETE CASCADE,
    tablepermission_id INT NOT NULL REFERENCES un0.tablepermission(id) ON DELETE CASCADE,
    PRIMARY KEY (role_id, tablepermission_id)
);
COMMENT ON TABLE un0.role_tablepermission IS 'Assigns table permissions to roles';

CREATE TABLE un0.user_group_role (
    user_id CHAR(26) NOT NULL REFERENCES un0."user"(id) ON DELETE CASCADE,
    group_id CHAR(26) NOT NULL REFERENCES un0."group"(id) ON DELETE CASCADE,
    role_id CHAR(26) NOT NULL REFERENCES un0.role(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, group_id, role_id)
);
COMMENT ON TABLE un0.user_group_role IS 'Assigned by tenant admins to grant users roles within groups';`, c.admin())
}

// CreateTablePermissionsFunctionSQL creates the trigger function that
// records the permissible action combinations whenever a table is
// registered in un0.tabletype, together with its trigger.
func (c Config) CreateTablePermissionsFunctionSQL() string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE OR REPLACE FUNCTION un0.create_tablepermissions()
RETURNS TRIGGER
LANGUAGE plpgsql
AS $$
BEGIN
    INSERT INTO un0.tablepermission(tabletype_id, actions)
        VALUES (NEW.id, ARRAY['SELECT']::un0.permission_name[]);
    INSERT INTO un0.tablepermission(tabletype_id, actions)
        VALUES (NEW.id, ARRAY['SELECT', 'INSERT']::un0.permission_name[]);
    INSERT INTO un0.tablepermission(tabletype_id, actions)
        VALUES (NEW.id, ARRAY['SELECT', 'UPDATE']::un0.permission_name[]);
    INSERT INTO un0.tablepermission(tabletype_id, actions)
        VALUES (NEW.id, ARRAY['SELECT', 'INSERT', 'UPDATE']::un0.permission_name[]);
    INSERT INTO un0.tablepermission(tabletype_id, actions)
        VALUES (NEW.id, ARRAY['SELECT', 'INSERT', 'UPDATE', 'DELETE']::un0.permission_name[]);
    RETURN NEW;
END;
$$;

CREATE OR REPLACE TRIGGER create_tablepermissions_trigger
    AFTER INSERT ON un0.tabletype
    FOR EACH ROW
    EXECUTE FUNCTION un0.create_tablepermissions();`, c.admin())
}

// CanInsertGroupFunctionSQL creates un0.can_insert_group, which checks
// the group caps for the tenant type, and the check constraint on the
// group table that enforces it. With enforcement disabled the function
// always returns true.
func (c Config) CanInsertGroupFunctionSQL(caps GroupCaps) string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE OR REPLACE FUNCTION un0.can_insert_group(tenantid CHAR(26))
    RETURNS BOOLEAN
    LANGUAGE plpgsql
AS $$
DECLARE
    group_count INT4;
    tenanttype un0.tenanttype;
BEGIN
    IF NOT %t THEN
        RETURN true;
    END IF;

    SELECT tenant_type INTO tenanttype
    FROM un0.tenant
    WHERE id = tenantid;

    SELECT COUNT(*) INTO group_count
    FROM un0."group"
    WHERE tenant_id = tenantid;

    IF tenanttype = 'INDIVIDUAL' AND
        %[3]d > 0 AND group_count >= %[3]d THEN
            RETURN false;
    END IF;
    IF tenanttype = 'BUSINESS' AND
        %[4]d > 0 AND group_count >= %[4]d THEN
            RETURN false;
    END IF;
    IF tenanttype = 'CORPORATE' AND
        %[5]d > 0 AND group_count >= %[5]d THEN
            RETURN false;
    END IF;
    IF tenanttype = 'ENTERPRISE' AND
        %[6]d > 0 AND group_count >= %[6]d THEN
            RETURN false;
    END IF;
    RETURN true;
END
$$;

ALTER TABLE un0."group" ADD CONSTRAINT ck_can_insert_group
    CHECK (un0.can_insert_group(tenant_id) = true);`,
		c.admin(), caps.Enforce, caps.Individual, caps.Business, caps.Corporate, caps.Enterprise)
}

// InsertGroupForTenantTriggerSQL creates the trigger that gives every
// new tenant a default group named after the tenant.
func (c Config) InsertGroupForTenantTriggerSQL() string {
	return fmt.Sprintf(`
SET ROLE %s;
CREATE OR REPLACE FUNCTION un0.insert_group_for_tenant()
    RETURNS TRIGGER
    LANGUAGE plpgsql
AS $$
BEGIN
    INSERT INTO un0."group"(tenant_id, name) VALUES (NEW.id, NEW.name);
    RETURN NEW;
END;
$$;

CREATE OR REPLACE TRIGGER insert_group_for_tenant_trigger
    AFTER INSERT ON un0.tenant
    FOR EACH ROW
    EXECUTE FUNCTION un0.insert_group_for_tenant();`, c.admin())
}
